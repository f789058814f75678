package positioning

import (
	"math"

	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/models"
)

// TierName 信号质量档位
type TierName string

const (
	TierExcellent TierName = "excellent"
	TierGood      TierName = "good"
	TierWeak      TierName = "weak"
)

// SmoothingResult 平滑结果
//
// Accepted 为 false 时 State 保持为上一状态，不应写入存储。
type SmoothingResult struct {
	Accepted     bool
	State        models.SubjectPositionState
	Tier         TierName
	Displacement float64
}

// Smoother 自适应时间平滑 + 位移门限
type Smoother struct {
	zone       config.ZoneBounds
	tiers      config.TierConfig
	kalmanGain float64
}

// NewSmoother 创建平滑器
func NewSmoother(zone config.ZoneBounds, cal config.CalibrationConfig) *Smoother {
	return &Smoother{
		zone:       zone,
		tiers:      cal.Tiers,
		kalmanGain: cal.KalmanGain,
	}
}

// Classify 按平均 RSSI 选档
func (s *Smoother) Classify(avgRSSI float64) (TierName, config.Tier) {
	switch {
	case avgRSSI > s.tiers.Excellent.MinRSSI:
		return TierExcellent, s.tiers.Excellent
	case avgRSSI > s.tiers.Good.MinRSSI:
		return TierGood, s.tiers.Good
	default:
		return TierWeak, s.tiers.Weak
	}
}

// Apply 将新估计与上一位置融合
func (s *Smoother) Apply(est models.PositionEstimate, prev models.SubjectPositionState, avgRSSI float64) SmoothingResult {
	name, tier := s.Classify(avgRSSI)

	px, py, ok := prev.XY()
	if !ok {
		// 首次定位直接接受
		x, y := s.zone.Clamp(est.X, est.Y)
		return SmoothingResult{
			Accepted: true,
			State:    models.NewSubjectPositionState(est.SubjectID, x, y, est.SolvedAt),
			Tier:     name,
		}
	}

	// 固定增益预滤波，kalmanGain 为 0 时直接使用新估计
	cx, cy := est.X, est.Y
	if s.kalmanGain > 0 {
		cx = px + s.kalmanGain*(est.X-px)
		cy = py + s.kalmanGain*(est.Y-py)
	}

	sx := tier.Gain*cx + (1-tier.Gain)*px
	sy := tier.Gain*cy + (1-tier.Gain)*py
	sx, sy = s.zone.Clamp(sx, sy)

	displacement := math.Hypot(sx-px, sy-py)
	if displacement < tier.MovementThreshold {
		return SmoothingResult{
			Accepted:     false,
			State:        prev,
			Tier:         name,
			Displacement: displacement,
		}
	}

	return SmoothingResult{
		Accepted:     true,
		State:        models.NewSubjectPositionState(est.SubjectID, sx, sy, est.SolvedAt),
		Tier:         name,
		Displacement: displacement,
	}
}
