package config

import (
	"fmt"
	"math"
	"time"
)

// ZoneBounds 监测区域尺寸（米），合法位置满足 0 ≤ x ≤ Width, 0 ≤ y ≤ Height
type ZoneBounds struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Contains 点是否在区域内（含边界）
func (z ZoneBounds) Contains(x, y float64) bool {
	return x >= 0 && x <= z.Width && y >= 0 && y <= z.Height
}

// Clamp 将点截断到区域内
func (z ZoneBounds) Clamp(x, y float64) (float64, float64) {
	return math.Min(math.Max(x, 0), z.Width), math.Min(math.Max(y, 0), z.Height)
}

// Tier 信号质量档位对应的平滑参数
type Tier struct {
	MinRSSI           float64 `yaml:"min_rssi"`           // 平均 RSSI 严格大于该值才进入此档（weak 档忽略）
	Gain              float64 `yaml:"gain"`               // 混合增益 α
	MovementThreshold float64 `yaml:"movement_threshold"` // 最小位移 τ（米）
}

// TierConfig excellent / good / weak 三档
type TierConfig struct {
	Excellent Tier `yaml:"excellent"`
	Good      Tier `yaml:"good"`
	Weak      Tier `yaml:"weak"`
}

// WeightConfig 最小二乘权重的 sigmoid 参数
//
// w = 1 / (1 + exp(-(rssi - Midpoint) / Scale))
type WeightConfig struct {
	Midpoint float64 `yaml:"midpoint"`
	Scale    float64 `yaml:"scale"`
}

// CalibrationConfig 路径损耗模型与平滑参数
type CalibrationConfig struct {
	TxPowerAt1m      float64      `yaml:"tx_power_at_1m"`
	PathLossExponent float64      `yaml:"path_loss_exponent"`
	RSSIMin          int32        `yaml:"rssi_min"`
	RSSIMax          int32        `yaml:"rssi_max"`
	MaxDistance      float64      `yaml:"max_distance"`
	SigmaK           float64      `yaml:"sigma_k"`
	Weight           WeightConfig `yaml:"weight"`
	Tiers            TierConfig   `yaml:"tiers"`
	KalmanGain       float64      `yaml:"kalman_gain"` // 0 表示关闭固定增益预滤波
}

// SolverConfig 非线性最小二乘求解参数
type SolverConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	MaxAnchors    int     `yaml:"max_anchors"` // 0 表示不限制
	Tolerance     float64 `yaml:"tolerance"`
}

// CacheConfig 进程内位置缓存
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// NamedZone 平面图上的命名区域（SAFE / WARNING / FORBIDDEN）
type NamedZone struct {
	Name string  `yaml:"name"`
	Type string  `yaml:"type"`
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// PositioningConfig 定位流水线配置（一个部署 profile）
type PositioningConfig struct {
	Profile     string            `yaml:"profile"`
	Zone        ZoneBounds        `yaml:"zone"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Solver      SolverConfig      `yaml:"solver"`
	Window      time.Duration     `yaml:"window"`
	Cache       CacheConfig       `yaml:"cache"`
	Zones       []NamedZone       `yaml:"zones"`
}

// DefaultPositioning 默认 profile：1×1 米区域
func DefaultPositioning() PositioningConfig {
	return PositioningConfig{
		Profile: "default-1x1",
		Zone:    ZoneBounds{Width: 1, Height: 1},
		Calibration: CalibrationConfig{
			TxPowerAt1m:      -59,
			PathLossExponent: 2.0,
			RSSIMin:          -100,
			RSSIMax:          -30,
			MaxDistance:      5,
			SigmaK:           1.5,
			Weight:           WeightConfig{Midpoint: -70, Scale: 5},
			Tiers: TierConfig{
				Excellent: Tier{MinRSSI: -60, Gain: 0.6, MovementThreshold: 0.02},
				Good:      Tier{MinRSSI: -70, Gain: 0.4, MovementThreshold: 0.04},
				Weak:      Tier{Gain: 0.25, MovementThreshold: 0.08},
			},
		},
		Solver: SolverConfig{
			MaxIterations: 50,
			Tolerance:     1e-9,
		},
		Window: 3 * time.Second,
		Cache: CacheConfig{
			Capacity: 32,
			TTL:      2500 * time.Millisecond,
		},
	}
}

// Validate 校验 profile 的一致性
func (p PositioningConfig) Validate() error {
	if p.Zone.Width <= 0 || p.Zone.Height <= 0 {
		return fmt.Errorf("zone dimensions must be positive, got %gx%g", p.Zone.Width, p.Zone.Height)
	}

	c := p.Calibration
	if c.PathLossExponent <= 0 {
		return fmt.Errorf("path loss exponent must be positive, got %g", c.PathLossExponent)
	}
	if c.RSSIMin >= c.RSSIMax {
		return fmt.Errorf("rssi_min (%d) must be lower than rssi_max (%d)", c.RSSIMin, c.RSSIMax)
	}
	if c.MaxDistance <= 0 {
		return fmt.Errorf("max distance must be positive, got %g", c.MaxDistance)
	}
	if c.SigmaK <= 0 {
		return fmt.Errorf("sigma_k must be positive, got %g", c.SigmaK)
	}
	if c.Weight.Scale <= 0 {
		return fmt.Errorf("weight scale must be positive, got %g", c.Weight.Scale)
	}
	if c.KalmanGain < 0 || c.KalmanGain > 1 {
		return fmt.Errorf("kalman_gain must be within [0, 1], got %g", c.KalmanGain)
	}

	t := c.Tiers
	for name, tier := range map[string]Tier{"excellent": t.Excellent, "good": t.Good, "weak": t.Weak} {
		if tier.Gain <= 0 || tier.Gain > 1 {
			return fmt.Errorf("tier %s: gain must be within (0, 1], got %g", name, tier.Gain)
		}
		if tier.MovementThreshold <= 0 {
			return fmt.Errorf("tier %s: movement threshold must be positive, got %g", name, tier.MovementThreshold)
		}
	}
	if t.Excellent.MinRSSI <= t.Good.MinRSSI {
		return fmt.Errorf("excellent min_rssi (%g) must be above good min_rssi (%g)", t.Excellent.MinRSSI, t.Good.MinRSSI)
	}
	if t.Excellent.Gain < t.Good.Gain || t.Good.Gain < t.Weak.Gain {
		return fmt.Errorf("tier gains must not increase as signal quality drops")
	}
	if t.Excellent.MovementThreshold > t.Good.MovementThreshold || t.Good.MovementThreshold > t.Weak.MovementThreshold {
		return fmt.Errorf("tier movement thresholds must not decrease as signal quality drops")
	}

	if p.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver max_iterations must be positive, got %d", p.Solver.MaxIterations)
	}
	if p.Solver.MaxAnchors != 0 && p.Solver.MaxAnchors < 3 {
		return fmt.Errorf("solver max_anchors must be 0 or at least 3, got %d", p.Solver.MaxAnchors)
	}
	if p.Window <= 0 {
		return fmt.Errorf("measurement window must be positive, got %s", p.Window)
	}
	if p.Cache.Capacity <= 0 || p.Cache.TTL <= 0 {
		return fmt.Errorf("cache capacity and ttl must be positive")
	}

	for _, z := range p.Zones {
		if z.MinX >= z.MaxX || z.MinY >= z.MaxY {
			return fmt.Errorf("zone %q has an empty rectangle", z.Name)
		}
	}

	return nil
}
