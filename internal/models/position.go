package models

import "time"

// Measurement 单条 RSSI 测量（入库后不可变）
type Measurement struct {
	SubjectID  string    `json:"subject_id"`
	AnchorID   string    `json:"anchor_id"`
	AnchorX    float64   `json:"anchor_x"`
	AnchorY    float64   `json:"anchor_y"`
	RSSI       int32     `json:"rssi"`
	ObservedAt time.Time `json:"observed_at"`
}

// AnchorReading 某个 subject 在一个计算周期内，单个基站过滤、平均后的读数
type AnchorReading struct {
	AnchorID string  `json:"anchor_id"`
	AnchorX  float64 `json:"anchor_x"`
	AnchorY  float64 `json:"anchor_y"`
	Distance float64 `json:"distance"`
	AvgRSSI  float64 `json:"avg_rssi"`
	Samples  int     `json:"samples"`
}

// SolveMethod 求解路径
type SolveMethod string

const (
	MethodLeastSquares SolveMethod = "least_squares"
	MethodGeometric    SolveMethod = "geometric"
	MethodCentroid     SolveMethod = "centroid"
)

// PositionEstimate 求解器原始输出（平滑前）
type PositionEstimate struct {
	SubjectID string      `json:"subject_id"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	SolvedAt  time.Time   `json:"solved_at"`
	Method    SolveMethod `json:"method"`
}

// SubjectPositionState 持久化的 subject 位置状态
//
// LastX / LastY 要么同时存在，要么同时为空。
type SubjectPositionState struct {
	SubjectID  string    `json:"subject_id"`
	LastX      *float64  `json:"last_x,omitempty"`
	LastY      *float64  `json:"last_y,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// NewSubjectPositionState 构建带位置的状态
func NewSubjectPositionState(subjectID string, x, y float64, at time.Time) SubjectPositionState {
	return SubjectPositionState{
		SubjectID:  subjectID,
		LastX:      &x,
		LastY:      &y,
		LastSeenAt: at,
	}
}

// HasPosition 是否有完整的上一位置
func (s SubjectPositionState) HasPosition() bool {
	return s.LastX != nil && s.LastY != nil
}

// XY 返回上一位置；无位置时 ok=false
func (s SubjectPositionState) XY() (x, y float64, ok bool) {
	if !s.HasPosition() {
		return 0, 0, false
	}
	return *s.LastX, *s.LastY, true
}
