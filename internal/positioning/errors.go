package positioning

import "errors"

var (
	// ErrInsufficientAnchors 有效基站少于 3 个，无法定位
	ErrInsufficientAnchors = errors.New("insufficient anchors")
	// ErrDegenerateGeometry 基站共线或重合，几何解不存在
	ErrDegenerateGeometry = errors.New("degenerate anchor geometry")
	// ErrSolverDivergence 最小二乘未收敛或出现非有限值
	ErrSolverDivergence = errors.New("solver diverged")
	// ErrInvalidReading RSSI 为 0 或超出物理范围
	ErrInvalidReading = errors.New("invalid rssi reading")
	// ErrUnknownSubject 工牌无法映射到 subject
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrStaleEstimate 估计时间早于已保存的位置
	ErrStaleEstimate = errors.New("stale estimate")
)

// 物理 RSSI 范围（dBm）
const (
	minPhysicalRSSI = -127
	maxPhysicalRSSI = 0
)

// ValidateRSSI 检查单条读数是否可用
func ValidateRSSI(rssi int32) error {
	if rssi == 0 || rssi > maxPhysicalRSSI || rssi < minPhysicalRSSI {
		return ErrInvalidReading
	}
	return nil
}
