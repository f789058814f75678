package positioning

import (
	"math"

	"wisefido-badge-locator/internal/config"
)

// DistanceEstimator 对数距离路径损耗模型：RSSI → 距离（米）
//
// 构造时对 [RSSIMin, RSSIMax] 内每个整数 RSSI 预先计算距离，Estimate 只做查表。
type DistanceEstimator struct {
	rssiMin int32
	rssiMax int32
	table   []float64
}

// NewDistanceEstimator 创建距离估计器
func NewDistanceEstimator(cal config.CalibrationConfig) *DistanceEstimator {
	e := &DistanceEstimator{
		rssiMin: cal.RSSIMin,
		rssiMax: cal.RSSIMax,
		table:   make([]float64, cal.RSSIMax-cal.RSSIMin+1),
	}
	for i := range e.table {
		rssi := float64(cal.RSSIMin) + float64(i)
		d := math.Pow(10, (cal.TxPowerAt1m-rssi)/(10*cal.PathLossExponent))
		e.table[i] = math.Min(d, cal.MaxDistance)
	}
	return e
}

// Estimate 估算距离；rssi 为 0（传感器故障）时返回 -1
func (e *DistanceEstimator) Estimate(rssi int32) float64 {
	if rssi == 0 {
		return -1
	}
	if rssi < e.rssiMin {
		rssi = e.rssiMin
	} else if rssi > e.rssiMax {
		rssi = e.rssiMax
	}
	return e.table[rssi-e.rssiMin]
}
