package positioning

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// iqrFence IQR 栅栏系数
const iqrFence = 1.5

// iqrMinSamples 样本数达到该值时使用 IQR，否则使用 σ 截断
const iqrMinSamples = 4

// Sample 单个 (subject, anchor) 在窗口内的一次测量
type Sample struct {
	Distance float64
	RSSI     float64
}

// FilteredReading 剔除离群值后的聚合结果
type FilteredReading struct {
	Distance float64
	RSSI     float64
	Count    int  // 保留的样本数
	Fallback bool // 全部被剔除时退化为中位数
}

// FilterAnchorSamples 剔除离群值并返回保留样本的平均距离和平均 RSSI
//
// n < 4 时以中位数为中心做 k·σ 截断（样本标准差），n ≥ 4 时使用 1.5·IQR 栅栏。
// samples 不能为空。
func FilterAnchorSamples(samples []Sample, sigmaK float64) FilteredReading {
	n := len(samples)
	distances := make([]float64, n)
	rssis := make([]float64, n)
	for i, s := range samples {
		distances[i] = s.Distance
		rssis[i] = s.RSSI
	}

	keep := make([]bool, n)
	if n < iqrMinSamples {
		sigmaClip(distances, sigmaK, keep)
	} else {
		iqrClip(distances, keep)
	}

	var keptD, keptR []float64
	for i := range samples {
		if keep[i] {
			keptD = append(keptD, distances[i])
			keptR = append(keptR, rssis[i])
		}
	}

	if len(keptD) == 0 {
		return FilteredReading{
			Distance: median(distances),
			RSSI:     median(rssis),
			Count:    1,
			Fallback: true,
		}
	}

	return FilteredReading{
		Distance: stat.Mean(keptD, nil),
		RSSI:     stat.Mean(keptR, nil),
		Count:    len(keptD),
	}
}

func sigmaClip(distances []float64, k float64, keep []bool) {
	n := len(distances)
	if n == 1 {
		keep[0] = true
		return
	}

	sigma := stat.StdDev(distances, nil)
	if sigma == 0 || math.IsNaN(sigma) {
		for i := range keep {
			keep[i] = true
		}
		return
	}

	med := median(distances)
	limit := k * sigma
	for i, d := range distances {
		keep[i] = math.Abs(d-med) <= limit
	}
}

func iqrClip(distances []float64, keep []bool) {
	sorted := make([]float64, len(distances))
	copy(sorted, distances)
	sort.Float64s(sorted)

	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	lower := q1 - iqrFence*iqr
	upper := q3 + iqrFence*iqr

	for i, d := range distances {
		keep[i] = d >= lower && d <= upper
	}
}

// median 不修改入参
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return floats.Sum(sorted[n/2-1:n/2+1]) / 2
}
