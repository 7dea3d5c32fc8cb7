// Package indicators 内置策略使用的技术指标
package indicators

import (
	"math"
)

// SMA 简单移动平均，结果长度为 len(values)-period+1
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	// 滑动计算后续 SMA
	for i := period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result[i-period+1] = sum / float64(period)
	}
	return result
}

// EMA 指数移动平均，首个值使用 SMA 作为种子
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	multiplier := 2.0 / (float64(period) + 1.0)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	for i := period; i < len(values); i++ {
		prev := result[i-period]
		result[i-period+1] = values[i]*multiplier + prev*(1-multiplier)
	}
	return result
}

// StdDev 滚动总体标准差
func StdDev(values []float64, period int) []float64 {
	means := SMA(values, period)
	if means == nil {
		return nil
	}

	result := make([]float64, len(means))
	for i := range means {
		variance := 0.0
		for j := i; j < i+period; j++ {
			diff := values[j] - means[i]
			variance += diff * diff
		}
		result[i] = math.Sqrt(variance / float64(period))
	}
	return result
}

// Last 序列最后一个值，空序列返回 0 和 false
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// CrossOver line1 在最后一根上穿 line2
func CrossOver(line1, line2 []float64) bool {
	n1, n2 := len(line1), len(line2)
	if n1 < 2 || n2 < 2 {
		return false
	}
	return line1[n1-2] <= line2[n2-2] && line1[n1-1] > line2[n2-1]
}

// CrossUnder line1 在最后一根下穿 line2
func CrossUnder(line1, line2 []float64) bool {
	n1, n2 := len(line1), len(line2)
	if n1 < 2 || n2 < 2 {
		return false
	}
	return line1[n1-2] >= line2[n2-2] && line1[n1-1] < line2[n2-1]
}

// TrueRange 真实波幅
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}
