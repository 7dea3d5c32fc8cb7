package backtest

import (
	"math"
	"sort"
)

// RiskMetrics 尾部风险指标（百分比，正数表示损失）
type RiskMetrics struct {
	VaR95  float64 `json:"var_95"`  // 95% 置信度的风险价值
	VaR99  float64 `json:"var_99"`  // 99% 置信度的风险价值
	CVaR95 float64 `json:"cvar_95"` // 95% 置信度的条件风险价值
	CVaR99 float64 `json:"cvar_99"` // 99% 置信度的条件风险价值
}

// CalculateRiskMetrics 用历史模拟法计算 VaR/CVaR
func CalculateRiskMetrics(returns []float64) RiskMetrics {
	if len(returns) < 2 {
		return RiskMetrics{}
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	return RiskMetrics{
		VaR95:  RoundRatio(historicalVaR(sorted, 0.95) * 100),
		VaR99:  RoundRatio(historicalVaR(sorted, 0.99) * 100),
		CVaR95: RoundRatio(conditionalVaR(sorted, 0.95) * 100),
		CVaR99: RoundRatio(conditionalVaR(sorted, 0.99) * 100),
	}
}

// tailIndex 置信度对应的分位下标
func tailIndex(n int, confidence float64) int {
	index := int(float64(n) * (1 - confidence))
	if index >= n {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

// historicalVaR sorted 必须升序
func historicalVaR(sorted []float64, confidence float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	v := sorted[tailIndex(len(sorted), confidence)]
	if v > 0 {
		return 0
	}
	return math.Abs(v)
}

// conditionalVaR 超过 VaR 阈值部分的平均损失（Expected Shortfall）
func conditionalVaR(sorted []float64, confidence float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := tailIndex(len(sorted), confidence)
	sum := 0.0
	for i := 0; i <= index; i++ {
		sum += sorted[i]
	}
	avg := sum / float64(index+1)
	if avg > 0 {
		return 0
	}
	return math.Abs(avg)
}
