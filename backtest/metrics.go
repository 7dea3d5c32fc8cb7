package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// SentinelRatio 分母为 0 且结果“无穷好”时使用的有限哨兵值
	SentinelRatio = 999.0

	// DefaultRiskFreeRate 默认年化无风险利率
	DefaultRiskFreeRate = 0.02

	// TradingDaysPerYear 年化换算使用的交易日数
	TradingDaysPerYear = 252

	ratioPlaces    = 4 // 比率类保留 4 位
	currencyPlaces = 2 // 金额类保留 2 位
)

// RoundRatio 四舍五入到 4 位小数
func RoundRatio(v float64) float64 {
	return roundHalfUp(v, ratioPlaces)
}

// RoundCurrency 四舍五入到 2 位小数
func RoundCurrency(v float64) float64 {
	return roundHalfUp(v, currencyPlaces)
}

func roundHalfUp(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// DailyRiskFree 年化无风险利率换算为日利率
func DailyRiskFree(annual float64) float64 {
	return annual / TradingDaysPerYear
}

// SharpeRatio 夏普比率 (mean - rf_daily) / stdev
// 少于 2 个样本或标准差为 0 时返回 0
func SharpeRatio(returns []float64, annualRiskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := sampleStdDev(returns)
	if sd == 0 {
		return 0
	}
	return RoundRatio((mean(returns) - DailyRiskFree(annualRiskFree)) / sd)
}

// SortinoRatio 索提诺比率
// 分母为全部样本上 min(r-mean, 0) 的标准差；没有负收益时返回 SentinelRatio
func SortinoRatio(returns []float64, annualRiskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	hasNegative := false
	for _, r := range returns {
		if r < 0 {
			hasNegative = true
			break
		}
	}
	if !hasNegative {
		return SentinelRatio
	}

	m := mean(returns)
	downside := make([]float64, len(returns))
	for i, r := range returns {
		downside[i] = math.Min(r-m, 0)
	}
	sd := sampleStdDev(downside)
	if sd == 0 {
		return 0
	}
	return RoundRatio((m - DailyRiskFree(annualRiskFree)) / sd)
}

// AnnualizedReturn 总收益率按自然日年化（线性）
func AnnualizedReturn(totalReturn float64, periodDays float64) float64 {
	if periodDays <= 0 {
		return 0
	}
	return totalReturn * 365 / periodDays
}

// CalmarRatio 年化收益率 / 最大回撤百分比，回撤 <= 0 时返回 0
func CalmarRatio(totalReturn float64, periodDays float64, maxDrawdown float64) float64 {
	if maxDrawdown <= 0 || periodDays <= 0 {
		return 0
	}
	return RoundRatio(AnnualizedReturn(totalReturn, periodDays) / maxDrawdown)
}

// ProfitFactor 总盈利 / |总亏损|
// 没有亏损时：有盈利返回 SentinelRatio，否则返回 0
func ProfitFactor(pnls []decimal.Decimal) float64 {
	grossProfit, grossLoss := GrossProfitLoss(pnls)
	if grossLoss.IsZero() {
		if grossProfit.IsPositive() {
			return SentinelRatio
		}
		return 0
	}
	return RoundRatio(grossProfit.Div(grossLoss).InexactFloat64())
}

// GrossProfitLoss 总盈利与总亏损（亏损取绝对值）
func GrossProfitLoss(pnls []decimal.Decimal) (profit, loss decimal.Decimal) {
	profit, loss = decimal.Zero, decimal.Zero
	for _, p := range pnls {
		if p.IsPositive() {
			profit = profit.Add(p)
		} else if p.IsNegative() {
			loss = loss.Add(p.Abs())
		}
	}
	return profit, loss
}

// RecoveryFactor 总收益率 / 最大回撤，回撤 <= 0 时返回 0
func RecoveryFactor(totalReturn float64, maxDrawdown float64) float64 {
	if maxDrawdown <= 0 {
		return 0
	}
	return RoundRatio(totalReturn / maxDrawdown)
}

// WinRate 胜率 (%)
func WinRate(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.IsWin() {
			wins++
		}
	}
	return RoundCurrency(float64(wins) / float64(len(trades)) * 100)
}

// Returns 由权益序列计算逐期收益率，前值 <= 0 的区间记为 0
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return []float64{}
	}
	out := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			out[i-1] = (equity[i] - equity[i-1]) / equity[i-1]
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev 样本标准差（n-1）
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	sd := math.Sqrt(variance / float64(len(values)-1))
	// 浮点误差导致的极小标准差视为 0
	if sd < 1e-12 {
		return 0
	}
	return sd
}
