package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxDrawdown 单次前向遍历求最大回撤百分比及其峰值/谷底下标
// 回撤相同时保留最早出现的一组；峰值 <= 0 的点回撤记为 0，权益为负时封顶 100
func MaxDrawdown(equity []float64) (percent float64, peakIdx, troughIdx int) {
	if len(equity) == 0 {
		return 0, 0, 0
	}

	runPeak, runPeakIdx := equity[0], 0
	for i, e := range equity {
		if e > runPeak {
			runPeak, runPeakIdx = e, i
		}
		dd := 0.0
		if runPeak > 0 {
			dd = math.Min((runPeak-e)/runPeak*100, 100)
		}
		if dd > percent {
			percent, peakIdx, troughIdx = dd, runPeakIdx, i
		}
	}
	return percent, peakIdx, troughIdx
}

// MaxDrawdownAmount 最大回撤对应的金额（峰值减谷底）
func MaxDrawdownAmount(equity []decimal.Decimal, peakIdx, troughIdx int) decimal.Decimal {
	if len(equity) == 0 || peakIdx >= len(equity) || troughIdx >= len(equity) {
		return decimal.Zero
	}
	return equity[peakIdx].Sub(equity[troughIdx])
}

// DrawdownDuration 从峰值到权益首次回到峰值水平经过的周期数
// 从谷底开始向后扫描；始终未恢复时返回 len-1-peakIdx
func DrawdownDuration(equity []float64, peakIdx, troughIdx int) int {
	if len(equity) == 0 || peakIdx < 0 || peakIdx >= len(equity) {
		return 0
	}
	peak := equity[peakIdx]
	for i := troughIdx; i < len(equity); i++ {
		if i > peakIdx && equity[i] >= peak {
			return i - peakIdx
		}
	}
	return len(equity) - 1 - peakIdx
}

// RecoveryTime 从谷底到恢复峰值经过的周期数，未恢复返回 -1
func RecoveryTime(equity []float64, peakIdx, troughIdx int) int {
	if len(equity) == 0 || peakIdx < 0 || peakIdx >= len(equity) || troughIdx >= len(equity) {
		return -1
	}
	peak := equity[peakIdx]
	for i := troughIdx; i < len(equity); i++ {
		if i > peakIdx && equity[i] >= peak {
			return i - troughIdx
		}
	}
	return -1
}

// ConsecutiveLosses 最长的连续亏损（严格为负）天数及该段的亏损绝对值之和
// 0 或正收益的日子将计数清零
func ConsecutiveLosses(dailyPnL []decimal.Decimal) (int, decimal.Decimal) {
	maxRun, run := 0, 0
	maxAmount, amount := decimal.Zero, decimal.Zero
	for _, pnl := range dailyPnL {
		if pnl.IsNegative() {
			run++
			amount = amount.Add(pnl.Abs())
			if run > maxRun {
				maxRun, maxAmount = run, amount
			}
			continue
		}
		run, amount = 0, decimal.Zero
	}
	return maxRun, maxAmount
}
