package indicators

// ATR 平均真实波幅（Wilder 平滑），结果长度为 len(closes)-period
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return nil
	}

	tr := make([]float64, n-1)
	for i := 1; i < n; i++ {
		tr[i-1] = TrueRange(highs[i], lows[i], closes[i-1])
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)

	result := make([]float64, 0, len(tr)-period+1)
	result = append(result, atr)
	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		result = append(result, atr)
	}
	return result
}

// Bands 布林带当前值
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
	StdDev float64
}

// Bollinger 最后一根 bar 的布林带
func Bollinger(closes []float64, period int, multiplier float64) (Bands, bool) {
	middle, ok := Last(SMA(closes, period))
	if !ok {
		return Bands{}, false
	}
	sd, _ := Last(StdDev(closes, period))
	return Bands{
		Upper:  middle + multiplier*sd,
		Middle: middle,
		Lower:  middle - multiplier*sd,
		StdDev: sd,
	}, true
}
