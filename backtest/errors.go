package backtest

import (
	"fmt"
	"strings"
	"time"

	"quantgate/market"
)

// StrategyNotFoundError 请求的策略未注册
type StrategyNotFoundError struct {
	Name      string
	Available []string
}

func (e *StrategyNotFoundError) Error() string {
	return fmt.Sprintf("策略未注册: %s (可用: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *StrategyNotFoundError) Unwrap() error { return market.ErrStrategy }

// NoDataError 数据源在请求区间内返回 0 根 bar
type NoDataError struct {
	Strategy string
	Symbol   string
	Start    time.Time
	End      time.Time
	Err      error
}

func (e *NoDataError) Error() string {
	msg := fmt.Sprintf("无历史数据: 策略=%s 品种=%s 区间=[%s, %s)",
		e.Strategy, e.Symbol, market.FormatDate(e.Start), market.FormatDate(e.End))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露数据错误分类与底层原因
func (e *NoDataError) Unwrap() []error {
	if e.Err != nil {
		return []error{market.ErrData, e.Err}
	}
	return []error{market.ErrData}
}

// EmptyRangeError 区间内没有任何已平仓交易，无法生成权益序列
type EmptyRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("区间 [%s, %s] 内没有交易", market.FormatDate(e.Start), market.FormatDate(e.End))
}

func (e *EmptyRangeError) Unwrap() error { return market.ErrData }

// SignalError 单个 bar 的信号生成失败，运行继续
type SignalError struct {
	Strategy string
	Index    int
	Time     time.Time
	Err      error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("策略 %s 在 bar #%d (%s) 生成信号失败: %v",
		e.Strategy, e.Index, e.Time.Format(time.RFC3339), e.Err)
}

func (e *SignalError) Unwrap() []error { return []error{market.ErrStrategy, e.Err} }
