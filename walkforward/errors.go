package walkforward

import (
	"context"
	"fmt"
	"time"

	"quantgate/market"
)

// InsufficientDataError 区间天数不足以切出 n_folds 个测试窗口
type InsufficientDataError struct {
	Strategy     string
	Start        time.Time
	End          time.Time
	AvailableDay int
	RequiredDays int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("策略 %s 区间 [%s, %s) 只有 %d 天，至少需要 %d 天",
		e.Strategy, market.FormatDate(e.Start), market.FormatDate(e.End), e.AvailableDay, e.RequiredDays)
}

func (e *InsufficientDataError) Unwrap() error { return market.ErrData }

// BudgetExceededError 超出调用方给定的耗时预算，在折叠之间检查
type BudgetExceededError struct {
	Strategy  string
	Budget    time.Duration
	Completed int
	Total     int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("策略 %s 滚动验证超出耗时预算 %s (已完成 %d/%d 折)",
		e.Strategy, e.Budget, e.Completed, e.Total)
}

func (e *BudgetExceededError) Unwrap() error { return context.DeadlineExceeded }
