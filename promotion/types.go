// Package promotion 策略生命周期状态机：development → backtest → paper → live → retired
package promotion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quantgate/market"
)

// Status 策略状态
type Status string

const (
	StatusDevelopment Status = "development"
	StatusBacktest    Status = "backtest"
	StatusPaper       Status = "paper"
	StatusLive        Status = "live"
	StatusRetired     Status = "retired"
)

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusDevelopment, StatusBacktest, StatusPaper, StatusLive, StatusRetired:
		return true
	}
	return false
}

// Result 晋升尝试结果
type Result string

const (
	ResultApproved Result = "approved"
	ResultRejected Result = "rejected"
)

// PromotionRecord 审计记录，只追加
type PromotionRecord struct {
	Timestamp  time.Time          `json:"timestamp"`
	FromStatus Status             `json:"from_status"`
	ToStatus   Status             `json:"to_status"`
	Result     Result             `json:"result"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// StrategyMetadata 持久化的策略元数据，只通过 Engine 的状态转换修改
type StrategyMetadata struct {
	Name                string            `json:"name"`
	Status              Status            `json:"status"`
	BacktestSharpe      float64           `json:"backtest_sharpe"`
	BacktestMaxDD       float64           `json:"backtest_max_dd"`
	BacktestWinRate     float64           `json:"backtest_win_rate"`
	BacktestTotalTrades int               `json:"backtest_total_trades"`
	PaperStartDate      *time.Time        `json:"paper_start_date,omitempty"`
	PaperTradeCount     int               `json:"paper_trade_count"`
	PaperPnL            decimal.Decimal   `json:"paper_pnl"`
	LiveStartDate       *time.Time        `json:"live_start_date,omitempty"`
	RetiredAt           *time.Time        `json:"retired_at,omitempty"`
	History             []PromotionRecord `json:"promotion_history"`
	Version             int64             `json:"version"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// NewStrategyMetadata 新注册策略，状态为 development
func NewStrategyMetadata(name string, now time.Time) *StrategyMetadata {
	return &StrategyMetadata{
		Name:      name,
		Status:    StatusDevelopment,
		PaperPnL:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastRecord 最近一条审计记录
func (m *StrategyMetadata) LastRecord() (PromotionRecord, bool) {
	if len(m.History) == 0 {
		return PromotionRecord{}, false
	}
	return m.History[len(m.History)-1], true
}

// Clone 深拷贝
func (m *StrategyMetadata) Clone() *StrategyMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.PaperStartDate = cloneTime(m.PaperStartDate)
	c.LiveStartDate = cloneTime(m.LiveStartDate)
	c.RetiredAt = cloneTime(m.RetiredAt)
	c.History = make([]PromotionRecord, len(m.History))
	for i, r := range m.History {
		c.History[i] = r
		if r.Metrics != nil {
			c.History[i].Metrics = make(map[string]float64, len(r.Metrics))
			for k, v := range r.Metrics {
				c.History[i].Metrics[k] = v
			}
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Thresholds 晋升门槛
type Thresholds struct {
	MinSharpe      float64 `yaml:"min_sharpe" json:"min_sharpe"`
	MaxDrawdown    float64 `yaml:"max_drawdown" json:"max_drawdown"` // 百分比
	MinWinRate     float64 `yaml:"min_win_rate" json:"min_win_rate"` // 百分比
	MinTrades      int     `yaml:"min_trades" json:"min_trades"`
	MinPaperDays   int     `yaml:"min_paper_days" json:"min_paper_days"`
	MinPaperTrades int     `yaml:"min_paper_trades" json:"min_paper_trades"`
}

// DefaultThresholds 默认门槛
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSharpe:      1.0,
		MaxDrawdown:    15,
		MinWinRate:     55,
		MinTrades:      30,
		MinPaperDays:   30,
		MinPaperTrades: 20,
	}
}

// Validate 检查门槛取值
func (t Thresholds) Validate() error {
	switch {
	case t.MaxDrawdown < 0 || t.MaxDrawdown > 100:
		return &market.ConfigError{Field: "promotion.max_drawdown", Value: t.MaxDrawdown, Reason: "必须在 [0,100] 内"}
	case t.MinWinRate < 0 || t.MinWinRate > 100:
		return &market.ConfigError{Field: "promotion.min_win_rate", Value: t.MinWinRate, Reason: "必须在 [0,100] 内"}
	case t.MinTrades < 0:
		return &market.ConfigError{Field: "promotion.min_trades", Value: t.MinTrades, Reason: "不能为负"}
	case t.MinPaperDays < 0:
		return &market.ConfigError{Field: "promotion.min_paper_days", Value: t.MinPaperDays, Reason: "不能为负"}
	case t.MinPaperTrades < 0:
		return &market.ConfigError{Field: "promotion.min_paper_trades", Value: t.MinPaperTrades, Reason: "不能为负"}
	}
	return nil
}

var (
	// ErrNotFound 策略元数据不存在
	ErrNotFound = errors.New("strategy metadata not found")
	// ErrAlreadyExists 重复注册
	ErrAlreadyExists = errors.New("strategy metadata already exists")
	// ErrConcurrentUpdate 版本比较失败，其他调用方已修改该策略
	ErrConcurrentUpdate = errors.New("concurrent update of strategy metadata")
)

// StateError 当前状态不满足转换前置条件，元数据保持不变
type StateError struct {
	Name     string
	Actual   Status
	Expected []Status
}

func (e *StateError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("策略 %s 当前状态为 %s，需要 %s", e.Name, e.Actual, strings.Join(expected, "|"))
}

func (e *StateError) Unwrap() error { return market.ErrState }
