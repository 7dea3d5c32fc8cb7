package database

import (
	"context"
	"time"

	"quantgate/event"
	"quantgate/promotion"
	"quantgate/walkforward"
)

// Database 数据库接口
type Database interface {
	// 策略元数据（带版本号的比较并交换）
	promotion.Store

	// 滚动验证结果
	SaveRun(ctx context.Context, result *walkforward.ValidationResult) error
	GetRun(ctx context.Context, runID string) (*walkforward.ValidationResult, error)
	ListRuns(ctx context.Context, filter *RunFilter) ([]*walkforward.ValidationResult, error)
	MarkRunPassed(ctx context.Context, runID string, passed bool) error

	// 领域事件
	SaveEvent(ctx context.Context, record *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	CleanupOldEvents(ctx context.Context, keepDays int) (int64, error)
	event.EventProcessor

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// StrategyRecord 策略元数据
type StrategyRecord struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                string     `gorm:"uniqueIndex;size:100" json:"name"`
	Status              string     `gorm:"index;size:20" json:"status"`
	BacktestSharpe      float64    `json:"backtest_sharpe"`
	BacktestMaxDD       float64    `json:"backtest_max_dd"`
	BacktestWinRate     float64    `json:"backtest_win_rate"`
	BacktestTotalTrades int        `json:"backtest_total_trades"`
	PaperStartDate      *time.Time `json:"paper_start_date"`
	PaperTradeCount     int        `json:"paper_trade_count"`
	PaperPnL            string     `gorm:"size:64" json:"paper_pnl"` // 十进制字符串
	LiveStartDate       *time.Time `json:"live_start_date"`
	RetiredAt           *time.Time `json:"retired_at"`
	Version             int64      `gorm:"not null;default:1" json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// PromotionRecordModel 晋升审计记录，只插入不更新
type PromotionRecordModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyName string    `gorm:"index:idx_strategy_seq;size:100" json:"strategy_name"`
	Seq          int       `gorm:"index:idx_strategy_seq" json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	FromStatus   string    `gorm:"size:20" json:"from_status"`
	ToStatus     string    `gorm:"size:20" json:"to_status"`
	Result       string    `gorm:"index;size:20" json:"result"`
	Metrics      string    `gorm:"type:text" json:"metrics"` // JSON
	Reason       string    `gorm:"type:text" json:"reason"`
}

func (PromotionRecordModel) TableName() string { return "promotion_records" }

// WalkForwardRunModel 一次滚动验证
type WalkForwardRunModel struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID              string    `gorm:"uniqueIndex;size:36" json:"run_id"`
	StrategyName       string    `gorm:"index;size:100" json:"strategy_name"`
	Symbol             string    `gorm:"size:50" json:"symbol"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	NFolds             int       `json:"n_folds"`
	TestWindowDays     int       `json:"test_window_days"`
	OverallSharpe      float64   `json:"overall_sharpe"`
	OverallMaxDD       float64   `json:"overall_max_dd"`
	OverallWinRate     float64   `json:"overall_win_rate"`
	OverallTotalTrades int       `json:"overall_total_trades"`
	OverallTotalPnL    string    `gorm:"size:64" json:"overall_total_pnl"`
	Passed             bool      `json:"passed"`
	DurationMs         int64     `json:"duration_ms"`
	PeakMemoryMB       float64   `json:"peak_memory_mb"`
	StartedAt          time.Time `gorm:"index" json:"started_at"`
	CreatedAt          time.Time `json:"created_at"`
}

func (WalkForwardRunModel) TableName() string { return "walkforward_runs" }

// FoldResultModel 单折结果
type FoldResultModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID        string    `gorm:"index:idx_run_fold;size:36" json:"run_id"`
	FoldIndex    int       `gorm:"index:idx_run_fold" json:"fold_index"`
	TrainStart   time.Time `json:"train_start"`
	TrainEnd     time.Time `json:"train_end"`
	TestStart    time.Time `json:"test_start"`
	TestEnd      time.Time `json:"test_end"`
	SharpeRatio  float64   `json:"sharpe_ratio"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	WinRate      float64   `json:"win_rate"`
	TotalTrades  int       `json:"total_trades"`
	TotalPnL     string    `gorm:"size:64" json:"total_pnl"`
	Bars         int       `json:"bars"`
	SignalErrors int       `json:"signal_errors"`
}

func (FoldResultModel) TableName() string { return "fold_results" }

// EventRecord 领域事件记录
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"index;size:50" json:"type"`
	Severity  string    `gorm:"index;size:20" json:"severity"`
	Strategy  string    `gorm:"index;size:100" json:"strategy"`
	Message   string    `gorm:"type:text" json:"message"`
	Data      string    `gorm:"type:text" json:"data"` // JSON
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// 过滤器

// RunFilter 验证记录过滤器
type RunFilter struct {
	Strategy string
	Limit    int
	Offset   int
}

// EventFilter 事件记录过滤器
type EventFilter struct {
	Type      string
	Severity  string
	Strategy  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
