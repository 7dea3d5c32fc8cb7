// Package database 策略元数据、滚动验证结果与事件的持久化（GORM）
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quantgate/event"
	"quantgate/logger"
	"quantgate/promotion"
	"quantgate/walkforward"
)

// Config 数据库配置
type Config struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// NewDatabase 根据配置创建数据库实例
func NewDatabase(config *Config) (Database, error) {
	return NewGormDatabase(config)
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *Config) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite", "":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	// 日志级别
	logLevel := gormlogger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&StrategyRecord{},
		&PromotionRecordModel{},
		&WalkForwardRunModel{},
		&FoldResultModel{},
		&EventRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.Info("✅ 数据库已连接: %s", config.Type)
	return &GormDatabase{db: db}, nil
}

// Get 读取策略元数据及完整审计记录
func (g *GormDatabase) Get(ctx context.Context, name string) (*promotion.StrategyMetadata, error) {
	var rec StrategyRecord
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", name, promotion.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	history, err := g.loadHistory(g.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	return recordToMetadata(&rec, history)
}

// Create 写入新策略，版本从 1 开始
func (g *GormDatabase) Create(ctx context.Context, meta *promotion.StrategyMetadata) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&StrategyRecord{}).Where("name = ?", meta.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%s: %w", meta.Name, promotion.ErrAlreadyExists)
		}
		meta.Version = 1
		rec := metadataToRecord(meta)
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return appendHistory(tx, meta.Name, 0, meta.History)
	})
}

// Save 以 name + version 为条件更新，版本不符返回 promotion.ErrConcurrentUpdate
// 审计记录只追加新增部分，已有记录不会被改写
func (g *GormDatabase) Save(ctx context.Context, meta *promotion.StrategyMetadata) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := metadataToRecord(meta)
		res := tx.Model(&StrategyRecord{}).
			Where("name = ? AND version = ?", meta.Name, meta.Version).
			Updates(map[string]interface{}{
				"status":                rec.Status,
				"backtest_sharpe":       rec.BacktestSharpe,
				"backtest_max_dd":       rec.BacktestMaxDD,
				"backtest_win_rate":     rec.BacktestWinRate,
				"backtest_total_trades": rec.BacktestTotalTrades,
				"paper_start_date":      rec.PaperStartDate,
				"paper_trade_count":     rec.PaperTradeCount,
				"paper_pnl":             rec.PaperPnL,
				"live_start_date":       rec.LiveStartDate,
				"retired_at":            rec.RetiredAt,
				"version":               meta.Version + 1,
				"updated_at":            rec.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&StrategyRecord{}).Where("name = ?", meta.Name).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%s: %w", meta.Name, promotion.ErrNotFound)
			}
			return fmt.Errorf("%s 版本 %d 已过期: %w", meta.Name, meta.Version, promotion.ErrConcurrentUpdate)
		}

		var stored int64
		if err := tx.Model(&PromotionRecordModel{}).Where("strategy_name = ?", meta.Name).Count(&stored).Error; err != nil {
			return err
		}
		if int(stored) > len(meta.History) {
			return fmt.Errorf("%s 审计记录不能删除 (%d > %d)", meta.Name, stored, len(meta.History))
		}
		return appendHistory(tx, meta.Name, int(stored), meta.History[int(stored):])
	})
	if err != nil {
		return err
	}
	meta.Version++
	return nil
}

// List 全部策略，按名称排序
func (g *GormDatabase) List(ctx context.Context) ([]*promotion.StrategyMetadata, error) {
	var recs []*StrategyRecord
	if err := g.db.WithContext(ctx).Order("name ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*promotion.StrategyMetadata, 0, len(recs))
	for _, rec := range recs {
		history, err := g.loadHistory(g.db.WithContext(ctx), rec.Name)
		if err != nil {
			return nil, err
		}
		meta, err := recordToMetadata(rec, history)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

func (g *GormDatabase) loadHistory(db *gorm.DB, name string) ([]PromotionRecordModel, error) {
	var history []PromotionRecordModel
	if err := db.Where("strategy_name = ?", name).Order("seq ASC").Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

func appendHistory(tx *gorm.DB, name string, offset int, records []promotion.PromotionRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]*PromotionRecordModel, 0, len(records))
	for i, r := range records {
		metrics := ""
		if len(r.Metrics) > 0 {
			b, err := json.Marshal(r.Metrics)
			if err != nil {
				return err
			}
			metrics = string(b)
		}
		models = append(models, &PromotionRecordModel{
			StrategyName: name,
			Seq:          offset + i,
			Timestamp:    r.Timestamp,
			FromStatus:   string(r.FromStatus),
			ToStatus:     string(r.ToStatus),
			Result:       string(r.Result),
			Metrics:      metrics,
			Reason:       r.Reason,
		})
	}
	return tx.Create(&models).Error
}

func metadataToRecord(meta *promotion.StrategyMetadata) *StrategyRecord {
	return &StrategyRecord{
		Name:                meta.Name,
		Status:              string(meta.Status),
		BacktestSharpe:      meta.BacktestSharpe,
		BacktestMaxDD:       meta.BacktestMaxDD,
		BacktestWinRate:     meta.BacktestWinRate,
		BacktestTotalTrades: meta.BacktestTotalTrades,
		PaperStartDate:      meta.PaperStartDate,
		PaperTradeCount:     meta.PaperTradeCount,
		PaperPnL:            meta.PaperPnL.String(),
		LiveStartDate:       meta.LiveStartDate,
		RetiredAt:           meta.RetiredAt,
		Version:             meta.Version,
		CreatedAt:           meta.CreatedAt,
		UpdatedAt:           meta.UpdatedAt,
	}
}

func recordToMetadata(rec *StrategyRecord, history []PromotionRecordModel) (*promotion.StrategyMetadata, error) {
	pnl := decimal.Zero
	if rec.PaperPnL != "" {
		v, err := decimal.NewFromString(rec.PaperPnL)
		if err != nil {
			return nil, fmt.Errorf("解析 paper_pnl %q 失败: %w", rec.PaperPnL, err)
		}
		pnl = v
	}
	meta := &promotion.StrategyMetadata{
		Name:                rec.Name,
		Status:              promotion.Status(rec.Status),
		BacktestSharpe:      rec.BacktestSharpe,
		BacktestMaxDD:       rec.BacktestMaxDD,
		BacktestWinRate:     rec.BacktestWinRate,
		BacktestTotalTrades: rec.BacktestTotalTrades,
		PaperStartDate:      utcPtr(rec.PaperStartDate),
		PaperTradeCount:     rec.PaperTradeCount,
		PaperPnL:            pnl,
		LiveStartDate:       utcPtr(rec.LiveStartDate),
		RetiredAt:           utcPtr(rec.RetiredAt),
		History:             make([]promotion.PromotionRecord, 0, len(history)),
		Version:             rec.Version,
		CreatedAt:           rec.CreatedAt.UTC(),
		UpdatedAt:           rec.UpdatedAt.UTC(),
	}
	for _, h := range history {
		r := promotion.PromotionRecord{
			Timestamp:  h.Timestamp.UTC(),
			FromStatus: promotion.Status(h.FromStatus),
			ToStatus:   promotion.Status(h.ToStatus),
			Result:     promotion.Result(h.Result),
			Reason:     h.Reason,
		}
		if h.Metrics != "" {
			if err := json.Unmarshal([]byte(h.Metrics), &r.Metrics); err != nil {
				return nil, fmt.Errorf("解析审计指标失败: %w", err)
			}
		}
		meta.History = append(meta.History, r)
	}
	return meta, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// SaveRun 保存滚动验证结果及各折明细，实现 walkforward.RunRecorder
func (g *GormDatabase) SaveRun(ctx context.Context, result *walkforward.ValidationResult) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run := &WalkForwardRunModel{
			RunID:              result.RunID,
			StrategyName:       result.StrategyName,
			Symbol:             result.Symbol,
			Start:              result.Start,
			End:                result.End,
			NFolds:             result.NFolds,
			TestWindowDays:     result.TestWindowDays,
			OverallSharpe:      result.OverallSharpe,
			OverallMaxDD:       result.OverallMaxDD,
			OverallWinRate:     result.OverallWinRate,
			OverallTotalTrades: result.OverallTotalTrades,
			OverallTotalPnL:    result.OverallTotalPnL.String(),
			Passed:             result.Passed,
			DurationMs:         result.Duration.Milliseconds(),
			PeakMemoryMB:       result.PeakMemoryMB,
			StartedAt:          result.StartedAt,
		}
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("保存验证记录失败: %w", err)
		}
		if len(result.FoldResults) == 0 {
			return nil
		}
		folds := make([]*FoldResultModel, 0, len(result.FoldResults))
		for _, f := range result.FoldResults {
			folds = append(folds, &FoldResultModel{
				RunID:        result.RunID,
				FoldIndex:    f.FoldIndex,
				TrainStart:   f.TrainStart,
				TrainEnd:     f.TrainEnd,
				TestStart:    f.TestStart,
				TestEnd:      f.TestEnd,
				SharpeRatio:  f.SharpeRatio,
				MaxDrawdown:  f.MaxDrawdown,
				WinRate:      f.WinRate,
				TotalTrades:  f.TotalTrades,
				TotalPnL:     f.TotalPnL.String(),
				Bars:         f.Bars,
				SignalErrors: f.SignalErrors,
			})
		}
		return tx.CreateInBatches(folds, 100).Error
	})
}

// MarkRunPassed 晋升引擎判定后回写 passed
func (g *GormDatabase) MarkRunPassed(ctx context.Context, runID string, passed bool) error {
	return g.db.WithContext(ctx).Model(&WalkForwardRunModel{}).
		Where("run_id = ?", runID).Update("passed", passed).Error
}

// GetRun 按 run_id 读取
func (g *GormDatabase) GetRun(ctx context.Context, runID string) (*walkforward.ValidationResult, error) {
	var run WalkForwardRunModel
	err := g.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return g.loadRun(ctx, &run)
}

// ErrRunNotFound 验证记录不存在
var ErrRunNotFound = errors.New("walk-forward run not found")

// ListRuns 按开始时间倒序
func (g *GormDatabase) ListRuns(ctx context.Context, filter *RunFilter) ([]*walkforward.ValidationResult, error) {
	query := g.db.WithContext(ctx).Model(&WalkForwardRunModel{})
	if filter != nil {
		if filter.Strategy != "" {
			query = query.Where("strategy_name = ?", filter.Strategy)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}
	var runs []*WalkForwardRunModel
	if err := query.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	out := make([]*walkforward.ValidationResult, 0, len(runs))
	for _, run := range runs {
		r, err := g.loadRun(ctx, run)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (g *GormDatabase) loadRun(ctx context.Context, run *WalkForwardRunModel) (*walkforward.ValidationResult, error) {
	var folds []FoldResultModel
	if err := g.db.WithContext(ctx).Where("run_id = ?", run.RunID).Order("fold_index ASC").Find(&folds).Error; err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(run.OverallTotalPnL)
	if err != nil {
		return nil, fmt.Errorf("解析 overall_total_pnl 失败: %w", err)
	}
	result := &walkforward.ValidationResult{
		RunID:              run.RunID,
		StrategyName:       run.StrategyName,
		Symbol:             run.Symbol,
		Start:              run.Start.UTC(),
		End:                run.End.UTC(),
		NFolds:             run.NFolds,
		TestWindowDays:     run.TestWindowDays,
		FoldResults:        make([]walkforward.FoldResult, 0, len(folds)),
		OverallSharpe:      run.OverallSharpe,
		OverallMaxDD:       run.OverallMaxDD,
		OverallWinRate:     run.OverallWinRate,
		OverallTotalTrades: run.OverallTotalTrades,
		OverallTotalPnL:    total,
		Passed:             run.Passed,
		StartedAt:          run.StartedAt.UTC(),
		Duration:           time.Duration(run.DurationMs) * time.Millisecond,
		PeakMemoryMB:       run.PeakMemoryMB,
	}
	for _, f := range folds {
		pnl, err := decimal.NewFromString(f.TotalPnL)
		if err != nil {
			return nil, fmt.Errorf("解析折叠盈亏失败: %w", err)
		}
		result.FoldResults = append(result.FoldResults, walkforward.FoldResult{
			FoldIndex:    f.FoldIndex,
			TrainStart:   f.TrainStart.UTC(),
			TrainEnd:     f.TrainEnd.UTC(),
			TestStart:    f.TestStart.UTC(),
			TestEnd:      f.TestEnd.UTC(),
			SharpeRatio:  f.SharpeRatio,
			MaxDrawdown:  f.MaxDrawdown,
			WinRate:      f.WinRate,
			TotalTrades:  f.TotalTrades,
			TotalPnL:     pnl,
			Bars:         f.Bars,
			SignalErrors: f.SignalErrors,
		})
	}
	return result, nil
}

// SaveEvent 保存事件记录
func (g *GormDatabase) SaveEvent(ctx context.Context, record *EventRecord) error {
	return g.db.WithContext(ctx).Create(record).Error
}

// ProcessEvent 实现 event.EventProcessor，把事件落库
func (g *GormDatabase) ProcessEvent(ev *event.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		logger.Warn("⚠️ 序列化事件失败: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record := &EventRecord{
		Type:      string(ev.Type),
		Severity:  string(event.GetEventSeverity(ev.Type)),
		Strategy:  ev.Strategy(),
		Message:   event.BuildMessage(ev),
		Data:      string(data),
		CreatedAt: ev.Timestamp,
	}
	if err := g.SaveEvent(ctx, record); err != nil {
		logger.Error("❌ 保存事件失败: %v", err)
	}
}

// GetEvents 获取事件记录
func (g *GormDatabase) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	query := g.db.WithContext(ctx).Model(&EventRecord{})

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Strategy != "" {
		query = query.Where("strategy = ?", filter.Strategy)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []*EventRecord
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CleanupOldEvents 删除 keepDays 天之前的事件
func (g *GormDatabase) CleanupOldEvents(ctx context.Context, keepDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	res := g.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&EventRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Info("🧹 已清理 %d 条 %d 天前的事件", res.RowsAffected, keepDays)
	}
	return res.RowsAffected, nil
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
