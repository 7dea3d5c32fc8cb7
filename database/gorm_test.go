package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantgate/event"
	"quantgate/promotion"
	"quantgate/walkforward"
)

func newTestDB(t *testing.T) *GormDatabase {
	t.Helper()
	db, err := NewGormDatabase(&Config{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "quantgate.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUnsupportedType(t *testing.T) {
	if _, err := NewDatabase(&Config{Type: "oracle"}); err == nil {
		t.Fatal("不支持的类型应报错")
	}
}

func TestMetadataCompareAndSwap(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := db.Create(ctx, promotion.NewStrategyMetadata("alpha", now)); err != nil {
		t.Fatalf("Create 失败: %v", err)
	}
	if err := db.Create(ctx, promotion.NewStrategyMetadata("alpha", now)); !errors.Is(err, promotion.ErrAlreadyExists) {
		t.Fatalf("重复创建应返回 ErrAlreadyExists: %v", err)
	}

	a, err := db.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	b, _ := db.Get(ctx, "alpha")
	if a.Version != 1 || a.Status != promotion.StatusDevelopment {
		t.Fatalf("初始元数据 = %+v", a)
	}

	a.Status = promotion.StatusBacktest
	a.BacktestSharpe = 1.5
	a.History = append(a.History, promotion.PromotionRecord{
		Timestamp:  now,
		FromStatus: promotion.StatusDevelopment,
		ToStatus:   promotion.StatusBacktest,
		Result:     promotion.ResultApproved,
		Metrics:    map[string]float64{"sharpe_ratio": 1.5},
	})
	if err := db.Save(ctx, a); err != nil {
		t.Fatalf("Save 失败: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("保存后版本 = %d, want 2", a.Version)
	}

	b.Status = promotion.StatusRetired
	if err := db.Save(ctx, b); !errors.Is(err, promotion.ErrConcurrentUpdate) {
		t.Fatalf("过期版本应冲突: %v", err)
	}

	got, _ := db.Get(ctx, "alpha")
	if got.Status != promotion.StatusBacktest || got.BacktestSharpe != 1.5 {
		t.Errorf("持久化状态 = %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Metrics["sharpe_ratio"] != 1.5 {
		t.Errorf("审计记录 = %+v", got.History)
	}

	if _, err := db.Get(ctx, "missing"); !errors.Is(err, promotion.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestEngineOnGormStore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine, err := promotion.NewEngine(db, promotion.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Register(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}

	ok, err := engine.PromoteToBacktest(ctx, "alpha", &walkforward.ValidationResult{
		OverallSharpe: 0.5, OverallMaxDD: 20, OverallWinRate: 50, OverallTotalTrades: 20,
	})
	if err != nil || ok {
		t.Fatalf("应被拒绝: ok=%v err=%v", ok, err)
	}
	ok, err = engine.PromoteToBacktest(ctx, "alpha", &walkforward.ValidationResult{
		OverallSharpe: 1.5, OverallMaxDD: 10, OverallWinRate: 60, OverallTotalTrades: 40,
	})
	if err != nil || !ok {
		t.Fatalf("应通过: ok=%v err=%v", ok, err)
	}
	if err := engine.PromoteToPaper(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := engine.RecordPaperTrade(ctx, "alpha", decimal.RequireFromString("12.34")); err != nil {
		t.Fatal(err)
	}

	meta, err := db.Get(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != promotion.StatusPaper || meta.PaperStartDate == nil {
		t.Fatalf("元数据 = %+v", meta)
	}
	if !meta.PaperPnL.Equal(decimal.RequireFromString("12.34")) || meta.PaperTradeCount != 1 {
		t.Errorf("模拟盘统计 = %d / %s", meta.PaperTradeCount, meta.PaperPnL)
	}
	if len(meta.History) != 3 || meta.History[0].Result != promotion.ResultRejected {
		t.Errorf("审计记录顺序不对: %+v", meta.History)
	}

	list, err := db.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	result := &walkforward.ValidationResult{
		RunID:              "3f1c2a8e-0000-4000-8000-000000000001",
		StrategyName:       "alpha",
		Symbol:             "BTCUSDT",
		Start:              start,
		End:                start.AddDate(0, 0, 60),
		NFolds:             2,
		TestWindowDays:     30,
		OverallSharpe:      1.25,
		OverallMaxDD:       8,
		OverallWinRate:     55,
		OverallTotalTrades: 12,
		OverallTotalPnL:    decimal.RequireFromString("150.5"),
		StartedAt:          start,
		Duration:           1500 * time.Millisecond,
		FoldResults: []walkforward.FoldResult{
			{FoldIndex: 0, TestStart: start, TestEnd: start.AddDate(0, 0, 30), TotalPnL: decimal.NewFromInt(100), TotalTrades: 7},
			{FoldIndex: 1, TestStart: start.AddDate(0, 0, 30), TestEnd: start.AddDate(0, 0, 60), TotalPnL: decimal.RequireFromString("50.5"), TotalTrades: 5},
		},
	}
	if err := db.SaveRun(ctx, result); err != nil {
		t.Fatalf("SaveRun 失败: %v", err)
	}
	if err := db.MarkRunPassed(ctx, result.RunID, true); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("GetRun 失败: %v", err)
	}
	if !got.Passed || got.NFolds != 2 || len(got.FoldResults) != 2 {
		t.Fatalf("读取结果 = %+v", got)
	}
	if !got.OverallTotalPnL.Equal(result.OverallTotalPnL) || got.Duration != result.Duration {
		t.Errorf("汇总字段不一致: %s %s", got.OverallTotalPnL, got.Duration)
	}
	if !got.FoldResults[1].TotalPnL.Equal(decimal.RequireFromString("50.5")) {
		t.Errorf("折叠盈亏 = %s", got.FoldResults[1].TotalPnL)
	}

	runs, err := db.ListRuns(ctx, &RunFilter{Strategy: "alpha"})
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns = %d, %v", len(runs), err)
	}
	if _, err := db.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("want ErrRunNotFound, got %v", err)
	}
}

func TestEventPersistence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.ProcessEvent(&event.Event{
		Type:      event.EventTypePromotionRejected,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"strategy": "alpha", "reason": "sharpe 0.5 < 1.0"},
	})
	db.ProcessEvent(&event.Event{
		Type:      event.EventTypeBacktestCompleted,
		Timestamp: time.Now().AddDate(0, 0, -40),
		Data:      map[string]interface{}{"strategy": "beta"},
	})

	events, err := db.GetEvents(ctx, &EventFilter{Strategy: "alpha"})
	if err != nil || len(events) != 1 {
		t.Fatalf("GetEvents = %v, %v", events, err)
	}
	if events[0].Severity != "warning" {
		t.Errorf("severity = %s, want warning", events[0].Severity)
	}

	n, err := db.CleanupOldEvents(ctx, 30)
	if err != nil || n != 1 {
		t.Fatalf("CleanupOldEvents = %d, %v", n, err)
	}
}
