package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func dailyBars(symbol string, n int) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		p := decimal.NewFromInt(int64(100 + i))
		bars[i] = Bar{
			Symbol:    symbol,
			Timestamp: day0.AddDate(0, 0, i),
			Open:      p,
			High:      p.Add(decimal.NewFromInt(2)),
			Low:       p.Sub(decimal.NewFromInt(2)),
			Close:     p,
			Volume:    decimal.NewFromInt(10),
		}
	}
	return bars
}

func TestBarValidate(t *testing.T) {
	good := dailyBars("BTCUSDT", 1)[0]
	if err := good.Validate(); err != nil {
		t.Fatalf("合法 bar 校验失败: %v", err)
	}

	bad := good
	bad.High = good.Low.Sub(decimal.NewFromInt(1))
	if bad.Validate() == nil {
		t.Error("high < low 应校验失败")
	}
	bad = good
	bad.Close = decimal.Zero
	if bad.Validate() == nil {
		t.Error("收盘价为 0 应校验失败")
	}
	bad = good
	bad.Timestamp = time.Time{}
	if bad.Validate() == nil {
		t.Error("时间戳为空应校验失败")
	}
}

func TestFilterRangeHalfOpen(t *testing.T) {
	bars := dailyBars("X", 10)
	got := FilterRange(bars, day0.AddDate(0, 0, 2), day0.AddDate(0, 0, 5))
	if len(got) != 3 {
		t.Fatalf("区间 bar 数 = %d, 期望 3", len(got))
	}
	if !got[0].Timestamp.Equal(day0.AddDate(0, 0, 2)) {
		t.Error("起点应包含在内")
	}
	if len(FilterRange(bars, time.Time{}, time.Time{})) != 10 {
		t.Error("零值边界不应过滤")
	}
}

func TestSignalValidate(t *testing.T) {
	entry := decimal.NewFromInt(100)
	long := Signal{Side: Long, StopLoss: PriceFromFloat(95), TakeProfit: PriceFromFloat(110)}
	if err := long.Validate(entry); err != nil {
		t.Errorf("合法多头信号: %v", err)
	}
	long.StopLoss = PriceFromFloat(101)
	if long.Validate(entry) == nil {
		t.Error("多头止损高于入场价应失败")
	}

	short := Signal{Side: Short, StopLoss: PriceFromFloat(105), TakeProfit: PriceFromFloat(90)}
	if err := short.Validate(entry); err != nil {
		t.Errorf("合法空头信号: %v", err)
	}
	short.TakeProfit = PriceFromFloat(100)
	if short.Validate(entry) == nil {
		t.Error("空头止盈等于入场价应失败")
	}

	if (Signal{Side: Long, Confidence: PriceFromFloat(1.5)}).Validate(entry) == nil {
		t.Error("置信度超过 1 应失败")
	}
	if (Signal{Side: "hold"}).Validate(entry) == nil {
		t.Error("未知方向应失败")
	}
	if err := (Signal{Side: Flat}).Validate(entry); err != nil {
		t.Errorf("平仓信号不检查价格: %v", err)
	}
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource()
	bars := dailyBars("ETHUSDT", 5)
	// 逆序写入，读取时应已排序
	reversed := make([]Bar, len(bars))
	for i := range bars {
		reversed[len(bars)-1-i] = bars[i]
	}
	src.Put(" ethusdt ", reversed)

	got, err := src.Load(context.Background(), "ETHUSDT", day0, day0.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Fatal("bar 应按时间升序")
		}
	}

	_, err = src.Load(context.Background(), "ETHUSDT", day0.AddDate(1, 0, 0), day0.AddDate(2, 0, 0))
	var nf *NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, ErrData) {
		t.Errorf("空区间应返回 NotFoundError, 得到 %v", err)
	}
}

func TestCachedSourceLoadsOnce(t *testing.T) {
	inner := NewMemorySource()
	inner.Put("BTCUSDT", dailyBars("BTCUSDT", 30))

	var calls int32
	counting := DataSourceFunc(func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
		atomic.AddInt32(&calls, 1)
		return inner.Load(ctx, symbol, start, end)
	})
	cached := NewCachedSource(counting, day0, day0.AddDate(0, 0, 30), 0)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := cached.Load(ctx, "btcusdt", day0.AddDate(0, 0, i*5), day0.AddDate(0, 0, i*5+5))
		if err != nil {
			t.Fatalf("第 %d 次加载失败: %v", i, err)
		}
		if len(got) != 5 {
			t.Errorf("第 %d 次 bar 数 = %d, 期望 5", i, len(got))
		}
	}
	if calls != 1 {
		t.Errorf("预取区间内应只访问一次底层数据源, 实际 %d", calls)
	}

	// 超出预取区间直接透传
	if _, err := cached.Load(ctx, "BTCUSDT", day0.AddDate(0, 0, -5), day0); err == nil {
		t.Error("预取区间外无数据应返回错误")
	}
	if calls != 2 {
		t.Errorf("区间外请求应透传, 调用次数 = %d", calls)
	}
}

func TestMissingColumns(t *testing.T) {
	missing := MissingColumns([]string{"Timestamp", "open", " HIGH ", "close"})
	if len(missing) != 2 || missing[0] != "low" || missing[1] != "volume" {
		t.Errorf("缺失列 = %v", missing)
	}
	if FormatDate(time.Time{}) != "-" || FormatDate(day0) != "2024-03-01" {
		t.Error("FormatDate 输出错误")
	}
	err := &ConfigError{Field: "n_folds", Value: 0, Reason: "必须为正"}
	if !errors.Is(err, ErrConfig) {
		t.Error("ConfigError 应归类为 ErrConfig")
	}
}

func TestCachedSourceRetriesAfterFailure(t *testing.T) {
	inner := NewMemorySource()
	inner.Put("BTCUSDT", dailyBars("BTCUSDT", 10))

	var calls int32
	flaky := DataSourceFunc(func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("upstream 503")
		}
		return inner.Load(ctx, symbol, start, end)
	})
	cached := NewCachedSource(flaky, day0, time.Time{}, 0)

	ctx := context.Background()
	if _, err := cached.Load(ctx, "BTCUSDT", day0, day0.AddDate(0, 0, 5)); err == nil {
		t.Fatal("首次上游失败应返回错误")
	}
	got, err := cached.Load(ctx, "BTCUSDT", day0, day0.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("失败不应被缓存: %v", err)
	}
	if len(got) != 5 || calls != 2 {
		t.Errorf("bar 数 = %d, 调用次数 = %d, 期望 5 和 2", len(got), calls)
	}
}

func TestCachedSourceIgnoresCallerCancel(t *testing.T) {
	inner := NewMemorySource()
	inner.Put("BTCUSDT", dailyBars("BTCUSDT", 10))

	release := make(chan struct{})
	slow := DataSourceFunc(func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return inner.Load(ctx, symbol, start, end)
	})
	cached := NewCachedSource(slow, day0, time.Time{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cached.Load(ctx, "BTCUSDT", day0, day0.AddDate(0, 0, 5))
		done <- err
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("调用方取消应返回 context.Canceled, 得到 %v", err)
	}
	close(release)

	got, err := cached.Load(context.Background(), "BTCUSDT", day0, day0.AddDate(0, 0, 5))
	if err != nil || len(got) != 5 {
		t.Fatalf("新请求应正常返回, bars=%d err=%v", len(got), err)
	}
}

func TestCachedSourceRefreshesAfterTTL(t *testing.T) {
	inner := NewMemorySource()
	inner.Put("BTCUSDT", dailyBars("BTCUSDT", 5))

	var calls int32
	counting := DataSourceFunc(func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
		atomic.AddInt32(&calls, 1)
		return inner.Load(ctx, symbol, start, end)
	})
	cached := NewCachedSource(counting, day0, time.Time{}, time.Hour)
	clock := day0.AddDate(0, 0, 5)
	cached.now = func() time.Time { return clock }

	ctx := context.Background()
	if _, err := cached.Load(ctx, "BTCUSDT", day0, time.Time{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// 新 bar 到达，缓存未过期时看不到
	inner.Put("BTCUSDT", dailyBars("BTCUSDT", 8))
	clock = clock.Add(30 * time.Minute)
	got, _ := cached.Load(ctx, "BTCUSDT", day0, time.Time{})
	if len(got) != 5 || calls != 1 {
		t.Fatalf("TTL 内应命中缓存, bars=%d calls=%d", len(got), calls)
	}

	clock = clock.Add(time.Hour)
	got, err := cached.Load(ctx, "BTCUSDT", day0, time.Time{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 8 || calls != 2 {
		t.Errorf("过期后应重新拉取, bars=%d calls=%d", len(got), calls)
	}
}
