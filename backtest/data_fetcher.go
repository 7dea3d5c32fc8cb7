package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"quantgate/logger"
	"quantgate/market"
)

// binanceBatchLimit Binance 单次最多返回 1000 根 K 线
const binanceBatchLimit = 1000

// klineFetcher 拉取一批 K 线，便于测试替换
type klineFetcher func(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]*futures.Kline, error)

// BinanceSource 从 Binance 合约接口分批下载 K 线，优先读取 CSV 缓存
type BinanceSource struct {
	interval string
	cache    *CacheManager
	limiter  *rate.Limiter
	fetch    klineFetcher
}

// BinanceOptions Binance 数据源参数
type BinanceOptions struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	Interval   string  // 默认 1d
	RatePerSec float64 // 请求速率，默认 10/s
	Cache      *CacheManager
}

// NewBinanceSource 创建 Binance 数据源；K 线为公开接口，API Key 可为空
func NewBinanceSource(opts BinanceOptions) *BinanceSource {
	futures.UseTestnet = opts.Testnet
	client := futures.NewClient(opts.APIKey, opts.SecretKey)

	if opts.Interval == "" {
		opts.Interval = "1d"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	return &BinanceSource{
		interval: opts.Interval,
		cache:    opts.Cache,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		fetch: func(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]*futures.Kline, error) {
			return client.NewKlinesService().
				Symbol(symbol).
				Interval(interval).
				StartTime(start).
				EndTime(end).
				Limit(limit).
				Do(ctx)
		},
	}
}

// Load 实现 market.DataSource
func (s *BinanceSource) Load(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	symbol = market.NormalizeSymbol(symbol)
	if end.IsZero() {
		end = time.Now().UTC()
	}

	key := CacheKey(symbol, s.interval, start, end)
	if s.cache != nil {
		if bars, err := s.cache.Load(key); err == nil {
			logger.Info("✅ 从缓存加载: %s (%d 根K线)", key, len(bars))
			return nonEmpty(bars, symbol, start, end)
		}
	}

	logger.Info("⬇️ 从 Binance 下载: %s %s (%s 至 %s)", symbol, s.interval,
		market.FormatDate(start), market.FormatDate(end))
	bars, err := s.download(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(bars) > 0 {
		if err := s.cache.Save(key, s.interval, bars); err != nil {
			logger.Warn("⚠️ 缓存保存失败: %v", err)
		} else {
			logger.Info("💾 已缓存: %s", key)
		}
	}
	return nonEmpty(bars, symbol, start, end)
}

// download 按时间推进分批下载，每批受限流控制
func (s *BinanceSource) download(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	var bars []market.Bar
	cursor := start.UnixMilli()
	endMs := end.UnixMilli() - 1 // 区间右开

	for batch := 1; cursor <= endMs; batch++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		klines, err := s.fetch(ctx, symbol, s.interval, cursor, endMs, binanceBatchLimit)
		if err != nil {
			return nil, fmt.Errorf("获取第 %d 批数据失败: %w", batch, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			bar, err := klineToBar(symbol, k)
			if err != nil {
				return nil, fmt.Errorf("第 %d 批: %w", batch, err)
			}
			if bar.Timestamp.Before(start) || !bar.Timestamp.Before(end) {
				continue
			}
			bars = append(bars, bar)
		}
		logger.Debug("📊 第 %d 批下载完成，累计 %d 根K线", batch, len(bars))

		next := klines[len(klines)-1].OpenTime + 1
		if next <= cursor {
			break
		}
		cursor = next
	}

	logger.Info("✅ 下载完成: 共 %d 根K线", len(bars))
	return bars, nil
}

func klineToBar(symbol string, k *futures.Kline) (market.Bar, error) {
	values := make([]decimal.Decimal, 5)
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return market.Bar{}, &market.SchemaError{Source: "binance", Missing: []string{market.RequiredColumns[i+1]}}
		}
		values[i] = v
	}
	return market.Bar{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// nonEmpty 过滤区间并在结果为空时返回 *market.NotFoundError
func nonEmpty(bars []market.Bar, symbol string, start, end time.Time) ([]market.Bar, error) {
	bars = market.FilterRange(bars, start, end)
	if len(bars) == 0 {
		return nil, &market.NotFoundError{Symbol: symbol, Start: start, End: end}
	}
	return bars, nil
}
