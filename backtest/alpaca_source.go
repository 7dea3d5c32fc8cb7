package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"quantgate/logger"
	"quantgate/market"
)

// barsFetcher 拉取单个品种的日线，便于测试替换
type barsFetcher func(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)

// AlpacaSource 从 Alpaca 行情接口读取美股日线
type AlpacaSource struct {
	feed    string
	limiter *rate.Limiter
	fetch   barsFetcher
}

// AlpacaOptions Alpaca 数据源参数
type AlpacaOptions struct {
	APIKey     string
	APISecret  string
	DataURL    string
	Feed       string  // iex 或 sip，默认 iex
	RatePerSec float64 // 默认 3/s（免费账户 200 次/分钟）
}

// NewAlpacaSource 创建 Alpaca 数据源
func NewAlpacaSource(opts AlpacaOptions) *AlpacaSource {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 3
	}
	client := marketdata.NewClient(clientOpts)
	return &AlpacaSource{
		feed:    opts.Feed,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		fetch:   client.GetBars,
	}
}

// Load 实现 market.DataSource
func (s *AlpacaSource) Load(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	symbol = market.NormalizeSymbol(symbol)

	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		Feed:      marketdata.Feed(s.feed),
	}
	if !end.IsZero() {
		req.End = end
	}
	raw, err := s.fetch(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]market.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, market.Bar{
			Symbol:    symbol,
			Timestamp: b.Timestamp.UTC(),
			Open:      decimal.NewFromFloat(b.Open),
			High:      decimal.NewFromFloat(b.High),
			Low:       decimal.NewFromFloat(b.Low),
			Close:     decimal.NewFromFloat(b.Close),
			Volume:    decimal.NewFromInt(int64(b.Volume)),
		})
	}
	logger.Info("✅ Alpaca 返回 %s %d 根日线", symbol, len(bars))
	return nonEmpty(bars, symbol, start, end)
}
