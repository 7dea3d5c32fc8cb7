package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"quantgate/market"
)

// ParquetBarSource 每个品种一个 parquet 文件: <dir>/<SYMBOL>.parquet
// 价格以十进制字符串存储，避免浮点误差
type ParquetBarSource struct {
	dir string
}

// BarRecord parquet 行
type BarRecord struct {
	Symbol    string `parquet:"symbol"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      string `parquet:"open"`
	High      string `parquet:"high"`
	Low       string `parquet:"low"`
	Close     string `parquet:"close"`
	Volume    string `parquet:"volume"`
}

// NewParquetBarSource 创建 parquet 数据源
func NewParquetBarSource(dir string) *ParquetBarSource {
	return &ParquetBarSource{dir: dir}
}

func (s *ParquetBarSource) path(symbol string) string {
	return filepath.Join(s.dir, market.NormalizeSymbol(symbol)+".parquet")
}

// WriteBars 与已有文件合并去重后写回
func (s *ParquetBarSource) WriteBars(_ context.Context, symbol string, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	path := s.path(symbol)

	existing, err := readParquetFile[BarRecord](path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	incoming := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		incoming = append(incoming, BarRecord{
			Symbol:    market.NormalizeSymbol(symbol),
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open.String(),
			High:      b.High.String(),
			Low:       b.Low.String(),
			Close:     b.Close.String(),
			Volume:    b.Volume.String(),
		})
	}
	if err := writeParquetFile(path, mergeBarRecords(existing, incoming)); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return nil
}

// Load 实现 market.DataSource
func (s *ParquetBarSource) Load(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.path(symbol)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &market.NotFoundError{Symbol: symbol, Start: start, End: end}
	}
	if err := checkParquetSchema(path); err != nil {
		return nil, err
	}

	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}

	bars := make([]market.Bar, 0, len(records))
	for _, r := range records {
		bar, err := r.toBar()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		bars = append(bars, bar)
	}
	market.SortBars(bars)

	bars = market.FilterRange(bars, start, end)
	if len(bars) == 0 {
		return nil, &market.NotFoundError{Symbol: symbol, Start: start, End: end}
	}
	return bars, nil
}

func (r BarRecord) toBar() (market.Bar, error) {
	bar := market.Bar{Symbol: r.Symbol, Timestamp: time.UnixMilli(r.Timestamp).UTC()}
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{r.Open, &bar.Open}, {r.High, &bar.High}, {r.Low, &bar.Low}, {r.Close, &bar.Close}, {r.Volume, &bar.Volume},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return bar, fmt.Errorf("解析 %q 失败: %w", f.raw, err)
		}
		*f.dst = v
	}
	return bar, nil
}

// checkParquetSchema 缺少必需列时返回 *market.SchemaError
func checkParquetSchema(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return fmt.Errorf("打开 parquet 文件失败: %w", err)
	}

	var columns []string
	for _, field := range pf.Schema().Fields() {
		columns = append(columns, field.Name())
	}
	if missing := market.MissingColumns(columns); len(missing) > 0 {
		return &market.SchemaError{Source: path, Missing: missing}
	}
	return nil
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords 按时间戳去重，新记录覆盖旧记录
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}
