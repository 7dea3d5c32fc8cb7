package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantgate/logger"
	"quantgate/market"
)

// CacheIndexEntry 缓存索引条目
type CacheIndexEntry struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Bars     int       `json:"bars"`
	SizeMB   float64   `json:"size_mb"`
	Created  time.Time `json:"created"`
}

// CacheInfo 缓存信息
type CacheInfo struct {
	Name string `json:"name"`
	CacheIndexEntry
}

// CacheStats 缓存统计
type CacheStats struct {
	FileCount int     `json:"file_count"`
	TotalSize int64   `json:"total_size"`
	SizeMB    float64 `json:"size_mb"`
}

// CacheManager K 线 CSV 缓存，目录下维护 cache_index.json
type CacheManager struct {
	dir string
	mu  sync.Mutex
}

// NewCacheManager 创建缓存管理器，dir 为空时使用 backtest/cache
func NewCacheManager(dir string) *CacheManager {
	if dir == "" {
		dir = filepath.Join("backtest", "cache")
	}
	return &CacheManager{dir: dir}
}

// CacheKey 缓存键，格式: BTCUSDT_1d_2023-01-01_2023-06-30
func CacheKey(symbol, interval string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", market.NormalizeSymbol(symbol), interval,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
}

func (cm *CacheManager) file(key string) string {
	return filepath.Join(cm.dir, key+".csv")
}

func (cm *CacheManager) indexFile() string {
	return filepath.Join(cm.dir, "cache_index.json")
}

// Load 读取缓存，文件不存在时返回 os.ErrNotExist
func (cm *CacheManager) Load(key string) ([]market.Bar, error) {
	f, err := os.Open(cm.file(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadBarsCSV(f, "cache:"+key)
}

// Save 写入缓存并更新索引
func (cm *CacheManager) Save(key, interval string, bars []market.Bar) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.MkdirAll(cm.dir, 0755); err != nil {
		return fmt.Errorf("创建缓存目录失败: %w", err)
	}
	f, err := os.Create(cm.file(key))
	if err != nil {
		return fmt.Errorf("创建缓存文件失败: %w", err)
	}
	if err := WriteBarsCSV(f, bars); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("关闭缓存文件失败: %w", err)
	}

	if err := cm.updateIndex(key, interval, bars); err != nil {
		logger.Warn("⚠️ 更新缓存索引失败: %v", err)
	}
	return nil
}

func (cm *CacheManager) readIndex() (map[string]CacheIndexEntry, error) {
	index := make(map[string]CacheIndexEntry)
	data, err := os.ReadFile(cm.indexFile())
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("读取缓存索引失败: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("解析缓存索引失败: %w", err)
	}
	return index, nil
}

func (cm *CacheManager) writeIndex(index map[string]CacheIndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cm.indexFile(), data, 0644)
}

// updateIndex 调用前必须持有 mu
func (cm *CacheManager) updateIndex(key, interval string, bars []market.Bar) error {
	index, err := cm.readIndex()
	if err != nil {
		return err
	}
	entry := CacheIndexEntry{Interval: interval, Bars: len(bars), Created: time.Now()}
	if len(bars) > 0 {
		entry.Symbol = bars[0].Symbol
		entry.Start = bars[0].Timestamp
		entry.End = bars[len(bars)-1].Timestamp
	}
	if info, err := os.Stat(cm.file(key)); err == nil {
		entry.SizeMB = float64(info.Size()) / 1024 / 1024
	}
	index[key] = entry
	return cm.writeIndex(index)
}

// List 列出所有缓存
func (cm *CacheManager) List() ([]CacheInfo, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	index, err := cm.readIndex()
	if err != nil {
		return nil, err
	}
	caches := make([]CacheInfo, 0, len(index))
	for name, entry := range index {
		caches = append(caches, CacheInfo{Name: name, CacheIndexEntry: entry})
	}
	return caches, nil
}

// Delete 删除指定缓存
func (cm *CacheManager) Delete(key string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if err := os.Remove(cm.file(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除缓存文件失败: %w", err)
	}
	index, err := cm.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[key]; !ok {
		return nil
	}
	delete(index, key)
	return cm.writeIndex(index)
}

// Stats 缓存目录统计
func (cm *CacheManager) Stats() (CacheStats, error) {
	files, err := filepath.Glob(filepath.Join(cm.dir, "*.csv"))
	if err != nil {
		return CacheStats{}, fmt.Errorf("读取缓存目录失败: %w", err)
	}
	var total int64
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			total += info.Size()
		}
	}
	return CacheStats{FileCount: len(files), TotalSize: total, SizeMB: float64(total) / 1024 / 1024}, nil
}

// CleanOld 删除创建时间早于 days 天前的缓存，返回删除数量
func (cm *CacheManager) CleanOld(days int) (int, error) {
	caches, err := cm.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	deleted := 0
	for _, c := range caches {
		if c.Created.Before(cutoff) {
			if err := cm.Delete(c.Name); err != nil {
				return deleted, fmt.Errorf("删除过期缓存 %s 失败: %w", c.Name, err)
			}
			deleted++
		}
	}
	if deleted > 0 {
		logger.Info("✅ 已清理 %d 个过期缓存", deleted)
	}
	return deleted, nil
}

// csvHeader CSV 列顺序
var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume", "symbol"}

// WriteBarsCSV 以毫秒时间戳与十进制字符串写出 bar
func WriteBarsCSV(w io.Writer, bars []market.Bar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("写入表头失败: %w", err)
	}
	for _, b := range bars {
		record := []string{
			strconv.FormatInt(b.Timestamp.UnixMilli(), 10),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
			b.Symbol,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("写入数据失败: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadBarsCSV 按表头解析 bar；缺少必需列返回 *market.SchemaError
func ReadBarsCSV(r io.Reader, source string) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &market.SchemaError{Source: source, Missing: market.RequiredColumns}
		}
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	if missing := market.MissingColumns(header); len(missing) > 0 {
		return nil, &market.SchemaError{Source: source, Missing: missing}
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	symbolCol, hasSymbol := col["symbol"]

	var bars []market.Bar
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s 第 %d 行: %w", source, line, err)
		}
		bar, err := parseRecord(record, col)
		if err != nil {
			return nil, fmt.Errorf("%s 第 %d 行: %w", source, line, err)
		}
		if hasSymbol && symbolCol < len(record) {
			bar.Symbol = record[symbolCol]
		}
		bars = append(bars, bar)
	}
	market.SortBars(bars)
	return bars, nil
}

func parseRecord(record []string, col map[string]int) (market.Bar, error) {
	var bar market.Bar
	get := func(name string) (string, error) {
		i := col[name]
		if i >= len(record) {
			return "", fmt.Errorf("缺少字段 %s", name)
		}
		return strings.TrimSpace(record[i]), nil
	}

	ts, err := get("timestamp")
	if err != nil {
		return bar, err
	}
	bar.Timestamp, err = parseTimestamp(ts)
	if err != nil {
		return bar, err
	}

	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	}
	for _, f := range fields {
		raw, err := get(f.name)
		if err != nil {
			return bar, err
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return bar, fmt.Errorf("解析 %s 失败: %w", f.name, err)
		}
		*f.dst = v
	}
	return bar, nil
}

// parseTimestamp 支持毫秒时间戳、RFC3339 与 YYYY-MM-DD
func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("无法解析时间戳: %q", s)
}
