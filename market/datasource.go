package market

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DataSource 历史数据源，返回 [start, end) 内按时间排序的 bar
// 区间内为空时返回 *NotFoundError，缺列时返回 *SchemaError
type DataSource interface {
	Load(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// DataSourceFunc 函数适配为 DataSource
type DataSourceFunc func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)

// Load 调用函数本身
func (f DataSourceFunc) Load(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	return f(ctx, symbol, start, end)
}

// MemorySource 内存数据源，主要用于测试和已加载数据的复用
type MemorySource struct {
	mu   sync.RWMutex
	bars map[string][]Bar
}

// NewMemorySource 创建内存数据源
func NewMemorySource() *MemorySource {
	return &MemorySource{bars: make(map[string][]Bar)}
}

// Put 写入（覆盖）某个品种的数据
func (m *MemorySource) Put(symbol string, bars []Bar) {
	cp := make([]Bar, len(bars))
	copy(cp, bars)
	SortBars(cp)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[NormalizeSymbol(symbol)] = cp
}

// Load 实现 DataSource
func (m *MemorySource) Load(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	all := m.bars[NormalizeSymbol(symbol)]
	m.mu.RUnlock()

	bars := FilterRange(all, start, end)
	if len(bars) == 0 {
		return nil, &NotFoundError{Symbol: symbol, Start: start, End: end}
	}
	return bars, nil
}

// CachedSource 按品种缓存整段预取数据，后续请求从内存切片
// 加载失败不缓存；ttl > 0 时过期后重新拉取
type CachedSource struct {
	inner DataSource
	start time.Time
	end   time.Time
	ttl   time.Duration
	now   func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	bars     []Bar
	loadedAt time.Time
}

// NewCachedSource 预取区间为 [start, end) 的缓存数据源，end 为零表示到当前
func NewCachedSource(inner DataSource, start, end time.Time, ttl time.Duration) *CachedSource {
	return &CachedSource{
		inner: inner,
		start: start,
		end:   end,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// Load 首次访问或缓存过期时加载完整区间，超出预取区间的请求直接透传
func (c *CachedSource) Load(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if start.Before(c.start) || (!c.end.IsZero() && (end.IsZero() || end.After(c.end))) {
		return c.inner.Load(ctx, symbol, start, end)
	}

	key := NormalizeSymbol(symbol)
	all, ok := c.fresh(key)
	if !ok {
		// 同一品种并发请求只拉取一次；加载不随单个调用方取消
		ch := c.group.DoChan(key, func() (interface{}, error) {
			bars, err := c.inner.Load(context.WithoutCancel(ctx), symbol, c.start, c.end)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.cache[key] = cacheEntry{bars: bars, loadedAt: c.now()}
			c.mu.Unlock()
			return bars, nil
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			all = res.Val.([]Bar)
		}
	}

	bars := FilterRange(all, start, end)
	if len(bars) == 0 {
		return nil, &NotFoundError{Symbol: symbol, Start: start, End: end}
	}
	return bars, nil
}

func (c *CachedSource) fresh(key string) ([]Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.loadedAt) >= c.ttl {
		return nil, false
	}
	return entry.bars, true
}
