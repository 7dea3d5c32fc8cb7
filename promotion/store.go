package promotion

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store 策略元数据存储，Save 必须对 Version 做比较并交换
type Store interface {
	Get(ctx context.Context, name string) (*StrategyMetadata, error)
	// Create 以 Version=1 写入新策略，已存在返回 ErrAlreadyExists
	Create(ctx context.Context, meta *StrategyMetadata) error
	// Save 仅当存储中的版本等于 meta.Version 时写入，成功后 meta.Version 加一
	Save(ctx context.Context, meta *StrategyMetadata) error
	List(ctx context.Context) ([]*StrategyMetadata, error)
}

// MemoryStore 进程内存储，读写都做深拷贝
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*StrategyMetadata
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*StrategyMetadata)}
}

func (s *MemoryStore) Get(_ context.Context, name string) (*StrategyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.items[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, meta *StrategyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[meta.Name]; ok {
		return fmt.Errorf("%s: %w", meta.Name, ErrAlreadyExists)
	}
	meta.Version = 1
	s.items[meta.Name] = meta.Clone()
	return nil
}

func (s *MemoryStore) Save(_ context.Context, meta *StrategyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[meta.Name]
	if !ok {
		return fmt.Errorf("%s: %w", meta.Name, ErrNotFound)
	}
	if cur.Version != meta.Version {
		return fmt.Errorf("%s 版本 %d != %d: %w", meta.Name, meta.Version, cur.Version, ErrConcurrentUpdate)
	}
	meta.Version++
	s.items[meta.Name] = meta.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*StrategyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*StrategyMetadata, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
