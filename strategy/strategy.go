// Package strategy 策略接口、注册表与内置策略
package strategy

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"quantgate/market"
)

// Strategy 交易策略
// GenerateSignal 只能看到截至当前 bar（含）的窗口；返回 nil 表示不操作
// 同一实例会被多个折叠并发调用，实现不得保存跨调用状态
type Strategy interface {
	Name() string
	GenerateSignal(window []market.Bar) (*market.Signal, error)
}

// Registry 名称到策略实例的映射，由调用方构造并注入，不使用全局单例
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register 按 Name() 注册，重复注册返回错误
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name()]; exists {
		return fmt.Errorf("策略 %s 已注册", s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

// Get 按名称查找
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// List 已注册策略名称（排序）
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params 策略参数（来自 YAML 配置）
type Params map[string]interface{}

// Float 读取浮点参数，缺失或类型不符时返回默认值
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int 读取整数参数
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Factory 根据参数构造策略实例
type Factory func(name string, params Params) (Strategy, error)

// factories 内置策略类型
var factories = map[string]Factory{
	"momentum":        NewMomentum,
	"mean_reversion":  NewMeanReversion,
	"trend_following": NewTrendFollowing,
}

// Types 内置策略类型列表
func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build 按类型创建内置策略
func Build(kind, name string, params Params) (Strategy, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("未知策略类型: %s", kind)
	}
	if name == "" {
		name = kind
	}
	return factory(name, params)
}

// DefaultRegistry 注册三个使用默认参数的内置策略
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, kind := range Types() {
		s, err := Build(kind, kind, nil)
		if err != nil {
			continue
		}
		_ = r.Register(s)
	}
	return r
}
