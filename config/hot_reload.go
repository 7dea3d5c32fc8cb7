package config

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"quantgate/logger"
)

// HotReloader 配置热更新器
// 只把可热更新的配置段合入当前配置，需要重启的变更只做提示
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调，newConfig 为合入后的配置
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{currentConfig: initialConfig}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 对比并应用新配置
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	hot := diff.HotChanges()
	if len(hot) == 0 {
		if diff.RequiresRestart {
			logger.Warn("⚠️ 配置有 %d 项变更需要重启后生效", len(diff.Changes))
		}
		return diff, nil
	}

	merged, err := cloneConfig(hr.currentConfig)
	if err != nil {
		return nil, err
	}
	merged.Promotion = newConfig.Promotion
	merged.Log.Level = newConfig.Log.Level
	merged.WalkForward.Workers = newConfig.WalkForward.Workers
	merged.WalkForward.BudgetSeconds = newConfig.WalkForward.BudgetSeconds
	merged.WalkForward.SampleIntervalMs = newConfig.WalkForward.SampleIntervalMs

	for _, callback := range hr.updateCallbacks {
		if err := callback(hr.currentConfig, merged, hot); err != nil {
			return nil, fmt.Errorf("配置更新回调执行失败: %w", err)
		}
	}
	hr.currentConfig = merged

	logger.Info("🔄 配置热更新完成: %d 项生效", len(hot))
	if diff.RequiresRestart {
		logger.Warn("⚠️ 另有 %d 项变更需要重启后生效", len(diff.Changes)-len(hot))
	}
	return diff, nil
}

// GetCurrentConfig 获取当前配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}

// cloneConfig 通过 YAML 往返深拷贝
func cloneConfig(cfg *Config) (*Config, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("复制配置失败: %w", err)
	}
	var out Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("复制配置失败: %w", err)
	}
	return &out, nil
}
