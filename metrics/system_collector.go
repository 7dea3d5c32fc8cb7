package metrics

import (
	"sync"
	"time"

	"quantgate/logger"
	"quantgate/monitor"
)

const defaultSystemInterval = 15 * time.Second

// SystemMetricsCollector 按固定间隔把进程 CPU/RSS/协程数写入 Prometheus 仪表
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once

	mu   sync.RWMutex
	last *monitor.SystemMetrics
}

// NewSystemMetricsCollector interval<=0 时使用 15 秒
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = defaultSystemInterval
	}
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (smc *SystemMetricsCollector) Start() {
	go func() {
		ticker := time.NewTicker(smc.interval)
		defer ticker.Stop()
		for {
			smc.sample()
			select {
			case <-smc.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop 可重复调用
func (smc *SystemMetricsCollector) Stop() {
	smc.stopOnce.Do(func() { close(smc.done) })
}

// Last 最近一次成功的采样，尚未采样时为 nil
func (smc *SystemMetricsCollector) Last() *monitor.SystemMetrics {
	smc.mu.RLock()
	defer smc.mu.RUnlock()
	return smc.last
}

func (smc *SystemMetricsCollector) sample() {
	s, err := monitor.CollectSystemMetrics()
	if err != nil {
		logger.Debug("⚠️ 进程资源采样失败: %v", err)
		return
	}
	smc.pm.SetProcessResources(s.CPUPercent, s.MemoryMB, s.Goroutines)

	smc.mu.Lock()
	smc.last = s
	smc.mu.Unlock()
}
