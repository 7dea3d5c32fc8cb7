package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 回测指标
	backtestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantgate_backtest_runs_total",
			Help: "Total number of backtest runs",
		},
		[]string{"strategy", "status"},
	)

	backtestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantgate_backtest_duration_seconds",
			Help:    "Backtest simulation duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"strategy"},
	)

	backtestTrades = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantgate_backtest_trades",
			Help:    "Number of closed trades per backtest run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"strategy"},
	)

	signalErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantgate_signal_errors_total",
			Help: "Total number of per-bar signal generation failures",
		},
		[]string{"strategy"},
	)

	// 滚动验证指标
	foldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantgate_walkforward_folds_total",
			Help: "Total number of walk-forward folds executed",
		},
		[]string{"strategy", "status"},
	)

	foldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantgate_walkforward_fold_duration_seconds",
			Help:    "Walk-forward fold duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0},
		},
		[]string{"strategy"},
	)

	walkForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantgate_walkforward_duration_seconds",
			Help:    "Total walk-forward validation duration in seconds",
			Buckets: []float64{0.1, 1.0, 5.0, 30.0, 120.0, 600.0},
		},
		[]string{"strategy", "status"},
	)

	// 晋升指标
	promotionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantgate_promotion_attempts_total",
			Help: "Total number of promotion attempts",
		},
		[]string{"transition", "result"},
	)

	// 分布式锁指标
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantgate_lock_acquire_total",
			Help: "Total number of lock acquire attempts",
		},
		[]string{"status"},
	)

	lockHoldDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quantgate_lock_hold_duration_seconds",
			Help:    "Lock hold duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
	)

	// 进程资源指标
	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantgate_process_cpu_percent",
			Help: "Process CPU usage percent",
		},
	)

	processMemoryMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantgate_process_memory_mb",
			Help: "Process resident memory in MB",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantgate_goroutines",
			Help: "Number of goroutines",
		},
	)
)

// PrometheusMetrics Prometheus 指标输出
type PrometheusMetrics struct{}

var instance *PrometheusMetrics

// GetPrometheusMetrics 获取单例
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

// ObserveBacktest 记录一次回测
func (pm *PrometheusMetrics) ObserveBacktest(strategy, status string, duration time.Duration, trades int) {
	backtestRunsTotal.WithLabelValues(strategy, status).Inc()
	if duration > 0 {
		backtestDuration.WithLabelValues(strategy).Observe(duration.Seconds())
		backtestTrades.WithLabelValues(strategy).Observe(float64(trades))
	}
}

// IncSignalErrors 记录信号失败数
func (pm *PrometheusMetrics) IncSignalErrors(strategy string, n int) {
	signalErrorsTotal.WithLabelValues(strategy).Add(float64(n))
}

// ObserveFold 记录一个折叠
func (pm *PrometheusMetrics) ObserveFold(strategy, status string, duration time.Duration) {
	foldsTotal.WithLabelValues(strategy, status).Inc()
	foldDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveWalkForward 记录一次完整的滚动验证
func (pm *PrometheusMetrics) ObserveWalkForward(strategy, status string, duration time.Duration) {
	walkForwardDuration.WithLabelValues(strategy, status).Observe(duration.Seconds())
}

// IncPromotion 记录晋升尝试
func (pm *PrometheusMetrics) IncPromotion(transition, result string) {
	promotionAttemptsTotal.WithLabelValues(transition, result).Inc()
}

// RecordLockAcquire 记录锁获取结果（success/conflict/error）
func (pm *PrometheusMetrics) RecordLockAcquire(status string) {
	lockAcquireTotal.WithLabelValues(status).Inc()
}

// RecordLockHoldDuration 记录持锁时长
func (pm *PrometheusMetrics) RecordLockHoldDuration(duration time.Duration) {
	lockHoldDuration.Observe(duration.Seconds())
}

// SetProcessResources 更新进程资源指标
func (pm *PrometheusMetrics) SetProcessResources(cpuPercent, memoryMB float64, goroutines int) {
	processCPUPercent.Set(cpuPercent)
	processMemoryMB.Set(memoryMB)
	goroutineCount.Set(float64(goroutines))
}
