// Package monitor 进程资源采样
package monitor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics 一次资源采样
type SystemMetrics struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"` // RSS
	HeapMB     float64   `json:"heap_mb"`
	Goroutines int       `json:"goroutines"`
	ProcessID  int       `json:"process_id"`
}

// CollectSystemMetrics 采集当前进程的资源占用
func CollectSystemMetrics() (*SystemMetrics, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("获取进程失败: %w", err)
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		// 进程级 CPU 不可用时退回系统 CPU
		cpuPercent, err = systemCPUPercent()
		if err != nil {
			return nil, fmt.Errorf("获取CPU占用率失败: %w", err)
		}
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("获取内存信息失败: %w", err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return &SystemMetrics{
		Timestamp:  time.Now(),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		HeapMB:     float64(ms.HeapAlloc) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		ProcessID:  pid,
	}, nil
}

func systemCPUPercent() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("无法获取CPU使用率")
	}
	return percentages[0], nil
}

// Usage 一段时间内的资源峰值
type Usage struct {
	PeakMemoryMB float64 `json:"peak_memory_mb"`
	PeakCPU      float64 `json:"peak_cpu_percent"`
	Samples      int     `json:"samples"`
}

// Watch 在后台按间隔采样，返回的函数停止采样并给出峰值
func Watch(ctx context.Context, interval time.Duration) func() Usage {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)

	var (
		mu    sync.Mutex
		usage Usage
		wg    sync.WaitGroup
	)
	record := func() {
		s, err := CollectSystemMetrics()
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		usage.Samples++
		if s.MemoryMB > usage.PeakMemoryMB {
			usage.PeakMemoryMB = s.MemoryMB
		}
		if s.CPUPercent > usage.PeakCPU {
			usage.PeakCPU = s.CPUPercent
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		record()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				record()
			}
		}
	}()

	return func() Usage {
		cancel()
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		return usage
	}
}
