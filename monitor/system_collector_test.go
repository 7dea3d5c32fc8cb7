package monitor

import (
	"context"
	"testing"
	"time"
)

func TestCollectSystemMetrics(t *testing.T) {
	s, err := CollectSystemMetrics()
	if err != nil {
		t.Skipf("当前环境无法采集进程资源: %v", err)
	}
	if s.MemoryMB <= 0 || s.HeapMB <= 0 {
		t.Errorf("内存采样不合法: %+v", s)
	}
	if s.Goroutines <= 0 || s.ProcessID <= 0 {
		t.Errorf("进程信息不合法: %+v", s)
	}
}

func TestWatchReportsPeak(t *testing.T) {
	if _, err := CollectSystemMetrics(); err != nil {
		t.Skipf("当前环境无法采集进程资源: %v", err)
	}

	stop := Watch(context.Background(), 5*time.Millisecond)
	buf := make([]byte, 8<<20)
	for i := range buf {
		buf[i] = byte(i)
	}
	time.Sleep(30 * time.Millisecond)
	usage := stop()

	if usage.Samples < 1 {
		t.Fatalf("至少应有一次采样, 得到 %d", usage.Samples)
	}
	if usage.PeakMemoryMB <= 0 {
		t.Errorf("峰值内存 = %v", usage.PeakMemoryMB)
	}
	_ = buf[len(buf)-1]
}

func TestWatchStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := Watch(ctx, time.Millisecond)
	cancel()

	done := make(chan Usage, 1)
	go func() { done <- stop() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ctx 取消后 stop 应立即返回")
	}
}
