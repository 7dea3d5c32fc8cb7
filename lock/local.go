package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLock 进程内按 key 互斥的锁（单实例部署）
// ttl 到期后锁自动失效，与 Redis 实现的语义一致
type LocalLock struct {
	mu    sync.Mutex
	held  map[string]time.Time // key -> 过期时间
	waitc map[string]chan struct{}
}

// NewLocalLock 创建进程内锁
func NewLocalLock() *LocalLock {
	return &LocalLock{
		held:  make(map[string]time.Time),
		waitc: make(map[string]chan struct{}),
	}
}

func (l *LocalLock) tryAcquire(key string, ttl time.Duration) (bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && time.Now().Before(exp) {
		ch, ok := l.waitc[key]
		if !ok {
			ch = make(chan struct{})
			l.waitc[key] = ch
		}
		return false, ch
	}
	l.held[key] = time.Now().Add(ttl)
	return true, nil
}

// Lock 获取锁，阻塞直到成功或 ctx 结束
func (l *LocalLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	for {
		ok, wait := l.tryAcquire(key, ttl)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		case <-time.After(100 * time.Millisecond):
			// 持有者未释放时依靠 ttl 过期
		}
	}
}

// TryLock 尝试获取锁，立即返回
func (l *LocalLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, _ := l.tryAcquire(key, ttl)
	return ok, nil
}

// Unlock 释放锁并唤醒等待者
func (l *LocalLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}
	delete(l.held, key)
	if ch, ok := l.waitc[key]; ok {
		close(ch)
		delete(l.waitc, key)
	}
	return nil
}

// Extend 延长锁的过期时间
func (l *LocalLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.held[key]
	if !ok || time.Now().After(exp) {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}
	l.held[key] = time.Now().Add(ttl)
	return nil
}

// Close 无资源需要释放
func (l *LocalLock) Close() error { return nil }
