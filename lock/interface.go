// Package lock 策略元数据变更的互斥锁：Redis 分布式锁与进程内锁
package lock

import (
	"context"
	"errors"
	"time"

	"quantgate/logger"
)

// ErrNotHeld 释放或续期一个未持有（或已过期）的锁
var ErrNotHeld = errors.New("lock not held")

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或 ctx 结束
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// TryLock 尝试获取锁，立即返回
	// 返回 true 表示成功获取锁，false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}

// Observer 锁获取与持有时长的观测回调
type Observer interface {
	RecordLockAcquire(status string)
	RecordLockHoldDuration(d time.Duration)
}

// WithLock 持有 key 的锁执行 fn，结束后释放
func WithLock(ctx context.Context, l DistributedLock, key string, ttl time.Duration, obs Observer, fn func() error) error {
	if err := l.Lock(ctx, key, ttl); err != nil {
		if obs != nil {
			obs.RecordLockAcquire("failed")
		}
		return err
	}
	if obs != nil {
		obs.RecordLockAcquire("acquired")
	}
	held := time.Now()
	defer func() {
		// 释放使用独立 context，调用方取消后仍能解锁
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Unlock(unlockCtx, key); err != nil {
			logger.Warn("⚠️ 释放锁失败: key=%s, %v", key, err)
		}
		if obs != nil {
			obs.RecordLockHoldDuration(time.Since(held))
		}
	}()
	return fn()
}
