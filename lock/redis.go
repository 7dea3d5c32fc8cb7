package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 只有 token 匹配的持有者才能释放或续期
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

const retryInterval = 100 * time.Millisecond

// RedisLock 基于 SET NX PX 的分布式锁，多个 quantgate 实例共享同一 Redis 时串行化晋升
type RedisLock struct {
	client     *redis.Client
	prefix     string
	instanceID string

	mu     sync.Mutex
	tokens map[string]string // key -> 本实例持有的 token
}

// NewRedisLock 创建 Redis 分布式锁
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{
		client:     client,
		prefix:     prefix,
		instanceID: randomHex(4),
		tokens:     make(map[string]string),
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (r *RedisLock) key(name string) string {
	return r.prefix + name
}

func (r *RedisLock) acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := r.instanceID + ":" + randomHex(16)
	ok, err := r.client.SetNX(ctx, r.key(name), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", name, err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[name] = token
		r.mu.Unlock()
	}
	return ok, nil
}

func (r *RedisLock) heldToken(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotHeld, name)
	}
	return token, nil
}

// Lock 轮询获取锁，直到成功或 ctx 结束
func (r *RedisLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := r.acquire(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock 尝试获取锁，立即返回
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.acquire(ctx, key, ttl)
}

// Unlock 释放锁；锁已过期并被他人取得时返回 ErrNotHeld
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	token, err := r.heldToken(key)
	if err != nil {
		return err
	}
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(key)}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}

	r.mu.Lock()
	delete(r.tokens, key)
	r.mu.Unlock()

	if n == 0 {
		return fmt.Errorf("%w: %s 已过期", ErrNotHeld, key)
	}
	return nil
}

// Extend 续期
func (r *RedisLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	token, err := r.heldToken(key)
	if err != nil {
		return err
	}
	n, err := refreshScript.Run(ctx, r.client, []string{r.key(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis refresh %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s 已过期", ErrNotHeld, key)
	}
	return nil
}

// Close 关闭连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}

// Ping 检查连接
func (r *RedisLock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
