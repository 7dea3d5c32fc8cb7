package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config 锁配置
type Config struct {
	Enabled    bool
	Type       string // redis | local
	Prefix     string
	DefaultTTL time.Duration
	Redis      RedisConfig
}

// RedisConfig Redis 连接参数
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewDistributedLock 按配置构建锁。未启用时退回进程内锁
func NewDistributedLock(cfg *Config) (DistributedLock, error) {
	if cfg == nil || !cfg.Enabled {
		return NewLocalLock(), nil
	}

	switch cfg.Type {
	case "", "local":
		return NewLocalLock(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		l := NewRedisLock(client, cfg.Prefix)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Redis.Addr, err)
		}
		return l, nil
	}
	return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
}
