package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"elexis-pipeline/internal/config"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// LockStore 分布式锁与完成标记
type LockStore interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
	MarkDone(ctx context.Context, key string, ttl time.Duration) error
	IsDone(ctx context.Context, key string) (bool, error)
}

var _ LockStore = (*Redis)(nil)

// 比较持有者后删除，保证只释放自己的锁
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis 客户端封装
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建连接，挂载 OpenTelemetry 钩子并 Ping
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时，0 使用 go-redis 默认值
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries: cfg.MaxRetries,
	}
	client := redis.NewClient(opt)

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return &Redis{Client: client, config: cfg}, nil
}

// NewRedisFromClient 包装已有客户端
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

func (r *Redis) Close() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// AcquireLock 尝试获取锁。返回空字符串表示锁被他人持有。
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := uuid.Must(uuid.NewV4()).String()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return lockValue, nil
}

// ReleaseLock 释放锁，锁已过期或不属于调用方时返回 false
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	res, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// MarkDone 写入完成标记
func (r *Redis) MarkDone(ctx context.Context, key string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// IsDone 完成标记是否存在
func (r *Redis) IsDone(ctx context.Context, key string) (bool, error) {
	err := r.Client.Get(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
