package redis

import (
	"context"
	"fmt"
	"time"

	"wisefido-kiosk/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

const defaultPingTimeout = 3 * time.Second

// NewRedisClient 创建Redis客户端
// 阻塞读（XREADGROUP BLOCK）的读超时由 go-redis 按 block 时长自动放宽，这里不单独设置
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
}

// Ping 测试Redis连接，ctx 没有截止时间时使用默认超时
func Ping(ctx context.Context, client *redis.Client) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPingTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	return nil
}

// Close 关闭Redis连接，client 为 nil 时忽略
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
