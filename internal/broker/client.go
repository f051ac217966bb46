package broker

import (
	"context"

	"github.com/go-redis/redis/v8"

	"mockstagram-data-pipeline/internal/config"
)

// NewClient 创建Redis客户端（Streams 作为消息通道）
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	return client.Close()
}
