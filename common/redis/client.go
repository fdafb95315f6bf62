package redis

import (
	"context"
	"fmt"
	"time"

	"owl-thermo/common/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Client Redis客户端类型别名
type Client = redis.Client

// dialTimeout 启动自检时单次连接超时
const dialTimeout = 3 * time.Second

// Connect 创建客户端并立即 PING，失败时关闭客户端并返回错误
func Connect(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}
