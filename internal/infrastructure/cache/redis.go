package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/config"
)

// Key prefixes, namespaced so the audit vault can share a Redis instance
const (
	rateLimitPrefix  = "audit:ratelimit:"
	exportLockPrefix = "audit:lock:"
)

// NewRedisClient connects and health-checks a Redis client
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if logger != nil {
		logger.Info("redis initialized",
			zap.String("addr", cfg.URL),
			zap.Int("db", cfg.DB))
	}

	return client, nil
}
