package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisJobLocker provides single-flight export locking through SET NX. The
// lock value is the holding job's ID so a losing requester can attach to the
// in-flight job; the TTL bounds how long a crashed worker blocks the slot.
type redisJobLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisJobLocker creates a Redis-backed job locker
func NewRedisJobLocker(client *redis.Client, logger *zap.Logger) *redisJobLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisJobLocker{client: client, logger: logger}
}

// Acquire takes the lock for jobID, or returns the holding job's ID
func (l *redisJobLocker) Acquire(ctx context.Context, key, jobID string, ttl time.Duration) (string, bool, error) {
	lockKey := exportLockPrefix + key

	acquired, err := l.client.SetNX(ctx, lockKey, jobID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock acquire failed: %w", err)
	}
	if acquired {
		return "", true, nil
	}

	existing, err := l.client.Get(ctx, lockKey).Result()
	if err == redis.Nil {
		// Holder expired between SetNX and Get; one retry
		acquired, err = l.client.SetNX(ctx, lockKey, jobID, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("lock acquire failed: %w", err)
		}
		return "", acquired, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lock holder lookup failed: %w", err)
	}
	return existing, false, nil
}

// Release drops the lock
func (l *redisJobLocker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, exportLockPrefix+key).Err(); err != nil {
		return fmt.Errorf("lock release failed: %w", err)
	}
	return nil
}
