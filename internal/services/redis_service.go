package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides Redis-backed locks and replay records shared by all
// server instances
type RedisService struct {
	client          *redis.Client
	notificationTTL time.Duration
}

// NewRedisService creates a new Redis service instance
func NewRedisService(client *redis.Client, notificationTTL time.Duration) *RedisService {
	return &RedisService{client: client, notificationTTL: notificationTTL}
}

// Acquire takes the verification lock for key
func (r *RedisService) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKey(key), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Release drops the verification lock for key
func (r *RedisService) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, lockKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsReplay records the notification; a second call with the same id within
// the TTL reports a replay
func (r *RedisService) IsReplay(ctx context.Context, notificationUUID string, signedDate int64) (bool, error) {
	if notificationUUID == "" {
		return false, nil
	}
	key := fmt.Sprintf("appstore_notification:%s", notificationKey(notificationUUID, signedDate))
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), r.notificationTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record notification: %w", err)
	}
	return !ok, nil
}

func lockKey(key string) string {
	return fmt.Sprintf("verify_lock:%s", key)
}
