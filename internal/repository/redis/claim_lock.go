package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/repository"
)

var _ repository.ClaimLock = (*redisClaimLock)(nil)

const (
	lockKeyPrefix = "howtobuddy:claim:"
	lockTTL       = 30 * time.Minute
)

type redisClaimLock struct {
	client *goredis.Client
}

// NewRedisClaimLock creates a Redis-backed claim lock using SETNX.
func NewRedisClaimLock(client *goredis.Client) repository.ClaimLock {
	return &redisClaimLock{client: client}
}

// Acquire uses Redis SETNX to atomically acquire a processing lock.
func (r *redisClaimLock) Acquire(ctx context.Context, jobID uuid.UUID) (bool, error) {
	key := lockKeyPrefix + jobID.String()
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire claim lock: %w", err)
	}
	return ok, nil
}

// Release sets a short TTL on the lock key for eventual cleanup. The key is
// kept around briefly so a racing claim attempt still observes it.
func (r *redisClaimLock) Release(ctx context.Context, jobID uuid.UUID) error {
	key := lockKeyPrefix + jobID.String()
	return r.client.Expire(ctx, key, time.Minute).Err()
}
