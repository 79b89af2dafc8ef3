package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmsync/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "import:lock:"

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisPassLocker holds pass locks in redis so that several daemons sharing
// one redis never run the same backend/entity pass at once.
type RedisPassLocker struct {
	client *redis.Client
}

func NewRedisPassLocker(client *redis.Client) *RedisPassLocker {
	return &RedisPassLocker{client: client}
}

func (r *RedisPassLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if r.client == nil {
		return nil, false, errors.New("redis client is nil")
	}
	token := uuid.NewString()
	redisKey := lockKeyPrefix + key

	ok, err := r.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// the caller's context may already be canceled when the pass ends
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err()
	}
	return unlock, true, nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes client if it is set.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
