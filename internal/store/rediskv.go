package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisKV is a Redis-backed KV store for deployments where several agent
// instances share attribution state. Keys follow the
// namespace:context:entity convention via KeyBuilder.
type RedisKV struct {
	client *redis.Client
	kb     *KeyBuilder
	log    *zap.Logger
}

// RedisOptions configures a RedisKV connection.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// NewRedisKV connects to Redis and verifies the connection with a ping.
func NewRedisKV(ctx context.Context, opts RedisOptions, log *zap.Logger) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", ErrUnavailable, err)
	}
	return &RedisKV{
		client: client,
		kb:     NewKeyBuilder(opts.Namespace, "state"),
		log:    log.With(zap.String("module", "rediskv")),
	}, nil
}

func (kv *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := kv.client.Get(ctx, kv.kb.Build(key, "")).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		kv.log.Error("failed to get key",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, true, nil
}

func (kv *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := kv.client.Set(ctx, kv.kb.Build(key, ""), value, ttl).Err(); err != nil {
		kv.log.Error("failed to set key",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (kv *RedisKV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, kv.kb.Build(key, "")).Err(); err != nil {
		kv.log.Error("failed to delete key",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (kv *RedisKV) Close() error {
	return kv.client.Close()
}
