package clientstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps client state in Redis so it survives restarts and is
// shared between instances.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, clientID, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, storeKey(clientID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client state: %w", err)
	}
	return b, nil
}

func (s *RedisStore) Set(ctx context.Context, clientID, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, storeKey(clientID, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write client state: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, clientID, key string) error {
	if err := s.client.Del(ctx, storeKey(clientID, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete client state: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
