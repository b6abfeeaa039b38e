package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// KV is a string key-value store
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// RedisKV stores values in Redis under a common prefix
type RedisKV struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisClient
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient opens a client without contacting the server
func NewRedisClient(opts RedisOptions) *redis.Client {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// NewRedisKV wraps client; prefix may be empty
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisKV) Put(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MemoryKV keeps values in process memory; used when Redis is disabled
type MemoryKV struct {
	c *cache.Cache
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{c: cache.New(cache.Options{})}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *MemoryKV) Put(_ context.Context, key, value string) error {
	m.c.Set(key, value)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
