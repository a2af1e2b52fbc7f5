package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/annel0/sandblox/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache кеш мешей в Redis, общий для нескольких процессов
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	counters
}

// NewRedisCache подключается к Redis. url - адрес host:port или redis://...
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts := &redis.Options{
		Addr:         url,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("cache: адрес Redis %q: %w", url, err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis cache initialized: %s (TTL %v)", opts.Addr, ttl)
	return &RedisCache{client: rdb, ttl: ttl}, nil
}

// Get получает значение по ключу
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.miss()
		return nil, ErrCacheMiss
	}
	if err != nil {
		r.miss()
		return nil, fmt.Errorf("cache: redis get %s: %w", key, err)
	}
	r.hit()
	return val, nil
}

// Set сохраняет значение с TTL кеша (0 - без истечения)
func (r *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %s: %w", key, err)
	}
	r.set()
	return nil
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Stats возвращает счётчики кеша
func (r *RedisCache) Stats() Stats {
	return r.stats()
}

var _ MeshCache = (*RedisCache)(nil)
