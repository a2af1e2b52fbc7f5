package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCacheMiss ключ не найден в кеше
var ErrCacheMiss = errors.New("cache: промах")

// MeshCache кеш готовых GLB мешей чанков.
//
// Использование:
//
//	key := cache.ChunkKey(index, chunk.Fingerprint())
//	data, err := c.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		data, _ = export.ChunkGLB(chunk, opts)
//		_ = c.Set(ctx, key, data)
//	}
type MeshCache interface {
	// Get возвращает значение или ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с TTL кеша.
	Set(ctx context.Context, key string, value []byte) error

	// Close освобождает ресурсы кеша.
	Close() error

	// Stats возвращает счётчики попаданий.
	Stats() Stats
}

// Stats счётчики кеша
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRatio доля попаданий среди запросов
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ChunkKey ключ меша чанка. Отпечаток меняется с геометрией,
// поэтому устаревшие записи никогда не запрашиваются и просто истекают.
func ChunkKey(index int, fingerprint uint64) string {
	return fmt.Sprintf("chunk:%d:%x", index, fingerprint)
}

// Options параметры кеша
type Options struct {
	Backend  string // memory | redis
	RedisURL string
	TTL      time.Duration
	MaxCost  int64 // Байт для memory
}

// New создаёт кеш выбранного бэкенда
func New(opts Options) (MeshCache, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryCache(opts.MaxCost, opts.TTL)
	case "redis":
		return NewRedisCache(opts.RedisURL, opts.TTL)
	default:
		return nil, fmt.Errorf("cache: неизвестный бэкенд %q", opts.Backend)
	}
}

// counters общие счётчики бэкендов
type counters struct {
	hits   int64
	misses int64
	sets   int64
}

func (c *counters) hit()  { atomic.AddInt64(&c.hits, 1) }
func (c *counters) miss() { atomic.AddInt64(&c.misses, 1) }
func (c *counters) set()  { atomic.AddInt64(&c.sets, 1) }

func (c *counters) stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Sets:   atomic.LoadInt64(&c.sets),
	}
}
