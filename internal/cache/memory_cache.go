package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// MemoryCache кеш в памяти процесса на ristretto. Стоимость записи равна её длине.
type MemoryCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
	counters
}

// NewMemoryCache создаёт кеш объёмом maxCost байт
func NewMemoryCache(maxCost int64, ttl time.Duration) (*MemoryCache, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: ristretto: %w", err)
	}
	return &MemoryCache{cache: c, ttl: ttl}, nil
}

// Get возвращает копию значения
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := m.cache.Get(key)
	if !ok {
		m.miss()
		return nil, ErrCacheMiss
	}
	data, ok := value.([]byte)
	if !ok {
		m.miss()
		return nil, ErrCacheMiss
	}
	m.hit()
	return append([]byte(nil), data...), nil
}

// Set сохраняет копию значения. Запись применяется асинхронно;
// ristretto может её отклонить, это не ошибка.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	data := append([]byte(nil), value...)
	m.cache.SetWithTTL(key, data, int64(len(data)), m.ttl)
	m.set()
	return nil
}

// Wait дожидается применения отложенных записей
func (m *MemoryCache) Wait() {
	m.cache.Wait()
}

// Close останавливает фоновые горутины ristretto
func (m *MemoryCache) Close() error {
	m.cache.Close()
	return nil
}

// Stats возвращает счётчики кеша
func (m *MemoryCache) Stats() Stats {
	return m.stats()
}

var _ MeshCache = (*MemoryCache)(nil)
