package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/annel0/sandblox/internal/eventbus"
	"github.com/annel0/sandblox/internal/logging"
	"github.com/annel0/sandblox/internal/voxel"
)

// ChunkSource отдаёт снимок блоков чанка по номеру
type ChunkSource interface {
	ChunkData(index int) (voxel.ChunkData, bool)
}

// Syncer копит номера изменённых чанков и периодически сохраняет их
type Syncer struct {
	storage *WorldStorage
	source  ChunkSource
	logger  *logging.Logger

	mu    sync.Mutex
	dirty map[int]struct{}
}

// NewSyncer создаёт синхронизатор чанков source с хранилищем storage
func NewSyncer(storage *WorldStorage, source ChunkSource) *Syncer {
	return &Syncer{
		storage: storage,
		source:  source,
		logger:  logging.GetStorageLogger(),
		dirty:   make(map[int]struct{}),
	}
}

// Mark помечает чанки для сохранения
func (s *Syncer) Mark(indices ...int) {
	s.mu.Lock()
	for _, index := range indices {
		s.dirty[index] = struct{}{}
	}
	s.mu.Unlock()
}

// Pending количество чанков, ожидающих сохранения
func (s *Syncer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// HandleEvent обработчик шины: помечает чанки из BlockChanged и ChunkApplied
func (s *Syncer) HandleEvent(_ context.Context, ev *eventbus.Envelope) {
	switch ev.EventType {
	case eventbus.TypeBlockChanged:
		var changed eventbus.BlockChanged
		if err := ev.Decode(&changed); err != nil {
			s.logger.Warn("Событие %s: %v", ev.ID, err)
			return
		}
		s.Mark(changed.Chunks...)
	case eventbus.TypeChunkApplied:
		var applied eventbus.ChunkApplied
		if err := ev.Decode(&applied); err != nil {
			s.logger.Warn("Событие %s: %v", ev.ID, err)
			return
		}
		s.Mark(applied.Index)
	}
}

// Flush сохраняет помеченные чанки. При ошибке пометки возвращаются.
func (s *Syncer) Flush() (int, error) {
	s.mu.Lock()
	indices := make([]int, 0, len(s.dirty))
	for index := range s.dirty {
		indices = append(indices, index)
	}
	s.dirty = make(map[int]struct{})
	s.mu.Unlock()

	if len(indices) == 0 {
		return 0, nil
	}
	sort.Ints(indices)

	chunks := make([]voxel.ChunkData, 0, len(indices))
	for _, index := range indices {
		if chunk, ok := s.source.ChunkData(index); ok {
			chunks = append(chunks, chunk)
		}
	}

	if err := s.storage.SaveChunks(chunks); err != nil {
		s.Mark(indices...)
		return 0, err
	}
	s.logger.Debug("Сохранено чанков: %d", len(chunks))
	return len(chunks), nil
}

// Run сохраняет чанки каждые interval до отмены ctx, затем выполняет последний Flush
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := s.Flush(); err != nil {
				s.logger.Error("Финальное сохранение чанков: %v", err)
			}
			return
		case <-ticker.C:
			if _, err := s.Flush(); err != nil {
				s.logger.Error("Сохранение чанков: %v", err)
			}
		}
	}
}
