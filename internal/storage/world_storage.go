package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/dgraph-io/badger/v3"
)

var (
	// ErrNotFound запись отсутствует в хранилище
	ErrNotFound = errors.New("storage: запись не найдена")
	// ErrNotReady хранилище закрыто
	ErrNotReady = errors.New("storage: хранилище не готово")
)

const (
	gridKey     = "grid"
	chunkPrefix = "chunk:"
)

// WorldStorage хранит сетку мира и отдельные чанки в BadgerDB
type WorldStorage struct {
	db          *badger.DB
	dbPath      string
	compression voxel.Compression
	mutex       sync.RWMutex
	isReady     bool
}

// NewWorldStorage открывает хранилище в каталоге dataPath/world
func NewWorldStorage(dataPath string, compression voxel.Compression) (*WorldStorage, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	return open(opts, dbPath, compression)
}

// NewInMemoryStorage открывает хранилище без файлов (тесты, временные миры)
func NewInMemoryStorage(compression voxel.Compression) (*WorldStorage, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return open(opts, "", compression)
}

func open(opts badger.Options, dbPath string, compression voxel.Compression) (*WorldStorage, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &WorldStorage{
		db:          db,
		dbPath:      dbPath,
		compression: compression,
		isReady:     true,
	}, nil
}

// Path каталог базы (пусто для хранилища в памяти)
func (ws *WorldStorage) Path() string {
	return ws.dbPath
}

// Close закрывает хранилище данных
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	return ws.db.Close()
}

// SaveGrid сохраняет сетку целиком. Сохранённые отдельно чанки удаляются:
// они уже вошли в сетку.
func (ws *WorldStorage) SaveGrid(grid *voxel.Grid) error {
	data, err := voxel.MarshalGrid(grid, ws.compression)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сетки: %w", err)
	}

	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	keys, err := ws.chunkKeys()
	if err != nil {
		return err
	}

	err = ws.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(gridKey), data); err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения сетки в BadgerDB: %w", err)
	}
	return nil
}

// LoadGrid загружает сохранённую сетку
func (ws *WorldStorage) LoadGrid() (*voxel.Grid, error) {
	data, err := ws.get([]byte(gridKey))
	if err != nil {
		return nil, err
	}

	grid, err := voxel.UnmarshalGrid(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка десериализации сетки: %w", err)
	}
	return grid, nil
}

// SaveChunk сохраняет содержимое одного чанка
func (ws *WorldStorage) SaveChunk(chunk voxel.ChunkData) error {
	return ws.SaveChunks([]voxel.ChunkData{chunk})
}

// SaveChunks сохраняет несколько чанков одной транзакцией
func (ws *WorldStorage) SaveChunks(chunks []voxel.ChunkData) error {
	if len(chunks) == 0 {
		return nil
	}

	payloads := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		data, err := voxel.MarshalChunk(chunk, ws.compression)
		if err != nil {
			return fmt.Errorf("ошибка сериализации чанка %v: %w", chunk.Offset, err)
		}
		payloads[i] = data
	}

	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	err := ws.db.Update(func(txn *badger.Txn) error {
		for i, chunk := range chunks {
			if err := txn.Set(chunkKey(chunk.Offset), payloads[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения чанков в BadgerDB: %w", err)
	}
	return nil
}

// LoadChunk загружает чанк со смещением offset
func (ws *WorldStorage) LoadChunk(offset vec.Vec3) (voxel.ChunkData, error) {
	data, err := ws.get(chunkKey(offset))
	if err != nil {
		return voxel.ChunkData{}, err
	}

	chunk, err := voxel.UnmarshalChunk(data)
	if err != nil {
		return voxel.ChunkData{}, fmt.Errorf("ошибка десериализации чанка %v: %w", offset, err)
	}
	return chunk, nil
}

// ListChunks смещения сохранённых чанков в порядке z, y, x
func (ws *WorldStorage) ListChunks() ([]vec.Vec3, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, ErrNotReady
	}

	keys, err := ws.chunkKeys()
	if err != nil {
		return nil, err
	}

	offsets := make([]vec.Vec3, 0, len(keys))
	for _, key := range keys {
		offset, ok := parseChunkKey(key)
		if !ok {
			continue
		}
		offsets = append(offsets, offset)
	}

	sort.Slice(offsets, func(i, j int) bool {
		a, b := offsets[i], offsets[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return offsets, nil
}

// DeleteChunk удаляет сохранённый чанк
func (ws *WorldStorage) DeleteChunk(offset vec.Vec3) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	return ws.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(chunkKey(offset))
	})
}

func (ws *WorldStorage) get(key []byte) ([]byte, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, ErrNotReady
	}

	var data []byte
	err := ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, nil
}

// chunkKeys ключи всех чанков. Вызывается под ws.mutex.
func (ws *WorldStorage) chunkKeys() ([][]byte, error) {
	var keys [][]byte
	err := ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(chunkPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода чанков в BadgerDB: %w", err)
	}
	return keys, nil
}

func chunkKey(offset vec.Vec3) []byte {
	return []byte(fmt.Sprintf("%s%d:%d:%d", chunkPrefix, offset.X, offset.Y, offset.Z))
}

func parseChunkKey(key []byte) (vec.Vec3, bool) {
	var offset vec.Vec3
	if _, err := fmt.Sscanf(string(key), chunkPrefix+"%d:%d:%d", &offset.X, &offset.Y, &offset.Z); err != nil {
		return vec.Vec3{}, false
	}
	return offset, true
}
