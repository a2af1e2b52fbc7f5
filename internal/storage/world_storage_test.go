package storage

import (
	"context"
	"testing"

	"github.com/annel0/sandblox/internal/eventbus"
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *WorldStorage {
	t.Helper()
	storage, err := NewWorldStorage(t.TempDir(), voxel.CompressionZstd)
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testGrid(t *testing.T) *voxel.Grid {
	t.Helper()
	grid, err := voxel.NewGrid(40, 33, 20)
	require.NoError(t, err)
	grid.FillGround(4, func(pos vec.Vec3) uint8 { return uint8(pos.X%3 + 1) })
	grid.SetType(vec.Vec3{X: 39, Y: 32, Z: 19}, 9)
	return grid
}

func TestSaveAndLoadGrid(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.LoadGrid()
	assert.ErrorIs(t, err, ErrNotFound, "Пустое хранилище")

	grid := testGrid(t)
	require.NoError(t, storage.SaveGrid(grid))

	loaded, err := storage.LoadGrid()
	require.NoError(t, err)
	assert.Equal(t, grid.Size(), loaded.Size())
	assert.Equal(t, grid.Bytes(), loaded.Bytes())
}

func TestGridSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	grid := testGrid(t)

	storage, err := NewWorldStorage(dir, voxel.CompressionNone)
	require.NoError(t, err)
	require.NoError(t, storage.SaveGrid(grid))
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close(), "Повторное закрытие безопасно")

	_, err = storage.LoadGrid()
	assert.ErrorIs(t, err, ErrNotReady)

	reopened, err := NewWorldStorage(dir, voxel.CompressionNone)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadGrid()
	require.NoError(t, err)
	assert.Equal(t, grid.Bytes(), loaded.Bytes())
}

func TestSaveAndLoadChunks(t *testing.T) {
	storage := setupTestStorage(t)
	grid := testGrid(t)

	first := grid.ChunkBlocks(vec.Vec3{X: 32})
	second := grid.ChunkBlocks(vec.Vec3{Y: 32})
	require.NoError(t, storage.SaveChunks([]voxel.ChunkData{first, second}))
	require.NoError(t, storage.SaveChunk(grid.ChunkBlocks(vec.Vec3{})))

	offsets, err := storage.ListChunks()
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec3{{}, {X: 32}, {Y: 32}}, offsets)

	loaded, err := storage.LoadChunk(vec.Vec3{X: 32})
	require.NoError(t, err)
	assert.Equal(t, first.Offset, loaded.Offset)
	assert.Equal(t, first.Blocks, loaded.Blocks)

	_, err = storage.LoadChunk(vec.Vec3{Z: 32})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.DeleteChunk(vec.Vec3{}))
	offsets, err = storage.ListChunks()
	require.NoError(t, err)
	assert.Len(t, offsets, 2)

	// Сохранение сетки поглощает отдельные чанки
	require.NoError(t, storage.SaveGrid(grid))
	offsets, err = storage.ListChunks()
	require.NoError(t, err)
	assert.Empty(t, offsets)
}

type fakeSource struct {
	grid *voxel.Grid
}

func (f fakeSource) ChunkData(index int) (voxel.ChunkData, bool) {
	if index < 0 || index > 3 {
		return voxel.ChunkData{}, false
	}
	offset := vec.Vec3{X: index % 2 * voxel.ChunkSize, Y: index / 2 * voxel.ChunkSize}
	return f.grid.ChunkBlocks(offset), true
}

func TestSyncerFlushesMarkedChunks(t *testing.T) {
	storage, err := NewInMemoryStorage(voxel.CompressionZstd)
	require.NoError(t, err)
	defer storage.Close()

	grid := testGrid(t)
	syncer := NewSyncer(storage, fakeSource{grid: grid})

	saved, err := syncer.Flush()
	require.NoError(t, err)
	assert.Zero(t, saved, "Нечего сохранять")

	syncer.Mark(1, 3, 1, 7)
	assert.Equal(t, 3, syncer.Pending())

	ev, err := eventbus.NewEnvelope("test", eventbus.TypeBlockChanged, "c", 5, eventbus.BlockChanged{Chunks: []int{0}})
	require.NoError(t, err)
	syncer.HandleEvent(context.Background(), ev)
	assert.Equal(t, 4, syncer.Pending())

	ev, err = eventbus.NewEnvelope("test", eventbus.TypeChunkApplied, "c", 5, eventbus.ChunkApplied{Index: 2, Changed: 10})
	require.NoError(t, err)
	syncer.HandleEvent(context.Background(), ev)
	assert.Equal(t, 5, syncer.Pending())

	saved, err = syncer.Flush()
	require.NoError(t, err)
	assert.Equal(t, 4, saved, "Чанк 7 не существует")
	assert.Zero(t, syncer.Pending())

	offsets, err := storage.ListChunks()
	require.NoError(t, err)
	assert.Equal(t, []vec.Vec3{{}, {X: 32}, {Y: 32}, {X: 32, Y: 32}}, offsets)

	require.NoError(t, storage.Close())
	syncer.Mark(2)
	_, err = syncer.Flush()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 1, syncer.Pending(), "Пометки возвращаются после ошибки")
}
