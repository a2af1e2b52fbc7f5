package world

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/annel0/sandblox/internal/eventbus"
	"github.com/annel0/sandblox/internal/mesh"
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EditResult итог правки
type EditResult struct {
	Changed  bool     `json:"changed"`  // Изменилась занятость (или яркость), меши пересобраны
	Position vec.Vec3 `json:"position"` // Блок, к которому применена правка
	Previous uint8    `json:"previous"` // Тип блока до правки
	Chunks   []int    `json:"chunks"`   // Пересобранные чанки по возрастанию
	Slices   int      `json:"slices"`   // Пересчитанных срезов
}

// chunkBuild итог сборки одного чанка в правке
type chunkBuild struct {
	stats       mesh.RebuildStats
	fingerprint uint64
}

// batch набор затронутых чанков одной правки
type batch struct {
	chunks map[int]struct{}
	slices int
}

func newBatch() *batch {
	return &batch{chunks: make(map[int]struct{}, 2)}
}

func (b *batch) touch(index int) {
	b.chunks[index] = struct{}{}
}

func (b *batch) sorted() []int {
	indices := make([]int, 0, len(b.chunks))
	for index := range b.chunks {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// SetBlock записывает тип блока pos и пересобирает затронутую геометрию.
// Правка, не меняющая занятость блока, ничего не делает.
func (w *World) SetBlock(ctx context.Context, pos vec.Vec3, blockType uint8) EditResult {
	ctx, span := w.tracer.Start(ctx, "world.SetBlock", trace.WithAttributes(
		attribute.Int("block.x", pos.X),
		attribute.Int("block.y", pos.Y),
		attribute.Int("block.z", pos.Z),
		attribute.Int("block.type", int(blockType)),
	))
	defer span.End()

	result := w.setBlock(ctx, pos, blockType, "set")
	span.SetAttributes(attribute.Bool("block.changed", result.Changed), attribute.Int("block.slices", result.Slices))
	return result
}

func (w *World) setBlock(ctx context.Context, pos vec.Vec3, blockType uint8, cause string) EditResult {
	started := time.Now()

	w.mu.Lock()
	result := EditResult{Position: pos, Previous: w.grid.GetType(pos)}

	var stats map[int]chunkBuild
	if w.grid.SetType(pos, blockType) {
		b := newBatch()
		w.propagate(pos, b)
		result.Changed = true
		result.Slices = b.slices
		result.Chunks = b.sorted()
		stats = w.rebuild(result.Chunks)
	}
	w.mu.Unlock()

	w.metrics.observeEdit(result.Changed, result.Slices, time.Since(started).Seconds())
	if !result.Changed {
		return result
	}

	w.logger.Debug("Блок %v: %d -> %d (%s), срезов %d, чанки %v", pos, result.Previous, blockType, cause, result.Slices, result.Chunks)
	w.publishEdit(ctx, result, blockType, cause, stats)
	return result
}

// propagate помечает срезы, которые меняются при смене занятости блока pos.
// Для каждой стороны: если сосед пуст, меняется своя грань блока;
// иначе меняется противоположная грань соседа, возможно в другом чанке.
func (w *World) propagate(pos vec.Vec3, b *batch) {
	own := w.chunkIndex(pos)
	local := LocalPosition(pos)
	b.touch(own)

	for side := voxel.FaceTop; side <= voxel.FaceNorth; side++ {
		if w.grid.IsAdjacentEmpty(pos, side) {
			if w.chunks[own].UpdateSlice(w.mask, local, side) {
				b.slices++
			}
			continue
		}

		// Непустой сосед всегда внутри сетки
		adjacent := voxel.AdjacentPosition(pos, side)
		index := w.chunkIndex(adjacent)
		b.touch(index)
		if w.chunks[index].UpdateSlice(w.mask, LocalPosition(adjacent), side.Opposite()) {
			b.slices++
		}
	}
}

// rebuild собирает меши чанков и обновляет сводки. Вызывается под w.mu.
func (w *World) rebuild(indices []int) map[int]chunkBuild {
	stats := make(map[int]chunkBuild, len(indices))
	quads, vertices := 0, 0

	for _, index := range indices {
		begin := time.Now()
		s := w.chunks[index].Rebuild()
		w.metrics.observeRebuild(s, time.Since(begin).Seconds())

		w.quads[index] = s.Quads
		w.verts[index] = s.Vertices

		build := chunkBuild{stats: s}
		if w.bus != nil {
			build.fingerprint = w.chunks[index].Fingerprint()
		}
		stats[index] = build
	}

	for i := range w.quads {
		quads += w.quads[i]
		vertices += w.verts[i]
	}
	w.metrics.setTotals(quads, vertices)
	return stats
}

// PlaceOrRemoveBlock проводит луч из точки origin (мировые единицы) в направлении aim.
// blockType == 0 удаляет задетый блок, иначе ставит блок перед задетой гранью.
// Возвращает итог правки и результат луча.
func (w *World) PlaceOrRemoveBlock(ctx context.Context, origin, aim vec.Vec3Float, blockType uint8) (EditResult, voxel.RayHit) {
	ctx, span := w.tracer.Start(ctx, "world.PlaceOrRemoveBlock", trace.WithAttributes(
		attribute.Int("block.type", int(blockType)),
	))
	defer span.End()

	blockOrigin := origin.Mul(1 / w.opts.Mesh.BlockSize)
	hit := w.CastRay(blockOrigin, aim, w.opts.MaxRayDistance)
	span.SetAttributes(attribute.String("ray.face", hit.Face.String()), attribute.Float64("ray.distance", hit.Distance))
	if !hit.Valid() {
		w.metrics.observeEdit(false, 0, 0)
		return EditResult{}, hit
	}

	target := hit.Position
	cause := "remove"
	if blockType != voxel.AirBlockType {
		target = voxel.AdjacentPosition(hit.Position, hit.Face)
		cause = "place"
	}

	result := w.setBlock(ctx, target, blockType, cause)
	span.SetAttributes(attribute.Bool("block.changed", result.Changed))
	return result, hit
}

// SetBrightness меняет яркость блока и пересчитывает его видимые грани
func (w *World) SetBrightness(ctx context.Context, pos vec.Vec3, brightness uint8) EditResult {
	ctx, span := w.tracer.Start(ctx, "world.SetBrightness")
	defer span.End()
	started := time.Now()

	w.mu.Lock()
	result := EditResult{Position: pos, Previous: w.grid.GetType(pos)}

	var stats map[int]chunkBuild
	// В режиме только коллизий яркость не влияет на геометрию
	if w.grid.SetBrightness(pos, brightness) && !w.grid.IsEmpty(pos) && !w.opts.Mesh.CollisionOnly {
		own := w.chunkIndex(pos)
		local := LocalPosition(pos)
		b := newBatch()
		b.touch(own)

		// Яркость грани принадлежит её блоку: меняются только его видимые грани
		for side := voxel.FaceTop; side <= voxel.FaceNorth; side++ {
			if w.grid.IsAdjacentEmpty(pos, side) && w.chunks[own].UpdateSlice(w.mask, local, side) {
				b.slices++
			}
		}

		result.Changed = true
		result.Slices = b.slices
		result.Chunks = b.sorted()
		stats = w.rebuild(result.Chunks)
	}
	w.mu.Unlock()

	w.metrics.observeEdit(result.Changed, result.Slices, time.Since(started).Seconds())
	if result.Changed {
		w.publishEdit(ctx, result, result.Previous, "brightness", stats)
	}
	return result
}

// ApplyChunk записывает полученное содержимое чанка и пересобирает его
// вместе с соседними чанками, чьи граничные грани могли измениться.
func (w *World) ApplyChunk(ctx context.Context, data voxel.ChunkData) (EditResult, error) {
	ctx, span := w.tracer.Start(ctx, "world.ApplyChunk")
	defer span.End()

	if data.Offset.X%voxel.ChunkSize != 0 || data.Offset.Y%voxel.ChunkSize != 0 || data.Offset.Z%voxel.ChunkSize != 0 {
		return EditResult{}, fmt.Errorf("world: смещение чанка %v не кратно %d", data.Offset, voxel.ChunkSize)
	}
	index, ok := w.ChunkIndexOf(data.Offset)
	if !ok {
		return EditResult{}, fmt.Errorf("world: чанк %v вне мира", data.Offset)
	}

	w.mu.Lock()
	changed, err := w.grid.SetChunkBlocks(data)
	if err != nil {
		w.mu.Unlock()
		span.RecordError(err)
		return EditResult{}, fmt.Errorf("world: чанк %v: %w", data.Offset, err)
	}

	result := EditResult{Position: data.Offset}
	var stats map[int]chunkBuild
	if changed > 0 {
		b := newBatch()
		b.touch(index)
		for side := voxel.FaceTop; side <= voxel.FaceNorth; side++ {
			neighbor := data.Offset.Add(voxel.Directions[side].Scale(voxel.ChunkSize))
			if n, ok := w.ChunkIndexOf(neighbor); ok {
				b.touch(n)
			}
		}

		result.Changed = true
		result.Chunks = b.sorted()
		for _, i := range result.Chunks {
			w.chunks[i].RebuildAllSlices(w.mask)
			b.slices += mesh.SliceCount
		}
		result.Slices = b.slices
		stats = w.rebuild(result.Chunks)
	}
	w.mu.Unlock()

	span.SetAttributes(attribute.Int("chunk.index", index), attribute.Int("chunk.changed_blocks", changed))
	if result.Changed {
		w.logger.Debug("Чанк %d (%v): изменено %d блоков, пересобраны %v", index, data.Offset, changed, result.Chunks)
		w.publish(ctx, eventbus.TypeChunkApplied, uuid.NewString(), 5, eventbus.ChunkApplied{
			Index:   index,
			Changed: changed,
		})
		w.publishRebuilds(ctx, "", stats)
	}
	return result, nil
}

func (w *World) publishEdit(ctx context.Context, result EditResult, blockType uint8, cause string, stats map[int]chunkBuild) {
	if w.bus == nil {
		return
	}
	correlation := uuid.NewString()
	w.publish(ctx, eventbus.TypeBlockChanged, correlation, 5, eventbus.BlockChanged{
		X:         result.Position.X,
		Y:         result.Position.Y,
		Z:         result.Position.Z,
		Type:      blockType,
		Previous:  result.Previous,
		Occupancy: cause != "brightness",
		Chunks:    result.Chunks,
		Cause:     cause,
	})
	w.publishRebuilds(ctx, correlation, stats)
}

func (w *World) publishRebuilds(ctx context.Context, correlation string, stats map[int]chunkBuild) {
	if w.bus == nil {
		return
	}
	indices := make([]int, 0, len(stats))
	for index := range stats {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	for _, index := range indices {
		s := stats[index].stats
		w.publish(ctx, eventbus.TypeChunkRebuilt, correlation, 3, eventbus.ChunkRebuilt{
			Index:         index,
			Vertices:      s.Vertices,
			Quads:         s.Quads,
			DirtySlices:   s.DirtySlices,
			ShapesAdded:   s.ShapesAdded,
			ShapesRemoved: s.ShapesRemoved,
			Fingerprint:   strconv.FormatUint(stats[index].fingerprint, 16),
		})
	}
}

func (w *World) publish(ctx context.Context, eventType, correlation string, priority int, payload interface{}) {
	if w.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(w.opts.Source, eventType, correlation, priority, payload)
	if err != nil {
		w.logger.Error("Событие %s: %v", eventType, err)
		return
	}
	if err := w.bus.Publish(ctx, ev); err != nil {
		w.logger.Warn("Публикация %s: %v", eventType, err)
	}
}
