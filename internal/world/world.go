package world

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/annel0/sandblox/internal/eventbus"
	"github.com/annel0/sandblox/internal/logging"
	"github.com/annel0/sandblox/internal/mesh"
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxRayDistance дальность луча установки блока в блоках
const DefaultMaxRayDistance = 10000.0

// EventSource имя источника событий мира по умолчанию
const EventSource = "world"

// Options параметры мира
type Options struct {
	Mesh           mesh.Options
	BuildWorkers   int     // Горутин начальной сборки; 0 - по числу CPU
	MaxRayDistance float64 // Дальность луча PlaceOrRemoveBlock в блоках
	Source         string  // Источник событий
}

func (o Options) withDefaults() Options {
	if o.Mesh.BlockSize <= 0 {
		o.Mesh.BlockSize = mesh.DefaultBlockSize
	}
	if o.BuildWorkers <= 0 {
		o.BuildWorkers = runtime.GOMAXPROCS(0)
	}
	if o.MaxRayDistance <= 0 {
		o.MaxRayDistance = DefaultMaxRayDistance
	}
	if o.Source == "" {
		o.Source = EventSource
	}
	return o
}

// Option подключает к миру необязательную зависимость
type Option func(*World)

// WithEventBus публикует события правок и сборок в bus
func WithEventBus(bus eventbus.EventBus) Option {
	return func(w *World) { w.bus = bus }
}

// WithMetrics включает Prometheus-метрики
func WithMetrics(m *Metrics) Option {
	return func(w *World) { w.metrics = m }
}

// WithTracer задаёт трассировщик; по умолчанию берётся глобальный провайдер otel
func WithTracer(t trace.Tracer) Option {
	return func(w *World) { w.tracer = t }
}

// WithLogger задаёт логгер; по умолчанию логгер компонента world
func WithLogger(l *logging.Logger) Option {
	return func(w *World) { w.logger = l }
}

// ChunkInfo сводка по одному чанку
type ChunkInfo struct {
	Index       int      `json:"index"`
	Offset      vec.Vec3 `json:"offset"`
	Quads       int      `json:"quads"`
	Vertices    int      `json:"vertices"`
	Fingerprint uint64   `json:"fingerprint"`
}

// World сетка блоков, разбитая на чанки по 32³, с мешами чанков.
// Правки сериализованы: один проход мешинга в момент времени на одной маске.
type World struct {
	mu      sync.RWMutex
	grid    *voxel.Grid
	chunks  []*mesh.ChunkMesh
	mask    *mesh.FaceMask
	counts  vec.Vec3 // Чанков по каждой оси
	quads   []int    // Квадов по чанкам после последней сборки
	verts   []int
	body    mesh.CollisionBody
	opts    Options
	bus     eventbus.EventBus
	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger
	ready   bool
}

// New создаёт мир над сеткой grid. body может быть nil.
// Меши не строятся до вызова Init.
func New(grid *voxel.Grid, body mesh.CollisionBody, opts Options, options ...Option) *World {
	opts = opts.withDefaults()
	size := grid.Size()

	w := &World{
		grid: grid,
		mask: mesh.NewFaceMask(voxel.ChunkSize),
		counts: vec.Vec3{
			X: chunksFor(size.X),
			Y: chunksFor(size.Y),
			Z: chunksFor(size.Z),
		},
		body: body,
		opts: opts,
	}
	for _, o := range options {
		o(w)
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer("github.com/annel0/sandblox/internal/world")
	}
	if w.logger == nil {
		w.logger = logging.GetWorldLogger()
	}

	total := w.counts.X * w.counts.Y * w.counts.Z
	w.chunks = make([]*mesh.ChunkMesh, total)
	w.quads = make([]int, total)
	w.verts = make([]int, total)

	for z := 0; z < w.counts.Z; z++ {
		for y := 0; y < w.counts.Y; y++ {
			for x := 0; x < w.counts.X; x++ {
				offset := vec.Vec3{X: x * voxel.ChunkSize, Y: y * voxel.ChunkSize, Z: z * voxel.ChunkSize}
				w.chunks[w.chunkIndex(offset)] = mesh.NewChunkMesh(grid, offset, body, opts.Mesh)
			}
		}
	}

	return w
}

// chunksFor количество чанков, покрывающих size блоков (с округлением вверх)
func chunksFor(size int) int {
	return (size + voxel.ChunkSize - 1) / voxel.ChunkSize
}

// Init строит меши всех чанков параллельно. У каждой горутины своя маска.
func (w *World) Init(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "world.Init")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	started := time.Now()
	workers := w.opts.BuildWorkers
	if workers > len(w.chunks) {
		workers = len(w.chunks)
	}
	if workers < 1 {
		workers = 1
	}

	masks := make(chan *mesh.FaceMask, workers)
	for i := 0; i < workers; i++ {
		masks <- mesh.NewFaceMask(voxel.ChunkSize)
	}

	stats := make([]mesh.RebuildStats, len(w.chunks))
	durations := make([]float64, len(w.chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range w.chunks {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mask := <-masks
			defer func() { masks <- mask }()

			begin := time.Now()
			w.chunks[i].RebuildAllSlices(mask)
			stats[i] = w.chunks[i].Rebuild()
			durations[i] = time.Since(begin).Seconds()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("world: начальная сборка чанков: %w", err)
	}

	quads, vertices := 0, 0
	for i, s := range stats {
		w.quads[i] = s.Quads
		w.verts[i] = s.Vertices
		quads += s.Quads
		vertices += s.Vertices
		w.metrics.observeRebuild(s, durations[i])
	}
	w.metrics.setTotals(quads, vertices)
	w.ready = true

	span.SetAttributes(
		attribute.Int("world.chunks", len(w.chunks)),
		attribute.Int("world.quads", quads),
		attribute.Int("world.workers", workers),
	)
	w.logger.Info("Мир %v: %d чанков, %d квадов, %d вершин за %v (%d горутин)",
		w.grid.Size(), len(w.chunks), quads, vertices, time.Since(started).Round(time.Millisecond), workers)
	return nil
}

// Ready сообщает, выполнена ли начальная сборка
func (w *World) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Size возвращает размеры мира в блоках
func (w *World) Size() vec.Vec3 {
	return w.grid.Size()
}

// ChunkCounts количество чанков по каждой оси
func (w *World) ChunkCounts() vec.Vec3 {
	return w.counts
}

// ChunkCount общее количество чанков
func (w *World) ChunkCount() int {
	return len(w.chunks)
}

// Options возвращает параметры мира
func (w *World) Options() Options {
	return w.opts
}

// chunkIndex номер чанка, содержащего pos (pos внутри сетки)
func (w *World) chunkIndex(pos vec.Vec3) int {
	cx := pos.X / voxel.ChunkSize
	cy := pos.Y / voxel.ChunkSize
	cz := pos.Z / voxel.ChunkSize
	return cx + cy*w.counts.X + cz*w.counts.X*w.counts.Y
}

// ChunkIndexOf возвращает номер чанка, содержащего блок pos
func (w *World) ChunkIndexOf(pos vec.Vec3) (int, bool) {
	if !w.grid.InBounds(pos) {
		return -1, false
	}
	return w.chunkIndex(pos), true
}

// ChunkOffset возвращает мировую координату минимального угла чанка index
func (w *World) ChunkOffset(index int) (vec.Vec3, bool) {
	if index < 0 || index >= len(w.chunks) {
		return vec.Vec3{}, false
	}
	return w.chunks[index].Offset(), true
}

// LocalPosition возвращает позицию блока внутри его чанка
func LocalPosition(pos vec.Vec3) vec.Vec3 {
	return vec.Vec3{
		X: pos.X % voxel.ChunkSize,
		Y: pos.Y % voxel.ChunkSize,
		Z: pos.Z % voxel.ChunkSize,
	}
}

// GetType возвращает тип блока
func (w *World) GetType(pos vec.Vec3) uint8 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.grid.GetType(pos)
}

// Brightness возвращает яркость блока
func (w *World) Brightness(pos vec.Vec3) uint8 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.grid.Brightness(pos)
}

// CastRay трассирует луч по сетке. Координаты в блоках.
func (w *World) CastRay(origin, direction vec.Vec3Float, maxDistance float64) voxel.RayHit {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.grid.CastRay(origin, direction, maxDistance)
}

// Chunk возвращает меш чанка index. Содержимое меняется при правках:
// читать буферы конкурентно с правками можно только через ReadChunk.
func (w *World) Chunk(index int) (*mesh.ChunkMesh, bool) {
	if index < 0 || index >= len(w.chunks) {
		return nil, false
	}
	return w.chunks[index], true
}

// ReadChunk вызывает fn с мешем чанка под блокировкой чтения
func (w *World) ReadChunk(index int, fn func(*mesh.ChunkMesh)) bool {
	if index < 0 || index >= len(w.chunks) {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn(w.chunks[index])
	return true
}

// Grid возвращает сетку мира. Менять её в обход World нельзя:
// меши не узнают о правке.
func (w *World) Grid() *voxel.Grid {
	return w.grid
}

// ChunkData снимок блоков чанка index для передачи или сохранения
func (w *World) ChunkData(index int) (voxel.ChunkData, bool) {
	offset, ok := w.ChunkOffset(index)
	if !ok {
		return voxel.ChunkData{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.grid.ChunkBlocks(offset), true
}

// ReadGrid вызывает fn с сеткой под блокировкой чтения
func (w *World) ReadGrid(fn func(*voxel.Grid)) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn(w.grid)
}

// ChunkInfo возвращает сводку по чанку
func (w *World) ChunkInfo(index int) (ChunkInfo, bool) {
	var info ChunkInfo
	ok := w.ReadChunk(index, func(c *mesh.ChunkMesh) {
		info = ChunkInfo{
			Index:       index,
			Offset:      c.Offset(),
			Quads:       w.quads[index],
			Vertices:    w.verts[index],
			Fingerprint: c.Fingerprint(),
		}
	})
	return info, ok
}

// Totals суммарное количество квадов и вершин после последних сборок
func (w *World) Totals() (quads, vertices int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := range w.quads {
		quads += w.quads[i]
		vertices += w.verts[i]
	}
	return quads, vertices
}
