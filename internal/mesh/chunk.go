package mesh

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	xxhash "github.com/cespare/xxhash/v2"
)

// DefaultBlockSize размер блока в мировых единицах
const DefaultBlockSize = 32.0

// CollisionBody физическое тело хоста, в которое устанавливаются формы срезов.
// Буферы передаются без копирования и переиспользуются при следующем пересчёте среза,
// поэтому тело обязано их скопировать. Удаление и добавление формы не атомарны;
// упорядочивать их с шагом физики должен хост.
type CollisionBody interface {
	AddMeshShape(vertices []vec.Vec3Float, indices []int) uint64
	RemoveShape(id uint64)
}

// Options настройки построения меша
type Options struct {
	BlockSize     float64 // Масштаб коллизионных вершин (по умолчанию 32)
	CollisionOnly bool    // Только коллизии: все твёрдые блоки считаются одного типа, визуальный буфер не строится
}

func (o Options) withDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	return o
}

// RebuildStats итог одной сборки меша чанка
type RebuildStats struct {
	Vertices      int // Вершин в визуальном буфере
	Quads         int // Квадов во всех срезах
	DirtySlices   int // Срезов, выгруженных в этой сборке
	ShapesAdded   int
	ShapesRemoved int
}

// ChunkMesh собирает срезы одного чанка в визуальный буфер и набор коллизионных форм
type ChunkMesh struct {
	offset   vec.Vec3
	mesher   Mesher
	body     CollisionBody
	opts     Options
	slices   [SliceCount]Slice
	vertices []Vertex
}

// NewChunkMesh создаёт меш чанка с минимальным углом offset. body может быть nil.
func NewChunkMesh(volume Volume, offset vec.Vec3, body CollisionBody, opts Options) *ChunkMesh {
	opts = opts.withDefaults()
	return &ChunkMesh{
		offset: offset,
		mesher: NewMesher(volume, offset, opts),
		body:   body,
		opts:   opts,
	}
}

// Offset возвращает мировую координату минимального угла чанка
func (c *ChunkMesh) Offset() vec.Vec3 {
	return c.offset
}

// Options возвращает настройки меша
func (c *ChunkMesh) Options() Options {
	return c.opts
}

// Slice возвращает срез стороны side в позиции position вдоль её оси
func (c *ChunkMesh) Slice(side voxel.Face, position int) *Slice {
	return &c.slices[SliceIndex(side, position)]
}

// UpdateSlice пересчитывает срез, содержащий сторону side блока local.
// Если срез уже пересчитан в текущей пачке (Dirty), ничего не делает и возвращает false.
func (c *ChunkMesh) UpdateSlice(mask *FaceMask, local vec.Vec3, side voxel.Face) bool {
	position := local.Axis(side.Axis())
	slice := &c.slices[SliceIndex(side, position)]

	if slice.Dirty {
		return false
	}

	c.mesher.Sweep(mask, side, position, slice)
	slice.Dirty = true
	return true
}

// RebuildAllSlices пересчитывает все срезы чанка. Используется при создании чанка.
func (c *ChunkMesh) RebuildAllSlices(mask *FaceMask) {
	for side := voxel.FaceTop; side <= voxel.FaceNorth; side++ {
		for position := 0; position < voxel.ChunkSize; position++ {
			slice := &c.slices[SliceIndex(side, position)]
			c.mesher.Sweep(mask, side, position, slice)
			slice.Dirty = true
		}
	}
}

// DirtySlices количество срезов, ожидающих выгрузки
func (c *ChunkMesh) DirtySlices() int {
	count := 0
	for i := range c.slices {
		if c.slices[i].Dirty {
			count++
		}
	}
	return count
}

// Rebuild собирает визуальный буфер из всех срезов и обновляет коллизионные формы
// только у грязных срезов, после чего снимает с них флаг.
func (c *ChunkMesh) Rebuild() RebuildStats {
	var stats RebuildStats

	total := 0
	for i := range c.slices {
		total += len(c.slices[i].Vertices)
	}

	if cap(c.vertices) < total {
		c.vertices = make([]Vertex, 0, total)
	}
	c.vertices = c.vertices[:0]

	for i := range c.slices {
		slice := &c.slices[i]
		stats.Quads += slice.QuadCount()

		if slice.Dirty {
			stats.DirtySlices++
			added, removed := c.syncShape(slice)
			stats.ShapesAdded += added
			stats.ShapesRemoved += removed
			slice.Dirty = false
		}

		if len(slice.Vertices) == 0 {
			continue
		}
		c.vertices = append(c.vertices, slice.Vertices...)
	}

	if len(c.vertices) != total {
		panic(fmt.Sprintf("mesh: чанк %v собрал %d вершин вместо %d", c.offset, len(c.vertices), total))
	}

	stats.Vertices = total
	return stats
}

// syncShape заменяет коллизионную форму среза
func (c *ChunkMesh) syncShape(slice *Slice) (added, removed int) {
	if c.body == nil {
		return 0, 0
	}

	if slice.hasShape {
		c.body.RemoveShape(slice.shapeID)
		slice.hasShape = false
		removed = 1
	}

	if len(slice.CollisionVertices) > 0 && len(slice.CollisionIndices) > 0 {
		slice.shapeID = c.body.AddMeshShape(slice.CollisionVertices, slice.CollisionIndices)
		slice.hasShape = true
		added = 1
	}

	return added, removed
}

// Vertices возвращает визуальный буфер последней сборки (6 вершин на квад)
func (c *ChunkMesh) Vertices() []Vertex {
	return c.vertices
}

// QuadCount количество квадов во всех срезах
func (c *ChunkMesh) QuadCount() int {
	count := 0
	for i := range c.slices {
		count += c.slices[i].QuadCount()
	}
	return count
}

// Release удаляет все коллизионные формы чанка из тела
func (c *ChunkMesh) Release() {
	for i := range c.slices {
		slice := &c.slices[i]
		if slice.hasShape && c.body != nil {
			c.body.RemoveShape(slice.shapeID)
		}
		slice.hasShape = false
	}
}

// Fingerprint хеш визуальных и коллизионных буферов всех срезов.
// Одинаковые буферы дают одинаковый хеш.
func (c *ChunkMesh) Fingerprint() uint64 {
	digest := xxhash.New()
	var buf [8]byte

	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = digest.Write(buf[:])
	}

	for i := range c.slices {
		slice := &c.slices[i]
		writeUint(uint64(len(slice.Vertices)))
		for _, v := range slice.Vertices {
			writeUint(uint64(v.X)<<32 | uint64(v.Y))
			writeUint(uint64(v.Z)<<32 | uint64(v.Attributes))
		}
		writeUint(uint64(len(slice.CollisionVertices)))
		for _, v := range slice.CollisionVertices {
			writeUint(math.Float64bits(v.X))
			writeUint(math.Float64bits(v.Y))
			writeUint(math.Float64bits(v.Z))
		}
		for _, index := range slice.CollisionIndices {
			writeUint(uint64(index))
		}
	}

	return digest.Sum64()
}
