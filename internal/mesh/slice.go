package mesh

import (
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
)

// SliceCount количество срезов чанка: 6 сторон × 32 позиции вдоль оси
const SliceCount = voxel.FaceCount * voxel.ChunkSize

// SliceIndex возвращает номер среза для стороны и позиции вдоль её оси
func SliceIndex(side voxel.Face, position int) int {
	return int(side)*voxel.ChunkSize + position
}

// Slice геометрия одной плоскости одной стороны внутри чанка.
// Dirty означает «пересчитан, но ещё не выгружен в меш и физику».
type Slice struct {
	Dirty             bool
	Vertices          []Vertex
	CollisionVertices []vec.Vec3Float
	CollisionIndices  []int

	shapeID  uint64
	hasShape bool
}

// QuadCount количество квадов в срезе
func (s *Slice) QuadCount() int {
	return len(s.CollisionIndices) / VerticesPerQuad
}

// TriangleCount количество коллизионных треугольников
func (s *Slice) TriangleCount() int {
	return len(s.CollisionIndices) / 3
}

// HasShape сообщает, установлена ли для среза коллизионная форма
func (s *Slice) HasShape() bool {
	return s.hasShape
}

func (s *Slice) reset() {
	s.Vertices = s.Vertices[:0]
	s.CollisionVertices = s.CollisionVertices[:0]
	s.CollisionIndices = s.CollisionIndices[:0]
}
