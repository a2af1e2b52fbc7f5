package physics

import (
	"sort"
	"sync"

	"github.com/annel0/sandblox/internal/vec"
)

// MeshShape треугольная коллизионная форма одного среза
type MeshShape struct {
	ID       uint64
	Vertices []vec.Vec3Float
	Indices  []int
	Bounds   AABB
}

// TriangleCount количество треугольников формы
func (s *MeshShape) TriangleCount() int {
	return len(s.Indices) / 3
}

// StaticBody статическое тело мира: набор неподвижных треугольных форм.
// Безопасно для одновременного использования из нескольких горутин.
type StaticBody struct {
	mu     sync.RWMutex
	nextID uint64
	shapes map[uint64]*MeshShape
}

// NewStaticBody создаёт пустое тело
func NewStaticBody() *StaticBody {
	return &StaticBody{
		shapes: make(map[uint64]*MeshShape),
	}
}

// AddMeshShape копирует вершины и индексы в новую форму и возвращает её идентификатор
func (b *StaticBody) AddMeshShape(vertices []vec.Vec3Float, indices []int) uint64 {
	shape := &MeshShape{
		Vertices: append([]vec.Vec3Float(nil), vertices...),
		Indices:  append([]int(nil), indices...),
		Bounds:   BoundsOf(vertices),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	shape.ID = b.nextID
	b.shapes[shape.ID] = shape
	return shape.ID
}

// RemoveShape удаляет форму. Неизвестный идентификатор игнорируется.
func (b *StaticBody) RemoveShape(id uint64) {
	b.mu.Lock()
	delete(b.shapes, id)
	b.mu.Unlock()
}

// Shape возвращает форму по идентификатору
func (b *StaticBody) Shape(id uint64) (*MeshShape, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	shape, ok := b.shapes[id]
	return shape, ok
}

// ShapeCount количество установленных форм
func (b *StaticBody) ShapeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.shapes)
}

// TriangleCount суммарное количество треугольников
func (b *StaticBody) TriangleCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, shape := range b.shapes {
		total += shape.TriangleCount()
	}
	return total
}

// Overlapping возвращает идентификаторы форм, границы которых пересекают box, по возрастанию
func (b *StaticBody) Overlapping(box AABB) []uint64 {
	b.mu.RLock()
	ids := make([]uint64, 0)
	for id, shape := range b.shapes {
		if shape.Bounds.Overlaps(box) {
			ids = append(ids, id)
		}
	}
	b.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Overlaps проверяет, пересекает ли box хотя бы одну форму
func (b *StaticBody) Overlaps(box AABB) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, shape := range b.shapes {
		if shape.Bounds.Overlaps(box) {
			return true
		}
	}
	return false
}
