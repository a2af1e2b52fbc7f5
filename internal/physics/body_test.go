package physics

import (
	"sync"
	"testing"

	"github.com/annel0/sandblox/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quad(z float64) []vec.Vec3Float {
	return []vec.Vec3Float{
		{X: 0, Y: 0, Z: z}, {X: 32, Y: 0, Z: z}, {X: 32, Y: 32, Z: z},
		{X: 32, Y: 32, Z: z}, {X: 0, Y: 32, Z: z}, {X: 0, Y: 0, Z: z},
	}
}

func TestStaticBodyCopiesBuffers(t *testing.T) {
	body := NewStaticBody()
	vertices := quad(64)
	indices := []int{0, 1, 2, 3, 4, 5}

	id := body.AddMeshShape(vertices, indices)
	vertices[0].Z = 1000
	indices[0] = 42

	shape, ok := body.Shape(id)
	require.True(t, ok)
	assert.Equal(t, 64.0, shape.Vertices[0].Z, "Тело хранит копию вершин")
	assert.Equal(t, 0, shape.Indices[0])
	assert.Equal(t, 2, shape.TriangleCount())
	assert.Equal(t, vec.Vec3Float{X: 0, Y: 0, Z: 64}, shape.Bounds.Min)
	assert.Equal(t, vec.Vec3Float{X: 32, Y: 32, Z: 64}, shape.Bounds.Max)
}

func TestStaticBodyAddRemove(t *testing.T) {
	body := NewStaticBody()
	first := body.AddMeshShape(quad(0), []int{0, 1, 2, 3, 4, 5})
	second := body.AddMeshShape(quad(32), []int{0, 1, 2, 3, 4, 5})

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, body.ShapeCount())
	assert.Equal(t, 4, body.TriangleCount())

	body.RemoveShape(first)
	body.RemoveShape(first)
	body.RemoveShape(999)
	assert.Equal(t, 1, body.ShapeCount())

	_, ok := body.Shape(first)
	assert.False(t, ok)
}

func TestStaticBodyOverlaps(t *testing.T) {
	body := NewStaticBody()
	floor := body.AddMeshShape(quad(32), []int{0, 1, 2, 3, 4, 5})
	body.AddMeshShape(quad(320), []int{0, 1, 2, 3, 4, 5})

	player := NewAABB(vec.Vec3Float{X: 16, Y: 16, Z: 40}, vec.Vec3Float{X: 8, Y: 8, Z: 8})
	assert.True(t, body.Overlaps(player), "Ноги игрока касаются пола")
	assert.Equal(t, []uint64{floor}, body.Overlapping(player))

	air := NewAABB(vec.Vec3Float{X: 16, Y: 16, Z: 100}, vec.Vec3Float{X: 8, Y: 8, Z: 8})
	assert.False(t, body.Overlaps(air))
	assert.Empty(t, body.Overlapping(air))
}

func TestStaticBodyConcurrentAdd(t *testing.T) {
	body := NewStaticBody()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(z float64) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				body.AddMeshShape(quad(z), []int{0, 1, 2, 3, 4, 5})
			}
		}(float64(i))
	}
	wg.Wait()

	assert.Equal(t, 400, body.ShapeCount())
}

func TestCanMoveToPosition(t *testing.T) {
	collider := NewBoxCollider(1, 1, 2)
	solid := map[vec.Vec3]bool{{X: 5, Y: 5, Z: 1}: true}
	isFree := func(p vec.Vec3) bool { return !solid[p] }

	points := CollisionPoints(vec.Vec3Float{X: 2.5, Y: 2.5, Z: 0}, collider)
	assert.Equal(t, []vec.Vec3{{X: 2, Y: 2, Z: 0}, {X: 2, Y: 2, Z: 1}}, points, "Коллайдер 1x1x2 занимает две ячейки")

	assert.True(t, CanMoveToPosition(vec.Vec3Float{X: 2.5, Y: 2.5, Z: 0}, collider, isFree))
	assert.False(t, CanMoveToPosition(vec.Vec3Float{X: 5.5, Y: 5.5, Z: 0}, collider, isFree), "Голова упирается в блок")
	assert.True(t, CanMoveToPosition(vec.Vec3Float{X: 5.5, Y: 5.5, Z: 2}, collider, isFree))
}

func TestAABBContainsAndExtend(t *testing.T) {
	box := BoundsOf([]vec.Vec3Float{{X: 1, Y: 2, Z: 3}})
	box = box.Extend(vec.Vec3Float{X: -1, Y: 5, Z: 0})

	assert.Equal(t, vec.Vec3Float{X: -1, Y: 2, Z: 0}, box.Min)
	assert.Equal(t, vec.Vec3Float{X: 1, Y: 5, Z: 3}, box.Max)
	assert.True(t, box.Contains(vec.Vec3Float{X: 0, Y: 3, Z: 1}))
	assert.False(t, box.Contains(vec.Vec3Float{X: 2, Y: 3, Z: 1}))
	assert.Equal(t, AABB{}, BoundsOf(nil))
}
