package mesh

import (
	"testing"

	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGrid(t *testing.T, x, y, z int) *voxel.Grid {
	t.Helper()
	g, err := voxel.NewGrid(x, y, z)
	require.NoError(t, err)
	return g
}

// quadExtent возвращает размер квада по вершинам: минимум и максимум по каждой оси
func quadExtent(vertices []Vertex) (min, max vec.Vec3) {
	min = vertices[0].Position()
	max = min
	for _, v := range vertices[1:] {
		p := v.Position()
		for axis := 0; axis < 3; axis++ {
			if p.Axis(axis) < min.Axis(axis) {
				min = min.WithAxis(axis, p.Axis(axis))
			}
			if p.Axis(axis) > max.Axis(axis) {
				max = max.WithAxis(axis, p.Axis(axis))
			}
		}
	}
	return min, max
}

func TestPackAttributesLayout(t *testing.T) {
	attrs := PackAttributes(2, 15, 5)
	assert.Equal(t, uint32(2<<18|15<<23|5<<27), attrs, "Раскладка битов должна совпадать с шейдером")

	v := Vertex{Attributes: PackAttributes(31, 7, 3)}
	assert.Equal(t, uint8(31), v.TextureID())
	assert.Equal(t, uint8(7), v.Brightness())
	assert.Equal(t, uint8(3), v.Normal())

	v = Vertex{Attributes: PackAttributes(33, 16, 9)}
	assert.Equal(t, uint8(1), v.TextureID(), "Номер текстуры обрезается до 5 бит")
	assert.Equal(t, uint8(0), v.Brightness())
	assert.Equal(t, uint8(1), v.Normal())
}

func TestBlockFaceVisibility(t *testing.T) {
	g := newGrid(t, 4, 4, 4)
	require.True(t, g.SetType(vec.Vec3{X: 1, Y: 1, Z: 1}, 3))
	require.True(t, g.SetType(vec.Vec3{X: 1, Y: 1, Z: 2}, 7))
	m := NewMesher(g, vec.Vec3{}, Options{})

	top := m.BlockFace(vec.Vec3{X: 1, Y: 1, Z: 1}, voxel.FaceTop)
	assert.True(t, top.Culled, "Грань, закрытая блоком другого типа, скрыта")

	bottom := m.BlockFace(vec.Vec3{X: 1, Y: 1, Z: 1}, voxel.FaceBottom)
	assert.False(t, bottom.Culled)
	assert.Equal(t, uint8(3), bottom.Type)
	assert.Equal(t, voxel.MaxBrightness, bottom.Brightness)

	empty := m.BlockFace(vec.Vec3{X: 0, Y: 0, Z: 0}, voxel.FaceTop)
	assert.True(t, empty.Culled, "Пустой блок не имеет граней")
}

func TestMergeMaskGreedyRectangles(t *testing.T) {
	g := newGrid(t, 4, 4, 4)
	m := NewMesher(g, vec.Vec3{}, Options{})
	mask := NewFaceMask(voxel.ChunkSize)
	for i := range mask.cells {
		mask.cells[i] = BlockFace{Culled: true}
	}

	// Г-образная фигура: строка 0 шириной 3, строка 1 шириной 1
	solid := BlockFace{Type: 1, Brightness: 15}
	mask.Set(0, 0, solid)
	mask.Set(1, 0, solid)
	mask.Set(2, 0, solid)
	mask.Set(0, 1, solid)
	// Другой тип не склеивается
	mask.Set(5, 5, BlockFace{Type: 2, Brightness: 15})
	mask.Set(6, 5, BlockFace{Type: 1, Brightness: 15})

	var quads []Quad
	m.MergeMask(mask, voxel.FaceTop, 0, func(q Quad) { quads = append(quads, q) })

	require.Len(t, quads, 4)
	assert.Equal(t, 3, quads[0].Width)
	assert.Equal(t, 1, quads[0].Height)
	assert.Equal(t, 1, quads[1].Width, "Вторая строка короче - отдельный квад")
	assert.Equal(t, vec.Vec3{X: 0, Y: 1, Z: 0}, quads[1].Origin)
	assert.Equal(t, uint8(2), quads[2].Face.Type)
	assert.Equal(t, uint8(1), quads[3].Face.Type)

	for u := 0; u < voxel.ChunkSize; u++ {
		for v := 0; v < voxel.ChunkSize; v++ {
			assert.True(t, mask.At(u, v).Culled, "После склейки маска полностью поглощена")
		}
	}
}

func TestSingleVoxelProducesSixQuads(t *testing.T) {
	g := newGrid(t, 4, 4, 4)
	require.True(t, g.SetType(vec.Vec3{X: 1, Y: 1, Z: 1}, 3))

	chunk := NewChunkMesh(g, vec.Vec3{}, nil, Options{})
	chunk.RebuildAllSlices(NewFaceMask(voxel.ChunkSize))
	stats := chunk.Rebuild()

	assert.Equal(t, 6, stats.Quads)
	assert.Equal(t, 6*VerticesPerQuad, stats.Vertices)
	assert.Len(t, chunk.Vertices(), 36)

	for side := voxel.FaceTop; side <= voxel.FaceNorth; side++ {
		slice := chunk.Slice(side, 1)
		require.Equal(t, 1, slice.QuadCount(), "Сторона %s должна дать один квад", side)

		min, max := quadExtent(slice.Vertices)
		size := max.Sub(min)
		assert.Equal(t, 0, size.Axis(side.Axis()), "Квад лежит в плоскости")
		for axis := 0; axis < 3; axis++ {
			if axis != side.Axis() {
				assert.Equal(t, 1, size.Axis(axis), "Квад 1x1")
			}
		}

		for _, v := range slice.Vertices {
			assert.Equal(t, uint8(2), v.TextureID(), "Текстура = тип - 1")
			assert.Equal(t, uint8(side), v.Normal())
			assert.Equal(t, voxel.MaxBrightness, v.Brightness())
		}
	}

	top := chunk.Slice(voxel.FaceTop, 1)
	for _, v := range top.Vertices {
		assert.Equal(t, uint32(2), v.Z, "Верхняя грань блока z=1 лежит на z=2")
	}
}

func TestAdjacentVoxelsMergeAndCullSharedFace(t *testing.T) {
	g := newGrid(t, 4, 4, 4)
	require.True(t, g.SetType(vec.Vec3{X: 1, Y: 1, Z: 1}, 4))
	require.True(t, g.SetType(vec.Vec3{X: 2, Y: 1, Z: 1}, 4))

	chunk := NewChunkMesh(g, vec.Vec3{}, nil, Options{})
	chunk.RebuildAllSlices(NewFaceMask(voxel.ChunkSize))
	chunk.Rebuild()

	top := chunk.Slice(voxel.FaceTop, 1)
	require.Equal(t, 1, top.QuadCount(), "Верх пары склеивается в 2x1")
	min, max := quadExtent(top.Vertices)
	assert.Equal(t, vec.Vec3{X: 2, Y: 1, Z: 0}, max.Sub(min))

	assert.Equal(t, 0, chunk.Slice(voxel.FaceNorth, 1).QuadCount(), "Общая грань скрыта со стороны первого блока")
	assert.Equal(t, 0, chunk.Slice(voxel.FaceSouth, 2).QuadCount(), "Общая грань скрыта со стороны второго блока")
	assert.Equal(t, 6, chunk.QuadCount(), "Параллелепипед 2x1x1 - шесть квадов")
}

func TestFullPlaneProducesSingleQuad(t *testing.T) {
	g := newGrid(t, 32, 32, 32)
	g.FillGround(1, func(vec.Vec3) uint8 { return 2 })

	chunk := NewChunkMesh(g, vec.Vec3{}, nil, Options{})
	chunk.RebuildAllSlices(NewFaceMask(voxel.ChunkSize))
	chunk.Rebuild()

	top := chunk.Slice(voxel.FaceTop, 0)
	require.Equal(t, 1, top.QuadCount(), "Сплошная плоскость 32x32 - один квад, не 1024")
	min, max := quadExtent(top.Vertices)
	assert.Equal(t, vec.Vec3{X: 32, Y: 32, Z: 0}, max.Sub(min))
	assert.Equal(t, 6, chunk.QuadCount())
}

func TestBrightnessSplitsQuads(t *testing.T) {
	g := newGrid(t, 4, 4, 4)
	require.True(t, g.SetType(vec.Vec3{X: 1, Y: 1, Z: 1}, 4))
	require.True(t, g.SetType(vec.Vec3{X: 2, Y: 1, Z: 1}, 4))
	require.True(t, g.SetBrightness(vec.Vec3{X: 2, Y: 1, Z: 1}, 3))

	chunk := NewChunkMesh(g, vec.Vec3{}, nil, Options{})
	chunk.RebuildAllSlices(NewFaceMask(voxel.ChunkSize))
	chunk.Rebuild()

	top := chunk.Slice(voxel.FaceTop, 1)
	require.Equal(t, 2, top.QuadCount(), "Разная яркость не склеивается")
	assert.Equal(t, uint8(3), top.Vertices[VerticesPerQuad].Brightness())
}

func TestDifferentTypesSplitQuads(t *testing.T) {
	g := newGrid(t, 4, 4, 4)
	require.True(t, g.SetType(vec.Vec3{X: 1, Y: 1, Z: 1}, 4))
	require.True(t, g.SetType(vec.Vec3{X: 2, Y: 1, Z: 1}, 5))

	chunk := NewChunkMesh(g, vec.Vec3{}, nil, Options{})
	chunk.RebuildAllSlices(NewFaceMask(voxel.ChunkSize))
	chunk.Rebuild()
	assert.Equal(t, 2, chunk.Slice(voxel.FaceTop, 1).QuadCount())

	// В режиме коллизий типы не различаются
	collision := NewChunkMesh(g, vec.Vec3{}, nil, Options{CollisionOnly: true})
	collision.RebuildAllSlices(NewFaceMask(voxel.ChunkSize))
	stats := collision.Rebuild()
	assert.Equal(t, 1, collision.Slice(voxel.FaceTop, 1).QuadCount())
	assert.Equal(t, 0, stats.Vertices, "Визуальный буфер в режиме коллизий не строится")
	assert.Empty(t, collision.Vertices())
}
