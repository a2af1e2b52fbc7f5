package voxel

import (
	"errors"
	"testing"

	"github.com/annel0/sandblox/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGrid(t *testing.T, x, y, z int) *Grid {
	t.Helper()
	g, err := NewGrid(x, y, z)
	require.NoError(t, err, "Сетка должна создаваться")
	return g
}

func TestNewGridRejectsBadDimensions(t *testing.T) {
	_, err := NewGrid(0, 4, 4)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))

	_, err = NewGrid(4, MaxDimension+1, 4)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))

	_, err = NewGridFromBytes(2, 2, 2, make([]byte, 7))
	assert.True(t, errors.Is(err, ErrInvalidDimensions))
}

func TestGridOutOfBoundsIsEmpty(t *testing.T) {
	g := newTestGrid(t, 4, 4, 4)
	g.FillGround(4, func(vec.Vec3) uint8 { return 1 })

	outside := []vec.Vec3{
		{X: -1, Y: 0, Z: 0},
		{X: 0, Y: -1, Z: 0},
		{X: 0, Y: 0, Z: -1},
		{X: 4, Y: 0, Z: 0},
		{X: 0, Y: 4, Z: 0},
		{X: 0, Y: 0, Z: 4},
		{X: 100, Y: 100, Z: 100},
	}
	for _, pos := range outside {
		assert.True(t, g.IsEmpty(pos), "Координата %v вне сетки должна быть пустой", pos)
		assert.Equal(t, AirBlockType, g.GetType(pos))
		assert.False(t, g.SetType(pos, 0), "Запись вне сетки должна игнорироваться")
		assert.False(t, g.SetType(pos, 3), "Запись вне сетки должна игнорироваться")
	}

	assert.False(t, g.IsEmpty(vec.Vec3{X: 3, Y: 3, Z: 3}))
}

func TestGridSetTypeOnlyFlipsOccupancy(t *testing.T) {
	g := newTestGrid(t, 4, 4, 4)
	pos := vec.Vec3{X: 1, Y: 2, Z: 3}

	assert.False(t, g.SetType(pos, 0), "Очистка пустого блока не меняет занятость")
	assert.True(t, g.SetType(pos, 5), "Пусто -> занято")
	assert.False(t, g.SetType(pos, 5), "Повторная запись того же типа - no-op")
	assert.False(t, g.SetType(pos, 7), "Занято -> занято не пересекает границу")
	assert.Equal(t, uint8(5), g.GetType(pos), "Тип не должен меняться при no-op записи")
	assert.True(t, g.SetType(pos, 0), "Занято -> пусто")
	assert.True(t, g.IsEmpty(pos))
}

func TestGridLinearLayout(t *testing.T) {
	g := newTestGrid(t, 4, 3, 2)
	pos := vec.Vec3{X: 3, Y: 2, Z: 1}
	require.True(t, g.SetType(pos, 9))

	assert.Equal(t, 3+2*4+1*4*3, g.Index(pos))
	assert.Equal(t, byte(9), g.Bytes()[g.Index(pos)])
}

func TestGridAdjacency(t *testing.T) {
	g := newTestGrid(t, 4, 4, 4)
	center := vec.Vec3{X: 1, Y: 1, Z: 1}
	require.True(t, g.SetType(AdjacentPosition(center, FaceTop), 1))

	assert.Equal(t, vec.Vec3{X: 1, Y: 1, Z: 2}, AdjacentPosition(center, FaceTop))
	assert.Equal(t, vec.Vec3{X: 1, Y: 0, Z: 1}, AdjacentPosition(center, FaceWest))
	assert.Equal(t, vec.Vec3{X: 2, Y: 1, Z: 1}, AdjacentPosition(center, FaceNorth))

	assert.False(t, g.IsAdjacentEmpty(center, FaceTop))
	for side := FaceBottom; side <= FaceNorth; side++ {
		assert.True(t, g.IsAdjacentEmpty(center, side), "Сторона %s должна быть пустой", side)
	}
}

func TestFaceOpposite(t *testing.T) {
	for side := FaceTop; side <= FaceNorth; side++ {
		opposite := side.Opposite()
		assert.Equal(t, side.Axis(), opposite.Axis(), "Противоположные стороны лежат на одной оси")
		assert.Equal(t, -side.Step(), opposite.Step())
		assert.Equal(t, vec.Vec3{}, Directions[side].Add(Directions[opposite]))
	}
	assert.Equal(t, FaceInvalid, FaceInvalid.Opposite())
}

func TestGridBrightness(t *testing.T) {
	g := newTestGrid(t, 4, 4, 4)
	pos := vec.Vec3{X: 2, Y: 2, Z: 2}

	assert.Equal(t, MaxBrightness, g.Brightness(pos), "По умолчанию яркость максимальная")
	assert.False(t, g.SetBrightness(pos, MaxBrightness), "Запись значения по умолчанию ничего не меняет")
	assert.True(t, g.SetBrightness(pos, 4))
	assert.False(t, g.SetBrightness(pos, 4))
	assert.Equal(t, uint8(4), g.Brightness(pos))
	assert.Equal(t, MaxBrightness, g.Brightness(vec.Vec3{X: 1, Y: 1, Z: 1}))

	assert.True(t, g.SetBrightness(pos, 200))
	assert.Equal(t, MaxBrightness, g.Brightness(pos), "Яркость обрезается до 4 бит")
}

func TestGridFillGround(t *testing.T) {
	g := newTestGrid(t, 4, 4, 8)
	g.FillGround(3, func(pos vec.Vec3) uint8 { return uint8(pos.Z + 1) })

	assert.Equal(t, uint8(1), g.GetType(vec.Vec3{X: 0, Y: 0, Z: 0}))
	assert.Equal(t, uint8(3), g.GetType(vec.Vec3{X: 3, Y: 3, Z: 2}))
	assert.True(t, g.IsEmpty(vec.Vec3{X: 0, Y: 0, Z: 3}))
}
