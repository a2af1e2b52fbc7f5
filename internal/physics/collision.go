package physics

import (
	"math"

	"github.com/annel0/sandblox/internal/vec"
)

// AABB выровненный по осям параллелепипед в мировых единицах
type AABB struct {
	Min vec.Vec3Float
	Max vec.Vec3Float
}

// NewAABB создаёт параллелепипед с центром center и половинами размеров halfExtents
func NewAABB(center, halfExtents vec.Vec3Float) AABB {
	return AABB{
		Min: center.Sub(halfExtents),
		Max: center.Add(halfExtents),
	}
}

// BoundsOf возвращает наименьший параллелепипед, содержащий все точки.
// Для пустого набора возвращает вырожденный параллелепипед в нуле.
func BoundsOf(points []vec.Vec3Float) AABB {
	if len(points) == 0 {
		return AABB{}
	}

	box := AABB{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		box = box.Extend(p)
	}
	return box
}

// Extend расширяет параллелепипед до точки p
func (b AABB) Extend(p vec.Vec3Float) AABB {
	for axis := 0; axis < 3; axis++ {
		b.Min = b.Min.WithAxis(axis, math.Min(b.Min.Axis(axis), p.Axis(axis)))
		b.Max = b.Max.WithAxis(axis, math.Max(b.Max.Axis(axis), p.Axis(axis)))
	}
	return b
}

// Contains проверяет, находится ли точка внутри параллелепипеда (границы включены)
func (b AABB) Contains(p vec.Vec3Float) bool {
	for axis := 0; axis < 3; axis++ {
		if p.Axis(axis) < b.Min.Axis(axis) || p.Axis(axis) > b.Max.Axis(axis) {
			return false
		}
	}
	return true
}

// Overlaps проверяет пересечение двух параллелепипедов.
// Касание гранью считается пересечением: коллизионные квады плоские.
func (b AABB) Overlaps(other AABB) bool {
	for axis := 0; axis < 3; axis++ {
		if b.Max.Axis(axis) < other.Min.Axis(axis) || b.Min.Axis(axis) > other.Max.Axis(axis) {
			return false
		}
	}
	return true
}

// BoxCollider коллайдер сущности в блоках
type BoxCollider struct {
	Width  float64 // Размер по X
	Depth  float64 // Размер по Y
	Height float64 // Размер по Z
}

// NewBoxCollider создаёт новый коллайдер с указанными размерами
func NewBoxCollider(width, depth, height float64) *BoxCollider {
	return &BoxCollider{
		Width:  width,
		Depth:  depth,
		Height: height,
	}
}

// Bounds возвращает параллелепипед коллайдера, стоящего основанием в точке feet
func (bc *BoxCollider) Bounds(feet vec.Vec3Float) AABB {
	return AABB{
		Min: vec.Vec3Float{X: feet.X - bc.Width/2, Y: feet.Y - bc.Depth/2, Z: feet.Z},
		Max: vec.Vec3Float{X: feet.X + bc.Width/2, Y: feet.Y + bc.Depth/2, Z: feet.Z + bc.Height},
	}
}

// CollisionPoints возвращает ячейки сетки, которые занимает коллайдер в позиции feet.
// Позиция и размеры заданы в блоках.
func CollisionPoints(feet vec.Vec3Float, collider *BoxCollider) []vec.Vec3 {
	box := collider.Bounds(feet)

	// Верхняя граница исключается: коллайдер высотой 1 занимает одну ячейку
	minX, maxX := int(math.Floor(box.Min.X)), int(math.Ceil(box.Max.X))-1
	minY, maxY := int(math.Floor(box.Min.Y)), int(math.Ceil(box.Max.Y))-1
	minZ, maxZ := int(math.Floor(box.Min.Z)), int(math.Ceil(box.Max.Z))-1

	points := make([]vec.Vec3, 0, (maxX-minX+1)*(maxY-minY+1)*(maxZ-minZ+1))
	for z := minZ; z <= maxZ; z++ {
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				points = append(points, vec.Vec3{X: x, Y: y, Z: z})
			}
		}
	}
	return points
}

// CanMoveToPosition проверяет, может ли сущность с коллайдером встать в позицию newFeet.
// isFree сообщает, проходима ли ячейка.
func CanMoveToPosition(newFeet vec.Vec3Float, collider *BoxCollider, isFree func(vec.Vec3) bool) bool {
	for _, point := range CollisionPoints(newFeet, collider) {
		if !isFree(point) {
			return false
		}
	}
	return true
}
