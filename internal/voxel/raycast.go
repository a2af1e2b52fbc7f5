package voxel

import (
	"math"

	"github.com/annel0/sandblox/internal/vec"
)

// RayHit результат трассировки луча по сетке.
// Face == FaceInvalid означает промах.
type RayHit struct {
	Face     Face
	Position vec.Vec3 // Координата задетого блока
	Distance float64  // Пройденное расстояние в блоках
}

// Valid возвращает true, если луч во что-то попал
func (h RayHit) Valid() bool {
	return h.Face.Valid()
}

// CastRay проходит луч по сетке (DDA) начиная с origin в направлении direction.
// Координаты заданы в блоках. Возвращает сторону и блок, в который луч упёрся первым.
//
// Если луч покинул сетку, не встретив блок, он пересекается с плоскостью земли z = 0:
// попадание внутри сетки и в пределах maxDistance даёт синтетический FaceTop
// с блоком на единицу ниже плоскости (z = -1).
func (g *Grid) CastRay(origin, direction vec.Vec3Float, maxDistance float64) RayHit {
	if direction.Length() <= 0 {
		return RayHit{Face: FaceInvalid}
	}
	dir := direction.Normalized()

	var (
		edgeOffset [3]float64 // расстояние от позиции блока до его грани по направлению луча
		step       [3]float64 // шаг по каждой оси
		faces      [3]Face    // сторона блока, в которую упрёмся при шаге по оси
	)
	negativeFaces := [3]Face{FaceNorth, FaceEast, FaceTop}
	positiveFaces := [3]Face{FaceSouth, FaceWest, FaceBottom}

	for axis := 0; axis < 3; axis++ {
		if dir.Axis(axis) < 0 {
			edgeOffset[axis] = 0
			step[axis] = -1
			faces[axis] = negativeFaces[axis]
		} else {
			edgeOffset[axis] = 1
			step[axis] = 1
			faces[axis] = positiveFaces[axis]
		}
	}

	// Начало ровно на грани при движении в минус: первый блок по лучу лежит ниже грани,
	// а шаг ниже перепрыгивает через него
	start := origin.Truncate()
	for axis := 0; axis < 3; axis++ {
		if step[axis] > 0 || origin.Axis(axis) != float64(start.Axis(axis)) {
			continue
		}
		cell := start.WithAxis(axis, start.Axis(axis)-1)
		if g.InBounds(cell) && !g.IsEmpty(cell) {
			return RayHit{Face: faces[axis], Position: cell}
		}
	}

	size := g.Size().ToFloat()
	position := origin
	distance := 0.0

	for {
		cell := position.Truncate()

		// длина пути вдоль луча до ближайшей грани по каждой оси
		var lengths [3]float64
		for axis := 0; axis < 3; axis++ {
			edge := float64(cell.Axis(axis)) - position.Axis(axis) + edgeOffset[axis]
			// стоим ровно на грани: до следующей целый блок
			if math.Abs(edge) == 0 {
				edge = step[axis]
			}
			lengths[axis] = math.Abs(edge / dir.Axis(axis))
		}

		// ближайшая грань; при равенстве приоритет X, затем Y
		axis := 0
		for a := 1; a < 3; a++ {
			if lengths[a] < lengths[axis] {
				axis = a
			}
		}

		distance += lengths[axis]
		position = origin.Add(dir.Mul(distance))
		position = position.WithAxis(axis, math.Floor(position.Axis(axis)+0.5*step[axis]))

		if position.X < 0 || position.Y < 0 || position.Z < 0 ||
			position.X >= size.X || position.Y >= size.Y || position.Z >= size.Z {
			break
		}

		if distance > maxDistance {
			return RayHit{Face: FaceInvalid, Distance: maxDistance}
		}

		cell = position.Truncate()
		if !g.IsEmpty(cell) {
			return RayHit{Face: faces[axis], Position: cell, Distance: distance}
		}
	}

	return g.groundPlaneHit(origin, dir, maxDistance)
}

// groundPlaneHit пересекает луч с плоскостью земли z = 0 (с обеих сторон).
// dir должен быть нормализован.
func (g *Grid) groundPlaneHit(origin, dir vec.Vec3Float, maxDistance float64) RayHit {
	miss := RayHit{Face: FaceInvalid, Distance: maxDistance}

	if dir.Z == 0 {
		return miss
	}

	distance := -origin.Z / dir.Z
	if distance < 0 || distance > maxDistance {
		return miss
	}

	hit := origin.Add(dir.Mul(distance))
	size := g.Size().ToFloat()
	if hit.X < 0 || hit.Y < 0 || hit.X > size.X || hit.Y > size.Y {
		return miss
	}

	hit.Z = 0
	cell := hit.Truncate()
	if !g.IsEmpty(cell) {
		return miss
	}

	cell.Z = -1
	return RayHit{Face: FaceTop, Position: cell, Distance: distance}
}
