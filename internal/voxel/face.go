package voxel

import "github.com/annel0/sandblox/internal/vec"

// Face определяет сторону блока. Значение совпадает с номером направления
// в таблице Directions и с идентификатором нормали в вершинах меша.
type Face int

const (
	FaceInvalid Face = -1
	FaceTop     Face = 0 // +Z
	FaceBottom  Face = 1 // -Z
	FaceWest    Face = 2 // -Y
	FaceEast    Face = 3 // +Y
	FaceSouth   Face = 4 // -X
	FaceNorth   Face = 5 // +X
)

// FaceCount количество сторон у блока
const FaceCount = 6

// Directions единичные смещения для каждой стороны.
// Пары (+Z,-Z), (-Y,+Y), (-X,+X) стоят рядом, поэтому противоположная сторона равна d^1.
var Directions = [FaceCount]vec.Vec3{
	{X: 0, Y: 0, Z: 1},
	{X: 0, Y: 0, Z: -1},
	{X: 0, Y: -1, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: -1, Y: 0, Z: 0},
	{X: 1, Y: 0, Z: 0},
}

// DirectionAxis ось, вдоль которой смотрит каждая сторона
var DirectionAxis = [FaceCount]int{2, 2, 1, 1, 0, 0}

// Valid проверяет, что сторона входит в диапазон Top..North
func (f Face) Valid() bool {
	return f >= FaceTop && f <= FaceNorth
}

// Opposite возвращает противоположную сторону
func (f Face) Opposite() Face {
	if !f.Valid() {
		return FaceInvalid
	}
	return f ^ 1
}

// Axis возвращает ось нормали стороны
func (f Face) Axis() int {
	return DirectionAxis[f]
}

// Step возвращает шаг вдоль оси нормали (+1 или -1)
func (f Face) Step() int {
	return Directions[f].Axis(DirectionAxis[f])
}

// String возвращает строковое представление стороны
func (f Face) String() string {
	switch f {
	case FaceTop:
		return "Top"
	case FaceBottom:
		return "Bottom"
	case FaceWest:
		return "West"
	case FaceEast:
		return "East"
	case FaceSouth:
		return "South"
	case FaceNorth:
		return "North"
	default:
		return "Invalid"
	}
}

// AdjacentPosition возвращает координату соседнего блока со стороны side
func AdjacentPosition(pos vec.Vec3, side Face) vec.Vec3 {
	return pos.Add(Directions[side])
}
