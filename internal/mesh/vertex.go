package mesh

import "github.com/annel0/sandblox/internal/vec"

// Раскладка атрибутного слова вершины, совместимая с шейдером вокселей:
//
//	биты 18..22 - текстура (тип блока - 1), 5 бит
//	биты 23..26 - яркость, 4 бита
//	биты 27..29 - нормаль (номер стороны), 3 бита
const (
	textureShift    = 18
	textureMask     = 31
	brightnessShift = 23
	brightnessMask  = 15
	normalShift     = 27
	normalMask      = 7
)

// Vertex вершина визуального меша: локальная позиция в чанке (0..32) и упакованные атрибуты
type Vertex struct {
	X          uint32
	Y          uint32
	Z          uint32
	Attributes uint32
}

// PackAttributes упаковывает текстуру, яркость и нормаль в одно слово
func PackAttributes(textureID, brightness, normal uint8) uint32 {
	return uint32(textureID&textureMask)<<textureShift |
		uint32(brightness&brightnessMask)<<brightnessShift |
		uint32(normal&normalMask)<<normalShift
}

// TextureID извлекает номер текстуры
func (v Vertex) TextureID() uint8 {
	return uint8((v.Attributes >> textureShift) & textureMask)
}

// Brightness извлекает яркость
func (v Vertex) Brightness() uint8 {
	return uint8((v.Attributes >> brightnessShift) & brightnessMask)
}

// Normal извлекает номер нормали (совпадает с voxel.Face)
func (v Vertex) Normal() uint8 {
	return uint8((v.Attributes >> normalShift) & normalMask)
}

// Position возвращает позицию вершины как целочисленный вектор
func (v Vertex) Position() vec.Vec3 {
	return vec.Vec3{X: int(v.X), Y: int(v.Y), Z: int(v.Z)}
}

// Углы единичного куба
var blockVertices = [8]vec.Vec3{
	{X: 0, Y: 0, Z: 1},
	{X: 0, Y: 1, Z: 1},
	{X: 1, Y: 1, Z: 1},
	{X: 1, Y: 0, Z: 1},
	{X: 0, Y: 0, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: 1, Y: 1, Z: 0},
	{X: 1, Y: 0, Z: 0},
}

// Два треугольника на сторону, в порядке voxel.Face
var blockIndices = [36]int{
	2, 1, 0, 0, 3, 2, // Top
	5, 6, 7, 7, 4, 5, // Bottom
	4, 7, 3, 3, 0, 4, // West
	6, 5, 1, 1, 2, 6, // East
	5, 4, 0, 0, 1, 5, // South
	7, 6, 2, 2, 3, 7, // North
}

// VerticesPerQuad количество вершин одного квада (без общего индексного буфера)
const VerticesPerQuad = 6
