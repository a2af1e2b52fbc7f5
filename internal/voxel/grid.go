package voxel

import (
	"errors"
	"fmt"

	"github.com/annel0/sandblox/internal/vec"
)

const (
	// ChunkSize длина ребра чанка в блоках
	ChunkSize = 32

	// AirBlockType тип пустого блока
	AirBlockType uint8 = 0

	// MaxBrightness яркость блока по умолчанию (4 бита в атрибутах вершины)
	MaxBrightness uint8 = 15

	// MaxDimension максимальный размер сетки по оси (заголовок сериализации хранит uint16)
	MaxDimension = 0xFFFF
)

// ErrInvalidDimensions возвращается при недопустимых размерах сетки
var ErrInvalidDimensions = errors.New("недопустимые размеры сетки")

// Grid хранит типы блоков всего мира плоским массивом байтов.
// Индекс блока: x + y*sizeX + z*sizeX*sizeY. Любая координата вне сетки читается как пустая.
//
// Grid не синхронизирован: изменяет его один логический владелец за тик.
type Grid struct {
	sizeX, sizeY, sizeZ int
	blocks              []byte
	brightness          []byte // nil, пока яркость ни разу не задавалась
}

// NewGrid создаёт пустую сетку указанного размера
func NewGrid(sizeX, sizeY, sizeZ int) (*Grid, error) {
	if err := validateDimensions(sizeX, sizeY, sizeZ); err != nil {
		return nil, err
	}

	return &Grid{
		sizeX:  sizeX,
		sizeY:  sizeY,
		sizeZ:  sizeZ,
		blocks: make([]byte, sizeX*sizeY*sizeZ),
	}, nil
}

// NewGridFromBytes создаёт сетку поверх готового массива типов блоков.
// Массив не копируется.
func NewGridFromBytes(sizeX, sizeY, sizeZ int, blocks []byte) (*Grid, error) {
	if err := validateDimensions(sizeX, sizeY, sizeZ); err != nil {
		return nil, err
	}
	if len(blocks) != sizeX*sizeY*sizeZ {
		return nil, fmt.Errorf("%w: ожидалось %d байт, получено %d", ErrInvalidDimensions, sizeX*sizeY*sizeZ, len(blocks))
	}

	return &Grid{sizeX: sizeX, sizeY: sizeY, sizeZ: sizeZ, blocks: blocks}, nil
}

func validateDimensions(sizeX, sizeY, sizeZ int) error {
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrInvalidDimensions, sizeX, sizeY, sizeZ)
	}
	if sizeX > MaxDimension || sizeY > MaxDimension || sizeZ > MaxDimension {
		return fmt.Errorf("%w: %dx%dx%d превышает %d", ErrInvalidDimensions, sizeX, sizeY, sizeZ, MaxDimension)
	}
	return nil
}

// Size возвращает размеры сетки
func (g *Grid) Size() vec.Vec3 {
	return vec.Vec3{X: g.sizeX, Y: g.sizeY, Z: g.sizeZ}
}

// InBounds проверяет, лежит ли координата внутри сетки
func (g *Grid) InBounds(pos vec.Vec3) bool {
	return pos.X >= 0 && pos.X < g.sizeX &&
		pos.Y >= 0 && pos.Y < g.sizeY &&
		pos.Z >= 0 && pos.Z < g.sizeZ
}

// Index возвращает линейный индекс блока. Координата должна быть внутри сетки.
func (g *Grid) Index(pos vec.Vec3) int {
	return pos.X + pos.Y*g.sizeX + pos.Z*g.sizeX*g.sizeY
}

// Bytes возвращает внутренний массив типов блоков (без копирования)
func (g *Grid) Bytes() []byte {
	return g.blocks
}

// IsEmpty возвращает true для пустого блока или координаты вне сетки
func (g *Grid) IsEmpty(pos vec.Vec3) bool {
	if !g.InBounds(pos) {
		return true
	}
	return g.blocks[g.Index(pos)] == AirBlockType
}

// GetType возвращает тип блока (0 вне сетки)
func (g *Grid) GetType(pos vec.Vec3) uint8 {
	if !g.InBounds(pos) {
		return AirBlockType
	}
	return g.blocks[g.Index(pos)]
}

// SetType записывает тип блока. Возвращает true, только если блок сменил
// состояние пусто/занято. Запись, не пересекающая эту границу, не выполняется.
func (g *Grid) SetType(pos vec.Vec3, blockType uint8) bool {
	if !g.InBounds(pos) {
		return false
	}

	index := g.Index(pos)
	current := g.blocks[index]

	if current == blockType {
		return false
	}

	if (blockType != AirBlockType) == (current != AirBlockType) {
		return false
	}

	g.blocks[index] = blockType
	return true
}

// IsAdjacentEmpty проверяет, пуст ли сосед со стороны side
func (g *Grid) IsAdjacentEmpty(pos vec.Vec3, side Face) bool {
	return g.IsEmpty(AdjacentPosition(pos, side))
}

// Brightness возвращает яркость блока (MaxBrightness, если слой яркости не задан)
func (g *Grid) Brightness(pos vec.Vec3) uint8 {
	if g.brightness == nil {
		return MaxBrightness
	}
	if !g.InBounds(pos) {
		return 0
	}
	return g.brightness[g.Index(pos)]
}

// SetBrightness задаёт яркость блока (обрезается до MaxBrightness).
// Возвращает true, если значение изменилось.
func (g *Grid) SetBrightness(pos vec.Vec3, brightness uint8) bool {
	if !g.InBounds(pos) {
		return false
	}
	if brightness > MaxBrightness {
		brightness = MaxBrightness
	}

	if g.brightness == nil {
		if brightness == MaxBrightness {
			return false
		}
		g.brightness = make([]byte, len(g.blocks))
		for i := range g.brightness {
			g.brightness[i] = MaxBrightness
		}
	}

	index := g.Index(pos)
	if g.brightness[index] == brightness {
		return false
	}
	g.brightness[index] = brightness
	return true
}

// FillGround заполняет все слои z < height блоками, тип которых выбирает pick.
// Блоки выше height очищаются. Используется для начального мира.
func (g *Grid) FillGround(height int, pick func(pos vec.Vec3) uint8) {
	if height > g.sizeZ {
		height = g.sizeZ
	}

	for z := 0; z < g.sizeZ; z++ {
		for y := 0; y < g.sizeY; y++ {
			for x := 0; x < g.sizeX; x++ {
				pos := vec.Vec3{X: x, Y: y, Z: z}
				blockType := AirBlockType
				if z < height {
					blockType = pick(pos)
				}
				g.blocks[g.Index(pos)] = blockType
			}
		}
	}
}
