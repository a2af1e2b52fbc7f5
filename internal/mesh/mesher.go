package mesh

import (
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
)

// Volume источник блоков для мешера. Координаты мировые; вне мира блоки пустые.
// *voxel.Grid реализует этот интерфейс.
type Volume interface {
	IsEmpty(pos vec.Vec3) bool
	GetType(pos vec.Vec3) uint8
	Brightness(pos vec.Vec3) uint8
	IsAdjacentEmpty(pos vec.Vec3, side voxel.Face) bool
}

// Quad прямоугольник, полученный склейкой ячеек маски
type Quad struct {
	Origin vec.Vec3 // Локальная позиция стартовой ячейки
	Width  int      // Размер вдоль оси u
	Height int      // Размер вдоль оси v
	UAxis  int
	VAxis  int
	Face   BlockFace
}

// Mesher строит грани одного чанка жадной склейкой.
// Сам мешер не хранит состояния прохода: маска передаётся вызывающим.
type Mesher struct {
	volume        Volume
	offset        vec.Vec3
	size          int
	blockSize     float64
	collisionOnly bool
}

// NewMesher создаёт мешер для чанка с минимальным углом offset
func NewMesher(volume Volume, offset vec.Vec3, opts Options) Mesher {
	opts = opts.withDefaults()
	return Mesher{
		volume:        volume,
		offset:        offset,
		size:          voxel.ChunkSize,
		blockSize:     opts.BlockSize,
		collisionOnly: opts.CollisionOnly,
	}
}

// SweepAxes возвращает ось нормали и две другие оси в циклическом порядке
func SweepAxes(side voxel.Face) (axis, uAxis, vAxis int) {
	axis = side.Axis()
	return axis, (axis + 1) % 3, (axis + 2) % 3
}

// BlockFace вычисляет видимость стороны side блока с локальной позицией local.
// Сторона скрыта, если блок пуст или сосед со стороны side занят (любым типом).
func (m Mesher) BlockFace(local vec.Vec3, side voxel.Face) BlockFace {
	p := m.offset.Add(local)

	if m.volume.IsEmpty(p) {
		return BlockFace{Culled: true, Side: side}
	}

	// Для коллизий важна только занятость: тип и яркость постоянны
	face := BlockFace{
		Side:       side,
		Type:       1,
		Brightness: voxel.MaxBrightness,
	}
	if !m.collisionOnly {
		face.Type = m.volume.GetType(p)
		face.Brightness = m.volume.Brightness(p)
	}

	if !m.volume.IsAdjacentEmpty(p, side) {
		face.Culled = true
	}

	return face
}

// BuildMask заполняет маску для плоскости a вдоль оси стороны side.
// Возвращает false, если в плоскости нет ни одной видимой грани.
func (m Mesher) BuildMask(mask *FaceMask, side voxel.Face, a int) bool {
	axis, uAxis, vAxis := SweepAxes(side)
	step := voxel.Directions[side]
	maskEmpty := true

	n := 0
	for j := 0; j < m.size; j++ {
		for i := 0; i < m.size; i++ {
			pos := vec.Vec3{}.WithAxis(axis, a).WithAxis(uAxis, i).WithAxis(vAxis, j)

			// сторона этого блока
			faceA := m.BlockFace(pos, side)

			// та же сторона следующего блока по оси
			faceB := BlockFace{Culled: true, Side: side}
			if a+step.Axis(axis) < m.size {
				faceB = m.BlockFace(pos.Add(step), side)
			}

			if faceA.Mergeable(faceB) {
				mask.cells[n] = BlockFace{Culled: true, Side: side}
			} else {
				mask.cells[n] = faceA
				if !faceA.Culled {
					maskEmpty = false
				}
			}

			n++
		}
	}

	return !maskEmpty
}

// MergeMask склеивает видимые ячейки маски в прямоугольники и передаёт их в emit.
// Обход: v снаружи, u внутри. Поглощённые ячейки помечаются скрытыми.
func (m Mesher) MergeMask(mask *FaceMask, side voxel.Face, a int, emit func(Quad)) {
	axis, uAxis, vAxis := SweepAxes(side)
	size := m.size

	n := 0
	for j := 0; j < size; j++ {
		for i := 0; i < size; {
			seed := mask.cells[n]
			if seed.Culled {
				i++
				n++
				continue
			}

			width := 1
			for i+width < size && mask.cells[n+width].Mergeable(seed) {
				width++
			}

			height := 1
		rows:
			for ; j+height < size; height++ {
				for k := 0; k < width; k++ {
					if !mask.cells[n+k+height*size].Mergeable(seed) {
						break rows
					}
				}
			}

			emit(Quad{
				Origin: vec.Vec3{}.WithAxis(axis, a).WithAxis(uAxis, i).WithAxis(vAxis, j),
				Width:  width,
				Height: height,
				UAxis:  uAxis,
				VAxis:  vAxis,
				Face:   seed,
			})

			for l := 0; l < height; l++ {
				for k := 0; k < width; k++ {
					mask.cells[n+k+l*size].Culled = true
				}
			}

			i += width
			n += width
		}
	}
}

// Sweep пересчитывает одну плоскость: маска, склейка, вывод квадов в slice.
// Буферы slice очищаются заранее.
func (m Mesher) Sweep(mask *FaceMask, side voxel.Face, a int, slice *Slice) {
	slice.reset()
	if !m.BuildMask(mask, side, a) {
		return
	}
	m.MergeMask(mask, side, a, func(q Quad) {
		m.addQuad(slice, q)
	})
}

// addQuad выводит два треугольника квада в визуальный и коллизионный буферы
func (m Mesher) addQuad(slice *Slice, q Quad) {
	attributes := PackAttributes(q.Face.Type-1, q.Face.Brightness, uint8(q.Face.Side))
	collisionIndex := len(slice.CollisionIndices)

	for i := 0; i < VerticesPerQuad; i++ {
		offset := blockVertices[blockIndices[int(q.Face.Side)*VerticesPerQuad+i]]

		// растягиваем вершину на ширину и высоту квада
		offset = offset.WithAxis(q.UAxis, offset.Axis(q.UAxis)*q.Width)
		offset = offset.WithAxis(q.VAxis, offset.Axis(q.VAxis)*q.Height)
		p := q.Origin.Add(offset)

		if !m.collisionOnly {
			slice.Vertices = append(slice.Vertices, Vertex{
				X:          uint32(p.X),
				Y:          uint32(p.Y),
				Z:          uint32(p.Z),
				Attributes: attributes,
			})
		}

		slice.CollisionVertices = append(slice.CollisionVertices, m.offset.Add(p).ToFloat().Mul(m.blockSize))
		slice.CollisionIndices = append(slice.CollisionIndices, collisionIndex+i)
	}
}
