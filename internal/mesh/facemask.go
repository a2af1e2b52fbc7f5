package mesh

import "github.com/annel0/sandblox/internal/voxel"

// BlockFace ячейка маски: видимость одной стороны блока
type BlockFace struct {
	Culled     bool
	Type       uint8
	Brightness uint8
	Side       voxel.Face
}

// Equals сравнивает две ячейки так же, как их сравнивает склейка
func (f BlockFace) Equals(other BlockFace) bool {
	return f.Culled == other.Culled && f.Type == other.Type && f.Brightness == other.Brightness
}

// Mergeable возвращает true, если обе стороны видимы и их можно склеить в один квад
func (f BlockFace) Mergeable(other BlockFace) bool {
	return !f.Culled && !other.Culled && f.Equals(other)
}

// FaceMask переиспользуемый буфер size×size ячеек для одного прохода.
// Маску не должны одновременно использовать два прохода: каждый поток держит свою.
type FaceMask struct {
	size  int
	cells []BlockFace
}

// NewFaceMask создаёт маску для чанка с ребром size
func NewFaceMask(size int) *FaceMask {
	return &FaceMask{
		size:  size,
		cells: make([]BlockFace, size*size),
	}
}

// Size возвращает длину стороны маски
func (m *FaceMask) Size() int {
	return m.size
}

// At возвращает ячейку (u, v)
func (m *FaceMask) At(u, v int) BlockFace {
	return m.cells[u+v*m.size]
}

// Set записывает ячейку (u, v)
func (m *FaceMask) Set(u, v int, face BlockFace) {
	m.cells[u+v*m.size] = face
}
