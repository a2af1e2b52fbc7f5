package export

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/annel0/sandblox/internal/mesh"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// ErrEmptyMesh у чанка нет визуальных вершин (пустой чанк или режим только коллизий)
var ErrEmptyMesh = errors.New("export: пустой меш")

// Generator записывается в asset.generator
const Generator = "sandblox mesh export"

// Palette цвета текстур по номеру (тип блока - 1), по кругу
var Palette = [][4]float32{
	{0.42, 0.65, 0.27, 1}, // трава
	{0.55, 0.40, 0.25, 1}, // земля
	{0.50, 0.50, 0.52, 1}, // камень
	{0.86, 0.80, 0.55, 1}, // песок
	{0.60, 0.42, 0.22, 1}, // дерево
	{0.25, 0.45, 0.80, 1}, // вода
	{0.90, 0.90, 0.92, 1}, // снег
	{0.30, 0.30, 0.30, 1}, // базальт
}

// Options параметры экспорта
type Options struct {
	Scale float32 // Мировых единиц в блоке; 0 - один блок равен единице
}

// ChunkSource набор мешей чанков; *world.World реализует его
type ChunkSource interface {
	ChunkCount() int
	ReadChunk(index int, fn func(*mesh.ChunkMesh)) bool
}

// ChunkGLB записывает визуальный меш одного чанка в GLB
func ChunkGLB(chunk *mesh.ChunkMesh, opts Options) ([]byte, error) {
	doc := newDocument()
	if !addChunk(doc, chunk, opts, "chunk") {
		return nil, ErrEmptyMesh
	}
	return encode(doc)
}

// WorldGLB записывает все непустые чанки в одну сцену, по узлу на чанк
func WorldGLB(source ChunkSource, opts Options) ([]byte, error) {
	doc := newDocument()
	for i := 0; i < source.ChunkCount(); i++ {
		source.ReadChunk(i, func(c *mesh.ChunkMesh) {
			addChunk(doc, c, opts, fmt.Sprintf("chunk_%d", i))
		})
	}
	if len(doc.Meshes) == 0 {
		return nil, ErrEmptyMesh
	}
	return encode(doc)
}

func newDocument() *gltf.Document {
	doc := gltf.NewDocument()
	doc.Asset.Generator = Generator
	doc.Materials = []*gltf.Material{{
		Name:      "voxel",
		AlphaMode: gltf.AlphaOpaque,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{1, 1, 1, 1},
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
	}}
	return doc
}

// addChunk добавляет меш и узел чанка. false, если вершин нет.
func addChunk(doc *gltf.Document, chunk *mesh.ChunkMesh, opts Options, name string) bool {
	vertices := chunk.Vertices()
	if len(vertices) == 0 {
		return false
	}

	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	offset := chunk.Offset()

	positions := make([][3]float32, len(vertices))
	normals := make([][3]float32, len(vertices))
	colors := make([][4]float32, len(vertices))
	indices := make([]uint32, len(vertices))

	for i, v := range vertices {
		positions[i] = [3]float32{
			float32(offset.X+int(v.X)) * scale,
			float32(offset.Y+int(v.Y)) * scale,
			float32(offset.Z+int(v.Z)) * scale,
		}

		// вершины не разделяются между квадами: нормаль берётся из стороны
		if side := voxel.Face(v.Normal()); side.Valid() {
			d := voxel.Directions[side]
			normals[i] = [3]float32{float32(d.X), float32(d.Y), float32(d.Z)}
		}

		base := Palette[int(v.TextureID())%len(Palette)]
		light := float32(v.Brightness()) / float32(voxel.MaxBrightness)
		colors[i] = [4]float32{base[0] * light, base[1] * light, base[2] * light, base[3]}
		indices[i] = uint32(i)
	}

	posAccessor := modeler.WritePosition(doc, positions)
	normalAccessor := modeler.WriteNormal(doc, normals)
	colorAccessor := modeler.WriteColor(doc, colors)
	indicesAccessor := modeler.WriteIndices(doc, indices)

	prim := &gltf.Primitive{
		Attributes: map[string]uint32{
			gltf.POSITION: uint32(posAccessor),
			gltf.NORMAL:   uint32(normalAccessor),
			gltf.COLOR_0:  uint32(colorAccessor),
		},
		Indices:  gltf.Index(uint32(indicesAccessor)),
		Material: gltf.Index(0),
	}

	meshIndex := uint32(len(doc.Meshes))
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: name, Primitives: []*gltf.Primitive{prim}})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: name, Mesh: gltf.Index(meshIndex)})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)-1))
	return true
}

func encode(doc *gltf.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("export: запись GLB: %w", err)
	}
	return buf.Bytes(), nil
}
