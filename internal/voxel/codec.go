package voxel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/annel0/sandblox/internal/vec"
	xxhash "github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Формат передачи: один байт на воксель (только тип блока), порядок x + y*sizeX + z*sizeX*sizeY.
// Яркость не передаётся.
const (
	gridMagic    = "SBXG"
	chunkMagic   = "SBXC"
	codecVersion = 1

	// RecordSize размер записи одного вокселя в байтах
	RecordSize = 1

	// ChunkVolume количество блоков в чанке
	ChunkVolume = ChunkSize * ChunkSize * ChunkSize
)

// Compression способ сжатия полезной нагрузки
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

var (
	ErrBadMagic          = errors.New("неизвестный формат данных")
	ErrUnsupported       = errors.New("неподдерживаемая версия или сжатие")
	ErrChecksumMismatch  = errors.New("контрольная сумма не совпадает")
	ErrTruncated         = errors.New("данные обрезаны")
	ErrChunkSizeMismatch = errors.New("неверный размер данных чанка")
)

// gridHeader заголовок сериализованной сетки
type gridHeader struct {
	Version     uint8
	SizeX       uint16
	SizeY       uint16
	SizeZ       uint16
	RecordSize  uint8
	Compression Compression
	Checksum    uint64
	PayloadLen  uint32
}

// chunkHeader заголовок сериализованного чанка
type chunkHeader struct {
	Version     uint8
	OffsetX     int32
	OffsetY     int32
	OffsetZ     int32
	Compression Compression
	Checksum    uint64
	PayloadLen  uint32
}

// ParseCompression разбирает название сжатия из конфигурации
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// MarshalGrid сериализует всю сетку (тип блока на воксель)
func MarshalGrid(g *Grid, comp Compression) ([]byte, error) {
	payload, err := compress(g.blocks, comp)
	if err != nil {
		return nil, err
	}

	hdr := gridHeader{
		Version:     codecVersion,
		SizeX:       uint16(g.sizeX),
		SizeY:       uint16(g.sizeY),
		SizeZ:       uint16(g.sizeZ),
		RecordSize:  RecordSize,
		Compression: comp,
		Checksum:    xxhash.Sum64(g.blocks),
		PayloadLen:  uint32(len(payload)),
	}

	var out bytes.Buffer
	out.WriteString(gridMagic)
	if err := binary.Write(&out, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("ошибка записи заголовка сетки: %w", err)
	}
	out.Write(payload)
	return out.Bytes(), nil
}

// UnmarshalGrid восстанавливает сетку из MarshalGrid
func UnmarshalGrid(data []byte) (*Grid, error) {
	if len(data) < len(gridMagic) || string(data[:len(gridMagic)]) != gridMagic {
		return nil, ErrBadMagic
	}

	r := bytes.NewReader(data[len(gridMagic):])
	var hdr gridHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: заголовок сетки: %v", ErrTruncated, err)
	}
	if hdr.Version != codecVersion || hdr.RecordSize != RecordSize {
		return nil, fmt.Errorf("%w: версия %d, запись %d байт", ErrUnsupported, hdr.Version, hdr.RecordSize)
	}
	if int(hdr.PayloadLen) != r.Len() {
		return nil, fmt.Errorf("%w: ожидалось %d байт, осталось %d", ErrTruncated, hdr.PayloadLen, r.Len())
	}

	payload := data[len(data)-r.Len():]
	blocks, err := decompress(payload, hdr.Compression)
	if err != nil {
		return nil, err
	}
	if xxhash.Sum64(blocks) != hdr.Checksum {
		return nil, ErrChecksumMismatch
	}

	return NewGridFromBytes(int(hdr.SizeX), int(hdr.SizeY), int(hdr.SizeZ), blocks)
}

// ChunkData содержимое одного чанка для передачи: смещение и 32³ байт типов
// в локальном порядке x + y*32 + z*32*32.
type ChunkData struct {
	Offset vec.Vec3
	Blocks []byte
}

// LocalIndex возвращает индекс блока внутри чанка
func LocalIndex(local vec.Vec3) int {
	return local.X + local.Y*ChunkSize + local.Z*ChunkSize*ChunkSize
}

// ChunkBlocks копирует типы блоков чанка со смещением offset.
// Блоки вне сетки записываются как пустые.
func (g *Grid) ChunkBlocks(offset vec.Vec3) ChunkData {
	blocks := make([]byte, ChunkVolume)
	for z := 0; z < ChunkSize; z++ {
		for y := 0; y < ChunkSize; y++ {
			for x := 0; x < ChunkSize; x++ {
				local := vec.Vec3{X: x, Y: y, Z: z}
				blocks[LocalIndex(local)] = g.GetType(offset.Add(local))
			}
		}
	}
	return ChunkData{Offset: offset, Blocks: blocks}
}

// SetChunkBlocks записывает содержимое чанка в сетку целиком, без правила
// смены занятости. Возвращает количество изменившихся блоков.
func (g *Grid) SetChunkBlocks(chunk ChunkData) (int, error) {
	if len(chunk.Blocks) != ChunkVolume {
		return 0, fmt.Errorf("%w: %d байт", ErrChunkSizeMismatch, len(chunk.Blocks))
	}

	changed := 0
	for z := 0; z < ChunkSize; z++ {
		for y := 0; y < ChunkSize; y++ {
			for x := 0; x < ChunkSize; x++ {
				local := vec.Vec3{X: x, Y: y, Z: z}
				pos := chunk.Offset.Add(local)
				if !g.InBounds(pos) {
					continue
				}
				index := g.Index(pos)
				blockType := chunk.Blocks[LocalIndex(local)]
				if g.blocks[index] != blockType {
					g.blocks[index] = blockType
					changed++
				}
			}
		}
	}
	return changed, nil
}

// MarshalChunk сериализует чанк
func MarshalChunk(chunk ChunkData, comp Compression) ([]byte, error) {
	if len(chunk.Blocks) != ChunkVolume {
		return nil, fmt.Errorf("%w: %d байт", ErrChunkSizeMismatch, len(chunk.Blocks))
	}

	payload, err := compress(chunk.Blocks, comp)
	if err != nil {
		return nil, err
	}

	hdr := chunkHeader{
		Version:     codecVersion,
		OffsetX:     int32(chunk.Offset.X),
		OffsetY:     int32(chunk.Offset.Y),
		OffsetZ:     int32(chunk.Offset.Z),
		Compression: comp,
		Checksum:    xxhash.Sum64(chunk.Blocks),
		PayloadLen:  uint32(len(payload)),
	}

	var out bytes.Buffer
	out.WriteString(chunkMagic)
	if err := binary.Write(&out, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("ошибка записи заголовка чанка: %w", err)
	}
	out.Write(payload)
	return out.Bytes(), nil
}

// UnmarshalChunk восстанавливает чанк из MarshalChunk
func UnmarshalChunk(data []byte) (ChunkData, error) {
	if len(data) < len(chunkMagic) || string(data[:len(chunkMagic)]) != chunkMagic {
		return ChunkData{}, ErrBadMagic
	}

	r := bytes.NewReader(data[len(chunkMagic):])
	var hdr chunkHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return ChunkData{}, fmt.Errorf("%w: заголовок чанка: %v", ErrTruncated, err)
	}
	if hdr.Version != codecVersion {
		return ChunkData{}, fmt.Errorf("%w: версия %d", ErrUnsupported, hdr.Version)
	}
	if int(hdr.PayloadLen) != r.Len() {
		return ChunkData{}, fmt.Errorf("%w: ожидалось %d байт, осталось %d", ErrTruncated, hdr.PayloadLen, r.Len())
	}

	blocks, err := decompress(data[len(data)-r.Len():], hdr.Compression)
	if err != nil {
		return ChunkData{}, err
	}
	if len(blocks) != ChunkVolume {
		return ChunkData{}, fmt.Errorf("%w: %d байт", ErrChunkSizeMismatch, len(blocks))
	}
	if xxhash.Sum64(blocks) != hdr.Checksum {
		return ChunkData{}, ErrChecksumMismatch
	}

	return ChunkData{
		Offset: vec.Vec3{X: int(hdr.OffsetX), Y: int(hdr.OffsetY), Z: int(hdr.OffsetZ)},
		Blocks: blocks,
	}, nil
}

func compress(raw []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("ошибка создания zstd кодера: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("%w: сжатие %d", ErrUnsupported, comp)
}

func decompress(payload []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания zstd декодера: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("ошибка распаковки zstd: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: сжатие %d", ErrUnsupported, comp)
}
