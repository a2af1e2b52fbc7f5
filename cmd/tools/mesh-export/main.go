package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/annel0/sandblox/internal/export"
	"github.com/annel0/sandblox/internal/mesh"
	"github.com/annel0/sandblox/internal/storage"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/annel0/sandblox/internal/world"
)

func main() {
	var (
		gridFile = flag.String("grid", "", "файл сетки .sbxg")
		storeDir = flag.String("store", "", "каталог хранилища мира (вместо -grid)")
		outDir   = flag.String("out", "export", "каталог для GLB файлов")
		scale    = flag.Float64("scale", 1, "масштаб вершин")
		perChunk = flag.Bool("chunks", false, "дополнительно записать GLB каждого чанка")
	)
	flag.Parse()

	grid, err := loadGrid(*gridFile, *storeDir)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки сетки: %v", err)
	}
	w := world.New(grid, nil, world.Options{})
	if err := w.Init(context.Background()); err != nil {
		log.Fatalf("❌ Ошибка сборки мешей: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("❌ Ошибка создания каталога: %v", err)
	}
	opts := export.Options{Scale: float32(*scale)}

	written := 0
	if *perChunk {
		for index := 0; index < w.ChunkCount(); index++ {
			var data []byte
			var chunkErr error
			w.ReadChunk(index, func(chunk *mesh.ChunkMesh) {
				data, chunkErr = export.ChunkGLB(chunk, opts)
			})
			if errors.Is(chunkErr, export.ErrEmptyMesh) {
				continue
			}
			if chunkErr != nil {
				log.Fatalf("❌ Чанк %d: %v", index, chunkErr)
			}
			if err := writeFile(*outDir, fmt.Sprintf("chunk_%d.glb", index), data); err != nil {
				log.Fatalf("❌ %v", err)
			}
			written++
		}
	}

	data, err := export.WorldGLB(w, opts)
	if err != nil {
		log.Fatalf("❌ Ошибка экспорта мира: %v", err)
	}
	if err := writeFile(*outDir, "world.glb", data); err != nil {
		log.Fatalf("❌ %v", err)
	}

	quads, vertices := w.Totals()
	fmt.Printf("✅ %d чанков, %d квадов, %d вершин, файлов чанков: %d\n", w.ChunkCount(), quads, vertices, written)
}

func loadGrid(gridFile, storeDir string) (*voxel.Grid, error) {
	switch {
	case gridFile != "":
		data, err := os.ReadFile(gridFile)
		if err != nil {
			return nil, err
		}
		return voxel.UnmarshalGrid(data)
	case storeDir != "":
		store, err := storage.NewWorldStorage(storeDir, voxel.CompressionZstd)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return loadStoredGrid(store)
	}
	return nil, errors.New("нужен -grid или -store")
}

// loadStoredGrid читает сетку и накладывает чанки, сохранённые после неё
func loadStoredGrid(store *storage.WorldStorage) (*voxel.Grid, error) {
	grid, err := store.LoadGrid()
	if err != nil {
		return nil, err
	}
	offsets, err := store.ListChunks()
	if err != nil {
		return nil, err
	}
	for _, offset := range offsets {
		chunk, err := store.LoadChunk(offset)
		if err != nil {
			return nil, err
		}
		if _, err := grid.SetChunkBlocks(chunk); err != nil {
			return nil, fmt.Errorf("чанк %v: %w", offset, err)
		}
	}
	return grid, nil
}

func writeFile(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("запись %s: %w", path, err)
	}
	return nil
}
