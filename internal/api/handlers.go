package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/annel0/sandblox/internal/cache"
	"github.com/annel0/sandblox/internal/export"
	"github.com/annel0/sandblox/internal/logging"
	"github.com/annel0/sandblox/internal/mesh"
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/annel0/sandblox/internal/world"
	"github.com/gin-gonic/gin"
)

const (
	contentTypeGLB    = "model/gltf-binary"
	contentTypeBinary = "application/octet-stream"

	// maxChunkBody предел тела PUT чанка: заголовок и несжатые блоки с запасом
	maxChunkBody = 2 * voxel.ChunkVolume
)

// editorKey ключ имени редактора в gin.Context
const editorKey = "editor"

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SetBlockRequest запрос записи блока. type = 0 удаляет блок.
type SetBlockRequest struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
	Type *uint8 `json:"type" binding:"required"`
}

// PlaceRequest запрос установки или удаления блока лучом.
// origin в мировых единицах, direction произвольной длины.
type PlaceRequest struct {
	Origin    vec.Vec3Float `json:"origin"`
	Direction vec.Vec3Float `json:"direction"`
	Type      uint8         `json:"type"`
}

// BrightnessRequest запрос смены яркости блока
type BrightnessRequest struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Z          int    `json:"z"`
	Brightness *uint8 `json:"brightness" binding:"required"`
}

// BlockInfo состояние одного блока
type BlockInfo struct {
	Position   vec.Vec3 `json:"position"`
	Type       uint8    `json:"type"`
	Brightness uint8    `json:"brightness"`
	Chunk      int      `json:"chunk"`
}

// HitInfo результат луча
type HitInfo struct {
	Valid    bool     `json:"valid"`
	Face     string   `json:"face"`
	Position vec.Vec3 `json:"position"`
	Distance float64  `json:"distance"`
}

// PlaceResponse итог установки блока лучом
type PlaceResponse struct {
	Edit world.EditResult `json:"edit"`
	Hit  HitInfo          `json:"hit"`
}

func (rs *RestServer) fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: message})
}

// handleHealth отвечает 503, пока мир не собран
func (rs *RestServer) handleHealth(c *gin.Context) {
	if !rs.world.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleServerInfo возвращает информацию о процессе и мире
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	quads, vertices := rs.world.Totals()

	data := gin.H{
		"uptime":    rs.metrics.GetUptime(),
		"memory_mb": rs.metrics.GetMemoryUsage(),
		"memory":    rs.metrics.GetDetailedMemoryStats(),
		"world": gin.H{
			"size":         rs.world.Size(),
			"chunk_counts": rs.world.ChunkCounts(),
			"chunks":       rs.world.ChunkCount(),
			"ready":        rs.world.Ready(),
			"quads":        quads,
			"vertices":     vertices,
			"block_size":   rs.world.Options().Mesh.BlockSize,
		},
	}

	if cpu, err := rs.metrics.GetCPUUsage(); err == nil {
		data["cpu_percent"] = cpu
	}
	if used, total, err := rs.metrics.GetSystemMemory(); err == nil {
		data["system_memory_mb"] = gin.H{"used": used, "total": total}
	}
	if rs.cache != nil {
		stats := rs.cache.Stats()
		data["cache"] = gin.H{"hits": stats.Hits, "misses": stats.Misses, "sets": stats.Sets, "hit_ratio": stats.HitRatio()}
	}
	if rs.hub != nil {
		data["ws_clients"] = rs.hub.ClientCount()
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: data})
}

func (rs *RestServer) handleGetBlock(c *gin.Context) {
	var pos vec.Vec3
	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &pos.X}, {"y", &pos.Y}, {"z", &pos.Z}} {
		v, err := strconv.Atoi(c.Param(p.name))
		if err != nil {
			rs.fail(c, http.StatusBadRequest, "Неверная координата "+p.name)
			return
		}
		*p.dst = v
	}

	chunk, ok := rs.world.ChunkIndexOf(pos)
	if !ok {
		rs.fail(c, http.StatusNotFound, "Блок вне мира")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: BlockInfo{
		Position:   pos,
		Type:       rs.world.GetType(pos),
		Brightness: rs.world.Brightness(pos),
		Chunk:      chunk,
	}})
}

func (rs *RestServer) handleSetBlock(c *gin.Context) {
	var req SetBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	pos := vec.Vec3{X: req.X, Y: req.Y, Z: req.Z}
	if _, ok := rs.world.ChunkIndexOf(pos); !ok {
		rs.fail(c, http.StatusUnprocessableEntity, "Блок вне мира")
		return
	}

	result := rs.world.SetBlock(c.Request.Context(), pos, *req.Type)
	rs.logEdit(c, "set", result)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: editMessage(result), Data: result})
}

func (rs *RestServer) handlePlaceBlock(c *gin.Context) {
	var req PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	if req.Direction.Length() == 0 {
		rs.fail(c, http.StatusBadRequest, "Нулевое направление луча")
		return
	}

	result, hit := rs.world.PlaceOrRemoveBlock(c.Request.Context(), req.Origin, req.Direction, req.Type)
	rs.logEdit(c, "place", result)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: editMessage(result), Data: PlaceResponse{
		Edit: result,
		Hit: HitInfo{
			Valid:    hit.Valid(),
			Face:     hit.Face.String(),
			Position: hit.Position,
			Distance: hit.Distance,
		},
	}})
}

func (rs *RestServer) handleSetBrightness(c *gin.Context) {
	var req BrightnessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	if *req.Brightness > voxel.MaxBrightness {
		rs.fail(c, http.StatusUnprocessableEntity, "Яркость больше 15")
		return
	}

	result := rs.world.SetBrightness(c.Request.Context(), vec.Vec3{X: req.X, Y: req.Y, Z: req.Z}, *req.Brightness)
	rs.logEdit(c, "brightness", result)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: editMessage(result), Data: result})
}

// chunkIndex разбирает :index; при ошибке ответ уже отправлен
func (rs *RestServer) chunkIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный номер чанка")
		return 0, false
	}
	if index < 0 || index >= rs.world.ChunkCount() {
		rs.fail(c, http.StatusNotFound, "Чанк не найден")
		return 0, false
	}
	return index, true
}

func (rs *RestServer) handleGetChunk(c *gin.Context) {
	index, ok := rs.chunkIndex(c)
	if !ok {
		return
	}
	info, _ := rs.world.ChunkInfo(index)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok", Data: info})
}

// handleChunkMesh отдаёт GLB чанка. ETag равен отпечатку меша.
func (rs *RestServer) handleChunkMesh(c *gin.Context) {
	index, ok := rs.chunkIndex(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	info, _ := rs.world.ChunkInfo(index)
	etag := strconv.Quote(strconv.FormatUint(info.Fingerprint, 16))
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	if rs.cache != nil {
		data, err := rs.cache.Get(ctx, cache.ChunkKey(index, info.Fingerprint))
		if err == nil {
			c.Header("ETag", etag)
			c.Header("X-Cache", "hit")
			c.Data(http.StatusOK, contentTypeGLB, data)
			return
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			rs.logger.Warn("Кеш мешей: %v", err)
		}
	}

	// Отпечаток и GLB снимаются под одной блокировкой, чтобы ключ соответствовал содержимому
	var (
		data        []byte
		err         error
		fingerprint uint64
	)
	rs.world.ReadChunk(index, func(chunk *mesh.ChunkMesh) {
		fingerprint = chunk.Fingerprint()
		data, err = export.ChunkGLB(chunk, export.Options{Scale: rs.exportScale})
	})
	if errors.Is(err, export.ErrEmptyMesh) {
		rs.fail(c, http.StatusNotFound, "Чанк пуст")
		return
	}
	if err != nil {
		rs.logger.Error("GLB чанка %d: %v", index, err)
		rs.fail(c, http.StatusInternalServerError, "Ошибка экспорта")
		return
	}

	if rs.cache != nil {
		if err := rs.cache.Set(ctx, cache.ChunkKey(index, fingerprint), data); err != nil {
			rs.logger.Warn("Кеш мешей: %v", err)
		}
	}

	c.Header("ETag", strconv.Quote(strconv.FormatUint(fingerprint, 16)))
	c.Header("X-Cache", "miss")
	c.Data(http.StatusOK, contentTypeGLB, data)
}

func (rs *RestServer) handleWorldMesh(c *gin.Context) {
	data, err := export.WorldGLB(rs.world, export.Options{Scale: rs.exportScale})
	if errors.Is(err, export.ErrEmptyMesh) {
		rs.fail(c, http.StatusNotFound, "Мир пуст")
		return
	}
	if err != nil {
		rs.logger.Error("GLB мира: %v", err)
		rs.fail(c, http.StatusInternalServerError, "Ошибка экспорта")
		return
	}
	c.Data(http.StatusOK, contentTypeGLB, data)
}

func (rs *RestServer) handleGetChunkData(c *gin.Context) {
	index, ok := rs.chunkIndex(c)
	if !ok {
		return
	}
	chunk, _ := rs.world.ChunkData(index)
	data, err := voxel.MarshalChunk(chunk, rs.compression)
	if err != nil {
		rs.logger.Error("Чанк %d: %v", index, err)
		rs.fail(c, http.StatusInternalServerError, "Ошибка сериализации")
		return
	}
	c.Data(http.StatusOK, contentTypeBinary, data)
}

func (rs *RestServer) handlePutChunkData(c *gin.Context) {
	index, ok := rs.chunkIndex(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChunkBody+1))
	if err != nil || len(body) > maxChunkBody {
		rs.fail(c, http.StatusRequestEntityTooLarge, "Слишком большое тело запроса")
		return
	}

	chunk, err := voxel.UnmarshalChunk(body)
	if err != nil {
		logging.LogPayloadError(c.ClientIP(), err, body)
		rs.fail(c, http.StatusBadRequest, "Неверные данные чанка: "+err.Error())
		return
	}
	if offset, _ := rs.world.ChunkOffset(index); offset != chunk.Offset {
		rs.fail(c, http.StatusBadRequest, "Смещение чанка не совпадает с номером")
		return
	}

	result, err := rs.world.ApplyChunk(c.Request.Context(), chunk)
	if err != nil {
		rs.fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rs.logEdit(c, "chunk", result)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: editMessage(result), Data: result})
}

func (rs *RestServer) handleGetGrid(c *gin.Context) {
	var (
		data []byte
		err  error
	)
	rs.world.ReadGrid(func(g *voxel.Grid) {
		data, err = voxel.MarshalGrid(g, rs.compression)
	})
	if err != nil {
		rs.logger.Error("Сетка: %v", err)
		rs.fail(c, http.StatusInternalServerError, "Ошибка сериализации")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="world.sbxg"`)
	c.Data(http.StatusOK, contentTypeBinary, data)
}

func (rs *RestServer) handleSave(c *gin.Context) {
	if rs.storage == nil {
		rs.fail(c, http.StatusServiceUnavailable, "Хранилище не настроено")
		return
	}

	var err error
	rs.world.ReadGrid(func(g *voxel.Grid) {
		err = rs.storage.SaveGrid(g)
	})
	if err != nil {
		rs.logger.Error("Сохранение мира: %v", err)
		rs.fail(c, http.StatusInternalServerError, "Ошибка сохранения")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Мир сохранён"})
}

func (rs *RestServer) logEdit(c *gin.Context, kind string, result world.EditResult) {
	editor := c.GetString(editorKey)
	if editor == "" {
		editor = "anonymous"
	}
	rs.logger.Debug("Правка %s от %s: %v изменено=%v чанки=%v", kind, editor, result.Position, result.Changed, result.Chunks)
}

func editMessage(result world.EditResult) string {
	if result.Changed {
		return "Изменено"
	}
	return "Без изменений"
}

// bearerToken извлекает токен из заголовка "Bearer <token>"
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
