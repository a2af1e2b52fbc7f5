package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/sandblox/internal/auth"
	"github.com/annel0/sandblox/internal/cache"
	"github.com/annel0/sandblox/internal/storage"
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/annel0/sandblox/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server  *RestServer
	world   *world.World
	cache   *cache.MemoryCache
	storage *storage.WorldStorage
}

func newTestServer(t *testing.T, tokens *auth.TokenIssuer) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	grid, err := voxel.NewGrid(64, 32, 32)
	require.NoError(t, err)
	grid.FillGround(1, func(vec.Vec3) uint8 { return 1 })

	w := world.New(grid, nil, world.Options{BuildWorkers: 2})
	require.NoError(t, w.Init(context.Background()))

	meshCache, err := cache.NewMemoryCache(1<<22, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meshCache.Close() })

	store, err := storage.NewInMemoryStorage(voxel.CompressionZstd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	server, err := NewRestServer(Config{
		World:       w,
		Storage:     store,
		Cache:       meshCache,
		Tokens:      tokens,
		Compression: voxel.CompressionZstd,
		Registerer:  reg,
		Gatherer:    reg,
	})
	require.NoError(t, err)

	return &testServer{server: server, world: w, cache: meshCache, storage: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, target))
}

func uint8Ptr(v uint8) *uint8 { return &v }

func TestHealthAndServerInfo(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))

	rec = ts.do(t, http.MethodGet, "/api/server", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	decodeData(t, rec, &info)
	assert.Contains(t, info, "uptime")
	assert.Contains(t, info, "cache")

	worldInfo := info["world"].(map[string]interface{})
	assert.EqualValues(t, 2, worldInfo["chunks"])
	assert.EqualValues(t, 32, worldInfo["block_size"])
}

func TestSetAndGetBlock(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPut, "/api/blocks", SetBlockRequest{X: 40, Y: 3, Z: 5, Type: uint8Ptr(7)}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result world.EditResult
	decodeData(t, rec, &result)
	assert.True(t, result.Changed)
	assert.Equal(t, []int{1}, result.Chunks)

	rec = ts.do(t, http.MethodGet, "/api/blocks/40/3/5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var block BlockInfo
	decodeData(t, rec, &block)
	assert.Equal(t, uint8(7), block.Type)
	assert.Equal(t, voxel.MaxBrightness, block.Brightness)
	assert.Equal(t, 1, block.Chunk)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/blocks/99/0/0", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/blocks/a/0/0", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/blocks", map[string]int{"x": 1}, nil).Code, "Без типа")
	assert.Equal(t, http.StatusUnprocessableEntity,
		ts.do(t, http.MethodPut, "/api/blocks", SetBlockRequest{X: -1, Type: uint8Ptr(1)}, nil).Code)
}

func TestPlaceBlock(t *testing.T) {
	ts := newTestServer(t, nil)

	req := PlaceRequest{
		Origin:    vec.Vec3Float{X: 5.5, Y: 5.5, Z: 10.5}.Mul(32),
		Direction: vec.Vec3Float{Z: -2},
		Type:      3,
	}
	rec := ts.do(t, http.MethodPost, "/api/blocks/place", req, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PlaceResponse
	decodeData(t, rec, &resp)
	assert.True(t, resp.Hit.Valid)
	assert.Equal(t, "Top", resp.Hit.Face)
	assert.Equal(t, vec.Vec3{X: 5, Y: 5}, resp.Hit.Position)
	assert.True(t, resp.Edit.Changed)
	assert.Equal(t, vec.Vec3{X: 5, Y: 5, Z: 1}, resp.Edit.Position)
	assert.Equal(t, uint8(3), ts.world.GetType(vec.Vec3{X: 5, Y: 5, Z: 1}))

	req.Direction = vec.Vec3Float{}
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/blocks/place", req, nil).Code)
}

func TestSetBrightness(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPut, "/api/blocks/brightness", BrightnessRequest{X: 3, Y: 3, Z: 0, Brightness: uint8Ptr(4)}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint8(4), ts.world.Brightness(vec.Vec3{X: 3, Y: 3}))

	rec = ts.do(t, http.MethodPut, "/api/blocks/brightness", BrightnessRequest{Brightness: uint8Ptr(16)}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChunkMeshCaching(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/chunks/0", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info world.ChunkInfo
	decodeData(t, rec, &info)
	assert.Equal(t, 0, info.Index)
	assert.Greater(t, info.Quads, 0)

	rec = ts.do(t, http.MethodGet, "/api/chunks/0/mesh.glb", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeGLB, rec.Header().Get("Content-Type"))
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("glTF")))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	ts.cache.Wait()

	rec = ts.do(t, http.MethodGet, "/api/chunks/0/mesh.glb", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))

	rec = ts.do(t, http.MethodGet, "/api/chunks/0/mesh.glb", nil, http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	// Правка меняет отпечаток: старый ETag больше не подходит
	ts.world.SetBlock(context.Background(), vec.Vec3{X: 1, Y: 1, Z: 1}, 2)
	rec = ts.do(t, http.MethodGet, "/api/chunks/0/mesh.glb", nil, http.Header{"If-None-Match": {etag}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.NotEqual(t, etag, rec.Header().Get("ETag"))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/chunks/2", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/chunks/x/mesh.glb", nil, nil).Code)

	rec = ts.do(t, http.MethodGet, "/api/world/mesh.glb", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("glTF")))
}

func TestGridAndChunkTransfer(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/world/grid", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	grid, err := voxel.UnmarshalGrid(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ts.world.Grid().Bytes(), grid.Bytes())

	rec = ts.do(t, http.MethodGet, "/api/chunks/1/data", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chunk, err := voxel.UnmarshalChunk(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: 32}, chunk.Offset)

	chunk.Blocks[voxel.LocalIndex(vec.Vec3{X: 2, Y: 2, Z: 2})] = 5
	payload, err := voxel.MarshalChunk(chunk, voxel.CompressionNone)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodPut, "/api/chunks/1/data", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint8(5), ts.world.GetType(vec.Vec3{X: 34, Y: 2, Z: 2}))

	rec = ts.do(t, http.MethodPut, "/api/chunks/0/data", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "Смещение не совпадает с номером")

	rec = ts.do(t, http.MethodPut, "/api/chunks/0/data", []byte("garbage"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveWorld(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.world.SetBlock(context.Background(), vec.Vec3{X: 9, Y: 9, Z: 9}, 4)

	rec := ts.do(t, http.MethodPost, "/api/world/save", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	grid, err := ts.storage.LoadGrid()
	require.NoError(t, err)
	assert.Equal(t, uint8(4), grid.GetType(vec.Vec3{X: 9, Y: 9, Z: 9}))
}

func TestEditRoutesRequireToken(t *testing.T) {
	tokens, err := auth.NewTokenIssuer("api-test-secret-0123456789")
	require.NoError(t, err)
	ts := newTestServer(t, tokens)

	body := SetBlockRequest{X: 1, Y: 1, Z: 3, Type: uint8Ptr(2)}
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPut, "/api/blocks", body, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPut, "/api/blocks", body,
		http.Header{"Authorization": {"Token abc"}}).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPut, "/api/blocks", body,
		http.Header{"Authorization": {"Bearer abc"}}).Code)

	token, err := tokens.Issue("builder", time.Hour)
	require.NoError(t, err)
	rec := ts.do(t, http.MethodPut, "/api/blocks", body, http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/blocks/1/1/3", nil, nil).Code, "Чтение без токена")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/health", nil, nil)
	ts.do(t, http.MethodGet, "/api/chunks/99", nil, nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "sandblox_http_request_duration_seconds"))
	assert.True(t, strings.Contains(body, `sandblox_http_request_errors_total{method="GET",path="/api/chunks/:index",status="404"} 1`))
}

func TestNewRestServerRequiresWorld(t *testing.T) {
	_, err := NewRestServer(Config{})
	assert.Error(t, err)
}
