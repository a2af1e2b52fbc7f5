package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/sandblox/internal/auth"
	"github.com/annel0/sandblox/internal/cache"
	"github.com/annel0/sandblox/internal/logging"
	"github.com/annel0/sandblox/internal/middleware"
	"github.com/annel0/sandblox/internal/storage"
	"github.com/annel0/sandblox/internal/stream"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/annel0/sandblox/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer REST API над миром блоков
type RestServer struct {
	router      *gin.Engine
	httpServer  *http.Server
	world       *world.World
	storage     *storage.WorldStorage
	cache       cache.MeshCache
	hub         *stream.Hub
	tokens      *auth.TokenIssuer
	compression voxel.Compression
	exportScale float32
	port        string
	metrics     *ServerMetrics
	logger      *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port        string                // порт для запуска сервера
	World       *world.World          // мир (обязателен)
	Storage     *storage.WorldStorage // nil - без сохранения
	Cache       cache.MeshCache       // nil - GLB собирается на каждый запрос
	Hub         *stream.Hub           // nil - без /api/ws
	Tokens      *auth.TokenIssuer     // nil - правки без авторизации
	Compression voxel.Compression     // сжатие выгружаемых сеток и чанков
	ServiceName string                // префикс HTTP-метрик и имя otel-инструментации

	Registerer prometheus.Registerer // nil - prometheus.DefaultRegisterer
	Gatherer   prometheus.Gatherer   // nil - prometheus.DefaultGatherer
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.World == nil {
		return nil, errors.New("api: мир не задан")
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.ServiceName == "" {
		config.ServiceName = "sandblox"
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))

	logger := logging.GetAPILogger()
	router.Use(middleware.NewRequestLogger(logger).Handler())

	promMw, err := middleware.NewPrometheusMiddleware(config.ServiceName, config.Registerer)
	if err != nil {
		return nil, fmt.Errorf("api: метрики HTTP: %w", err)
	}
	router.Use(promMw.Handler())
	middleware.RegisterMetricsEndpoint(router, config.Gatherer)

	rs := &RestServer{
		router:      router,
		world:       config.World,
		storage:     config.Storage,
		cache:       config.Cache,
		hub:         config.Hub,
		tokens:      config.Tokens,
		compression: config.Compression,
		exportScale: float32(config.World.Options().Mesh.BlockSize),
		port:        config.Port,
		metrics:     NewServerMetrics(),
		logger:      logger,
	}

	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")
	{
		api.GET("/server", rs.handleServerInfo)
		api.GET("/blocks/:x/:y/:z", rs.handleGetBlock)
		api.GET("/chunks/:index", rs.handleGetChunk)
		api.GET("/chunks/:index/mesh.glb", rs.handleChunkMesh)
		api.GET("/chunks/:index/data", rs.handleGetChunkData)
		api.GET("/world/grid", rs.handleGetGrid)
		api.GET("/world/mesh.glb", rs.handleWorldMesh)

		if rs.hub != nil {
			api.GET("/ws", gin.WrapH(rs.hub.Handler()))
		}
	}

	// Изменяющие эндпоинты (требуют токен, если он настроен)
	edit := api.Group("/")
	if rs.tokens != nil {
		edit.Use(rs.authMiddleware())
	}
	{
		edit.PUT("/blocks", rs.handleSetBlock)
		edit.POST("/blocks/place", rs.handlePlaceBlock)
		edit.PUT("/blocks/brightness", rs.handleSetBrightness)
		edit.PUT("/chunks/:index/data", rs.handlePutChunkData)
		edit.POST("/world/save", rs.handleSave)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// Handler возвращает корневой http.Handler (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает HTTP сервер и блокируется до его остановки
func (rs *RestServer) Start() error {
	rs.logger.Info("REST API сервер слушает %s", rs.port)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// Shutdown плавно останавливает HTTP сервер
func (rs *RestServer) Shutdown(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}
