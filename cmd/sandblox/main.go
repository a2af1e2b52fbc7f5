package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/sandblox/internal/api"
	"github.com/annel0/sandblox/internal/auth"
	"github.com/annel0/sandblox/internal/cache"
	"github.com/annel0/sandblox/internal/config"
	"github.com/annel0/sandblox/internal/eventbus"
	"github.com/annel0/sandblox/internal/logging"
	"github.com/annel0/sandblox/internal/mesh"
	"github.com/annel0/sandblox/internal/observability"
	"github.com/annel0/sandblox/internal/physics"
	"github.com/annel0/sandblox/internal/storage"
	"github.com/annel0/sandblox/internal/stream"
	"github.com/annel0/sandblox/internal/vec"
	"github.com/annel0/sandblox/internal/voxel"
	"github.com/annel0/sandblox/internal/world"
	"github.com/prometheus/client_golang/prometheus"
)

const syncInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	issueToken := flag.String("issue-token", "", "выпустить токен редактора с этим именем и выйти")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "время жизни выпускаемого токена")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if *issueToken != "" {
		tokens, err := auth.NewTokenIssuer(cfg.Server.GetAuthSecret())
		if err != nil {
			log.Fatalf("❌ Ошибка создания издателя токенов: %v", err)
		}
		token, err := tokens.Issue(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("❌ Ошибка выпуска токена: %v", err)
		}
		fmt.Println(token)
		return
	}

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger(cfg.Logging.Name); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	consoleLevel, err := logging.ParseLevel(cfg.Logging.ConsoleLevel)
	if err != nil {
		log.Fatalf("❌ Уровень консоли: %v", err)
	}
	fileLevel, err := logging.ParseLevel(cfg.Logging.FileLevel)
	if err != nil {
		log.Fatalf("❌ Уровень файла: %v", err)
	}
	logging.Default().SetLevels(consoleLevel, fileLevel)
	logging.GetLoggerManager().ConfigureFiles(logging.Options{
		Dir:          "logs",
		ConsoleLevel: consoleLevel,
		FileLevel:    fileLevel,
	})
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🧱 Запуск sandblox: мир %d×%d×%d", cfg.World.SizeX, cfg.World.SizeY, cfg.World.SizeZ)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName)
	if err != nil {
		logging.Error("❌ Ошибка инициализации телеметрии: %v", err)
		log.Fatalf("❌ Ошибка инициализации телеметрии: %v", err)
	}

	compression, err := voxel.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		log.Fatalf("❌ Сжатие: %v", err)
	}

	// === ХРАНИЛИЩЕ ===
	var store *storage.WorldStorage
	if cfg.Storage.Path != "" {
		store, err = storage.NewWorldStorage(cfg.Storage.Path, compression)
		if err != nil {
			logging.Error("❌ Ошибка открытия хранилища: %v", err)
			log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
		}
		defer store.Close()
		logging.Info("💾 Хранилище: %s", store.Path())
	} else {
		logging.Warn("⚠️ Путь хранилища не задан, мир не сохраняется")
	}

	grid, err := loadGrid(store, cfg.World)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки мира: %v", err)
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := newEventBus(cfg.EventBus)
	if err != nil {
		logging.Error("❌ Ошибка создания шины событий: %v", err)
		log.Fatalf("❌ Ошибка создания шины событий: %v", err)
	}

	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("Логирование событий отключено: %v", err)
	}
	busMetrics, err := eventbus.NewMetricsExporter(bus, prometheus.DefaultRegisterer, 5*time.Second)
	if err != nil {
		log.Fatalf("❌ Метрики шины: %v", err)
	}
	busMetrics.Start()

	// === МИР ===
	worldMetrics, err := world.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("❌ Метрики мира: %v", err)
	}

	body := physics.NewStaticBody()
	w := world.New(grid, body, world.Options{
		Mesh: mesh.Options{
			BlockSize:     cfg.World.BlockSize,
			CollisionOnly: cfg.World.CollisionOnly,
		},
		BuildWorkers:   cfg.World.BuildWorkers,
		MaxRayDistance: cfg.World.MaxRayDistance,
	}, world.WithEventBus(bus), world.WithMetrics(worldMetrics))

	started := time.Now()
	if err := w.Init(ctx); err != nil {
		logging.Error("❌ Ошибка сборки мешей: %v", err)
		log.Fatalf("❌ Ошибка сборки мешей: %v", err)
	}
	quads, vertices := w.Totals()
	logging.Info("✅ Мир собран за %v: %d чанков, %d квадов, %d вершин, %d коллизионных форм",
		time.Since(started), w.ChunkCount(), quads, vertices, body.ShapeCount())

	if store != nil {
		if applied, err := applyStoredChunks(ctx, w, store); err != nil {
			logging.Error("❌ Ошибка применения сохранённых чанков: %v", err)
		} else if applied > 0 {
			logging.Info("💾 Применено сохранённых чанков: %d", applied)
		}
	}

	var wg sync.WaitGroup

	// Фоновое сохранение изменённых чанков
	if store != nil {
		syncer := storage.NewSyncer(store, w)
		if _, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.TypeBlockChanged, eventbus.TypeChunkApplied}}, syncer.HandleEvent); err != nil {
			log.Fatalf("❌ Подписка синхронизатора: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncer.Run(ctx, syncInterval)
		}()
	}

	// === WEBSOCKET ===
	hub := stream.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	hubFilter := eventbus.Filter{Types: []string{eventbus.TypeBlockChanged, eventbus.TypeChunkRebuilt, eventbus.TypeChunkApplied}}
	if _, err := bus.Subscribe(ctx, hubFilter, hub.HandleEvent); err != nil {
		log.Fatalf("❌ Подписка websocket: %v", err)
	}

	// === КЕШ И АВТОРИЗАЦИЯ ===
	meshCache, err := cache.New(cache.Options{
		Backend:  cfg.Cache.Backend,
		RedisURL: cfg.Cache.RedisURL,
		TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		MaxCost:  cfg.Cache.MaxCost,
	})
	if err != nil {
		logging.Error("❌ Ошибка создания кеша: %v", err)
		log.Fatalf("❌ Ошибка создания кеша: %v", err)
	}
	defer meshCache.Close()

	var tokens *auth.TokenIssuer
	if secret := cfg.Server.GetAuthSecret(); secret != "" {
		tokens, err = auth.NewTokenIssuer(secret)
		if err != nil {
			log.Fatalf("❌ Ошибка создания издателя токенов: %v", err)
		}
		logging.Info("🔐 Правки требуют токен редактора")
	} else {
		logging.Warn("⚠️ Секрет не задан, правки без авторизации")
	}

	// === REST API ===
	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	restServer, err := api.NewRestServer(api.Config{
		Port:        restPort,
		World:       w,
		Storage:     store,
		Cache:       meshCache,
		Hub:         hub,
		Tokens:      tokens,
		Compression: compression,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания REST API: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- restServer.Start()
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s/api", restPort)
	logging.Info("   📡 WebSocket: ws://localhost%s/api/ws", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	case err := <-serverErr:
		if err != nil {
			logging.Error("❌ REST API остановлен: %v", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	// Синхронизатор делает последний Flush по отмене контекста
	cancel()
	wg.Wait()

	if store != nil {
		var saveErr error
		w.ReadGrid(func(g *voxel.Grid) { saveErr = store.SaveGrid(g) })
		if saveErr != nil {
			logging.Error("❌ Ошибка сохранения мира: %v", saveErr)
		} else {
			logging.Info("💾 Мир сохранён")
		}
	}

	busMetrics.Stop()
	if err := bus.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия шины событий: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// loadGrid читает сетку из хранилища или создаёт новую с землёй
func loadGrid(store *storage.WorldStorage, cfg config.WorldConfig) (*voxel.Grid, error) {
	if store != nil {
		grid, err := store.LoadGrid()
		if err == nil {
			size := grid.Size()
			logging.Info("💾 Загружена сохранённая сетка %d×%d×%d", size.X, size.Y, size.Z)
			return grid, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	grid, err := voxel.NewGrid(cfg.SizeX, cfg.SizeY, cfg.SizeZ)
	if err != nil {
		return nil, err
	}
	groundType := cfg.GroundType
	grid.FillGround(cfg.GroundHeight, func(vec.Vec3) uint8 { return groundType })
	logging.Info("🌱 Создан новый мир, высота земли %d", cfg.GroundHeight)
	return grid, nil
}

// newEventBus создаёт шину выбранного бэкенда
func newEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Backend {
	case "", "memory":
		return eventbus.NewMemoryBus(cfg.Buffer), nil
	case "jetstream":
		bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
		if err != nil {
			return nil, err
		}
		return bus, nil
	}
	return nil, fmt.Errorf("неизвестная шина событий %q", cfg.Backend)
}

// applyStoredChunks накладывает чанки, сохранённые после последней записи сетки
func applyStoredChunks(ctx context.Context, w *world.World, store *storage.WorldStorage) (int, error) {
	offsets, err := store.ListChunks()
	if err != nil {
		return 0, err
	}
	for _, offset := range offsets {
		data, err := store.LoadChunk(offset)
		if err != nil {
			return 0, err
		}
		if _, err := w.ApplyChunk(ctx, data); err != nil {
			return 0, fmt.Errorf("чанк %v: %w", offset, err)
		}
	}
	return len(offsets), nil
}
