package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorldConfig размеры и параметры мешинга мира
type WorldConfig struct {
	SizeX          int     `yaml:"size_x"`
	SizeY          int     `yaml:"size_y"`
	SizeZ          int     `yaml:"size_z"`
	BlockSize      float64 `yaml:"block_size"`
	MaxRayDistance float64 `yaml:"max_ray_distance"`
	GroundHeight   int     `yaml:"ground_height"`
	GroundType     uint8   `yaml:"ground_type"`
	CollisionOnly  bool    `yaml:"collision_only"`
	BuildWorkers   int     `yaml:"build_workers"`
}

// StorageConfig хранилище мира. Пустой путь отключает сохранение.
type StorageConfig struct {
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"`
}

type ServerConfig struct {
	RESTPort   int    `yaml:"rest_port"`
	AuthSecret string `yaml:"auth_secret"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "SANDBLOX_REST_PORT", 8088)
}

// GetAuthSecret возвращает секрет токенов: конфиг, затем SANDBLOX_AUTH_SECRET
func (s *ServerConfig) GetAuthSecret() string {
	if s.AuthSecret != "" {
		return s.AuthSecret
	}
	return os.Getenv("SANDBLOX_AUTH_SECRET")
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type CacheConfig struct {
	Backend    string `yaml:"backend"` // memory | redis
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	MaxCost    int64  `yaml:"max_cost"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Name         string `yaml:"name"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

// MaxDimension предел размера мира по оси (размеры в заголовке сетки - uint16)
const MaxDimension = 0xFFFF

// Default возвращает конфигурацию по умолчанию: мир 128×128×64 с землёй высотой 10
func Default() *Config {
	return &Config{
		World: WorldConfig{
			SizeX:          128,
			SizeY:          128,
			SizeZ:          64,
			BlockSize:      32,
			MaxRayDistance: 10000,
			GroundHeight:   10,
			GroundType:     1,
		},
		Storage: StorageConfig{
			Compression: "zstd",
		},
		EventBus: EventBusConfig{
			Backend:   "memory",
			Stream:    "SANDBLOX",
			Retention: 24,
			Buffer:    1024,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: 300,
			MaxCost:    64 << 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "sandblox",
		},
		Logging: LoggingConfig{
			Name:         "sandblox",
			ConsoleLevel: "info",
			FileLevel:    "debug",
		},
	}
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	var errs []error

	w := c.World
	for _, dim := range []struct {
		name  string
		value int
	}{{"size_x", w.SizeX}, {"size_y", w.SizeY}, {"size_z", w.SizeZ}} {
		if dim.value <= 0 || dim.value > MaxDimension {
			errs = append(errs, fmt.Errorf("world.%s=%d вне диапазона 1..%d", dim.name, dim.value, MaxDimension))
		}
	}
	if w.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("world.block_size должен быть положительным"))
	}
	if w.MaxRayDistance <= 0 {
		errs = append(errs, fmt.Errorf("world.max_ray_distance должен быть положительным"))
	}
	if w.GroundHeight < 0 || w.GroundHeight > w.SizeZ {
		errs = append(errs, fmt.Errorf("world.ground_height=%d вне диапазона 0..%d", w.GroundHeight, w.SizeZ))
	}
	if w.GroundHeight > 0 && w.GroundType == 0 {
		errs = append(errs, fmt.Errorf("world.ground_type не может быть пустым блоком"))
	}
	if w.BuildWorkers < 0 {
		errs = append(errs, fmt.Errorf("world.build_workers не может быть отрицательным"))
	}

	switch strings.ToLower(c.Storage.Compression) {
	case "", "none", "zstd":
	default:
		errs = append(errs, fmt.Errorf("storage.compression=%q: ожидается none или zstd", c.Storage.Compression))
	}

	switch c.EventBus.Backend {
	case "", "memory":
	case "jetstream":
		if c.EventBus.URL == "" {
			errs = append(errs, fmt.Errorf("eventbus.url обязателен для jetstream"))
		}
	default:
		errs = append(errs, fmt.Errorf("eventbus.backend=%q: ожидается memory или jetstream", c.EventBus.Backend))
	}

	switch c.Cache.Backend {
	case "", "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, fmt.Errorf("cache.redis_url обязателен для redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend=%q: ожидается memory, redis или none", c.Cache.Backend))
	}

	if port := c.Server.RESTPort; port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.rest_port=%d вне диапазона", port))
	}

	return errors.Join(errs...)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать путь из ENV SANDBLOX_CONFIG; если и он пуст, возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SANDBLOX_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация %s: %w", path, err)
	}

	return cfg, nil
}
