package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса воспроизведения матчей.

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Playback PlaybackConfig `yaml:"playback"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Auth     AuthConfig     `yaml:"auth"`
}

type ServerConfig struct {
	HTTPPort    int `yaml:"http_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// StorageConfig описывает бэкенд хранилища записанных матчей.
// Backend: file | redis | badger | memory.
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	DataDir       string `yaml:"data_dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	BatchSize     int    `yaml:"batch_size"`
}

// CatalogConfig описывает репозиторий метаданных матчей.
// Backend: memory | mongo | maria.
type CatalogConfig struct {
	Backend       string `yaml:"backend"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	MariaDSN      string `yaml:"maria_dsn"`
}

// PlaybackConfig задает параметры темпа воспроизведения и жизненного цикла сессий.
type PlaybackConfig struct {
	DefaultDelaySecs  float64 `yaml:"default_delay_seconds"`
	DefaultSpeed      float64 `yaml:"default_speed"`
	MaxSpeed          float64 `yaml:"max_speed"`
	GracePeriodSecs   float64 `yaml:"grace_period_seconds"`
	SweepIntervalSecs float64 `yaml:"sweep_interval_seconds"`
	QueueCapacity     int     `yaml:"queue_capacity"`
	OverflowStrikes   int     `yaml:"overflow_strikes"`
	ReadRetries       int     `yaml:"read_retries"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms"`
	PauseTimeoutSecs  float64 `yaml:"pause_timeout_seconds"`
}

type EventBusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// GetHTTPPort возвращает HTTP порт с поддержкой fallback значений
func (s *ServerConfig) GetHTTPPort() int {
	return getPortWithEnvFallback(s.HTTPPort, "REPLAY_HTTP_PORT", 8090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "REPLAY_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// GetBackend возвращает бэкенд хранилища, по умолчанию file
func (s *StorageConfig) GetBackend() string {
	if s.Backend != "" {
		return s.Backend
	}
	if env := os.Getenv("REPLAY_STORAGE_BACKEND"); env != "" {
		return env
	}
	return "file"
}

// GetDataDir возвращает каталог данных, по умолчанию ./data/matches
func (s *StorageConfig) GetDataDir() string {
	if s.DataDir != "" {
		return s.DataDir
	}
	return "data/matches"
}

// GetBatchSize возвращает размер батча чтения, по умолчанию 30 (как у фидера)
func (s *StorageConfig) GetBatchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 30
}

// GetDefaultDelay возвращает задержку между чанками по умолчанию
func (p *PlaybackConfig) GetDefaultDelay() time.Duration {
	if p.DefaultDelaySecs > 0 {
		return time.Duration(p.DefaultDelaySecs * float64(time.Second))
	}
	return time.Second
}

// GetDefaultSpeed возвращает множитель скорости по умолчанию
func (p *PlaybackConfig) GetDefaultSpeed() float64 {
	if p.DefaultSpeed > 0 {
		return p.DefaultSpeed
	}
	return 1.0
}

// GetMaxSpeed возвращает верхнюю границу множителя скорости
func (p *PlaybackConfig) GetMaxSpeed() float64 {
	if p.MaxSpeed > 0 {
		return p.MaxSpeed
	}
	return 16.0
}

// GetGracePeriod возвращает TTL планировщика без зрителей (shared режимы)
func (p *PlaybackConfig) GetGracePeriod() time.Duration {
	if p.GracePeriodSecs > 0 {
		return time.Duration(p.GracePeriodSecs * float64(time.Second))
	}
	return 2 * time.Minute
}

// GetSweepInterval возвращает период фоновой уборки планировщиков
func (p *PlaybackConfig) GetSweepInterval() time.Duration {
	if p.SweepIntervalSecs > 0 {
		return time.Duration(p.SweepIntervalSecs * float64(time.Second))
	}
	return 15 * time.Second
}

// GetQueueCapacity возвращает емкость исходящей очереди зрителя
func (p *PlaybackConfig) GetQueueCapacity() int {
	if p.QueueCapacity > 0 {
		return p.QueueCapacity
	}
	return 64
}

// GetOverflowStrikes возвращает число переполнений подряд до отключения зрителя
func (p *PlaybackConfig) GetOverflowStrikes() int {
	if p.OverflowStrikes > 0 {
		return p.OverflowStrikes
	}
	return 8
}

// GetReadRetries возвращает число повторов чтения чанка
func (p *PlaybackConfig) GetReadRetries() int {
	if p.ReadRetries > 0 {
		return p.ReadRetries
	}
	return 3
}

// GetRetryBackoff возвращает базовую паузу между повторами чтения
func (p *PlaybackConfig) GetRetryBackoff() time.Duration {
	if p.RetryBackoffMs > 0 {
		return time.Duration(p.RetryBackoffMs) * time.Millisecond
	}
	return 200 * time.Millisecond
}

// GetPauseTimeout возвращает TTL паузы (0 — автовозобновление выключено)
func (p *PlaybackConfig) GetPauseTimeout() time.Duration {
	if p.PauseTimeoutSecs > 0 {
		return time.Duration(p.PauseTimeoutSecs * float64(time.Second))
	}
	return 0
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV REPLAY_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REPLAY_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{}
}
