package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/aqi-forecast/internal/risk"
)

// Feature store backends.
const (
	StoreCSV    = "csv"
	StoreSQLite = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Batch pipeline inputs and outputs.
	RawDir             string
	CanonicalTablePath string
	FeatureTablePath   string
	FeatureStore       string
	SQLitePath         string

	// Serving.
	ModelPath        string
	ModelTimeout     time.Duration
	DefaultRiskGroup risk.Group
	ReloadSchedule   string

	// Forecast cache. RedisAddr selects Redis over the in-process LRU.
	CacheSize int
	RedisAddr string
	CacheTTL  time.Duration

	KafkaBrokers       []string
	KafkaForecastTopic string
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is read first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	modelTimeout, err := parsePositiveDuration("MODEL_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parsePositiveDuration("CACHE_TTL", "10m")
	if err != nil {
		return nil, err
	}

	group, err := risk.ParseGroup(sharedcfg.EnvOrDefault("DEFAULT_RISK_GROUP", "asthma"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RISK_GROUP: %w", err)
	}

	cacheSize, err := parseCacheSize()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RawDir:             sharedcfg.EnvOrDefault("RAW_DIR", "data/raw"),
		CanonicalTablePath: sharedcfg.EnvOrDefault("CANONICAL_TABLE_PATH", "data/processed/aqi_master.csv"),
		FeatureTablePath:   sharedcfg.EnvOrDefault("FEATURE_TABLE_PATH", "data/processed/aqi_features.csv"),
		FeatureStore:       sharedcfg.EnvOrDefault("FEATURE_STORE", StoreCSV),
		SQLitePath:         sharedcfg.EnvOrDefault("SQLITE_PATH", "data/processed/features.db"),

		ModelPath:        sharedcfg.EnvOrDefault("MODEL_PATH", "artifacts/model.yaml"),
		ModelTimeout:     modelTimeout,
		DefaultRiskGroup: group,
		ReloadSchedule:   os.Getenv("RELOAD_SCHEDULE"),

		CacheSize: cacheSize,
		RedisAddr: os.Getenv("REDIS_ADDR"),
		CacheTTL:  cacheTTL,

		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaForecastTopic: sharedcfg.EnvOrDefault("KAFKA_FORECAST_TOPIC", "aqi-forecasts"),
	}

	switch cfg.FeatureStore {
	case StoreCSV, StoreSQLite:
	default:
		return nil, fmt.Errorf("invalid FEATURE_STORE %q: want %s or %s", cfg.FeatureStore, StoreCSV, StoreSQLite)
	}
	if cfg.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ReloadSchedule); err != nil {
			return nil, fmt.Errorf("invalid RELOAD_SCHEDULE: %w", err)
		}
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaForecastTopic == "" {
		return nil, errors.New("KAFKA_FORECAST_TOPIC is required")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseCacheSize() (int, error) {
	s := os.Getenv("CACHE_SIZE")
	if s == "" {
		return 256, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid CACHE_SIZE")
	}
	return n, nil
}
