package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL     string
	TerritoryFile   string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Scan and repair.
	PageSize        int
	StoreTimeout    time.Duration
	StoreMaxRetries int
	RunInterval     time.Duration // 0 runs once and exits
	RepairEnabled   bool

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Geocode pool.
	GeocodeWorkers    int
	GeocodeRate       float64 // requests per second across all workers
	GeocodeBurst      int
	GeocodeMaxRetries int
	GeocodeBackoff    time.Duration // first retry wait, doubled per retry
	GeocodeBackoffMax time.Duration

	// Shared geocode cache; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Repair outcome events; disabled when KafkaBrokers is empty.
	KafkaBrokers     []string
	KafkaReportTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	var errs []error
	duration := func(key, def string, allowZero bool) time.Duration {
		d, err := parseDuration(key, def, allowZero)
		errs = append(errs, err)
		return d
	}
	integer := func(key string, def, lowest int) int {
		n, err := parseInt(key, def, lowest)
		errs = append(errs, err)
		return n
	}
	boolean := func(key string, def bool) bool {
		b, err := parseBool(key, def)
		errs = append(errs, err)
		return b
	}

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		TerritoryFile:   sharedcfg.EnvOrDefault("TERRITORY_FILE", "territories.yaml"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),

		PageSize:        integer("PAGE_SIZE", 500, 1),
		StoreTimeout:    duration("STORE_TIMEOUT", "10s", false),
		StoreMaxRetries: integer("STORE_MAX_RETRIES", 3, 0),
		RunInterval:     duration("RUN_INTERVAL", "0s", true),
		RepairEnabled:   boolean("REPAIR_ENABLED", true),

		MapboxToken:     os.Getenv("MAPBOX_TOKEN"),
		MapboxTimeout:   duration("MAPBOX_TIMEOUT", "5s", false),
		MapboxCacheSize: integer("MAPBOX_CACHE_SIZE", 1000, 1),

		GeocodeWorkers:    integer("GEOCODE_WORKERS", 4, 1),
		GeocodeBurst:      integer("GEOCODE_BURST", 1, 1),
		GeocodeMaxRetries: integer("GEOCODE_MAX_RETRIES", 3, 0),
		GeocodeBackoff:    duration("GEOCODE_BACKOFF", "200ms", false),
		GeocodeBackoffMax: duration("GEOCODE_BACKOFF_MAX", "5s", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       integer("REDIS_DB", 0, 0),
		RedisTTL:      duration("REDIS_TTL", "720h", false),

		KafkaBrokers:     sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaReportTopic: sharedcfg.EnvOrDefault("KAFKA_REPORT_TOPIC", "territory-repairs"),
	}
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	errs = append(errs, err)
	cfg.ShutdownTimeout = shutdownTimeout

	cfg.MapboxEnabled = boolean("MAPBOX_ENABLED", cfg.MapboxToken != "")

	rate, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("GEOCODE_RATE", "10"), 64)
	if err != nil || rate <= 0 {
		errs = append(errs, errors.New("invalid GEOCODE_RATE: must be a positive number"))
	}
	cfg.GeocodeRate = rate

	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if cfg.TerritoryFile == "" {
		errs = append(errs, errors.New("TERRITORY_FILE is required"))
	}
	if cfg.GeocodeBackoffMax < cfg.GeocodeBackoff {
		errs = append(errs, errors.New("invalid GEOCODE_BACKOFF_MAX: must not be below GEOCODE_BACKOFF"))
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		errs = append(errs, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set"))
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaReportTopic == "" {
		errs = append(errs, errors.New("KAFKA_REPORT_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GeocodeConfigured reports whether the geocode pass can run.
func (c *Config) GeocodeConfigured() bool {
	return c.MapboxEnabled && c.MapboxToken != ""
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseInt(key string, def, lowest int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lowest {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, lowest)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", key)
	}
	return b, nil
}

