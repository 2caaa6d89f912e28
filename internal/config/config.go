package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	PortRetries     int           `yaml:"portRetries"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AssetsDir       string        `yaml:"assetsDir"`
	MetricsPath     string        `yaml:"metricsPath"`
}

type CacheConfig struct {
	// Type selects the backend: memory, file, redis or disabled.
	Type              string        `yaml:"type"`
	UseOutputCache    bool          `yaml:"useOutputCache"`
	UseTagging        bool          `yaml:"useOutputCacheTagging"`
	TTL               time.Duration `yaml:"ttl"`
	InvalidateKey     string        `yaml:"invalidateKey"`
	AvailableTags     []string      `yaml:"availableTags"`
	WriteMode         string        `yaml:"writeMode"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	WriteConcurrency  int           `yaml:"writeConcurrency"`
	InvalidateWorkers int           `yaml:"invalidateWorkers"`
	Shards            int           `yaml:"shards"`
	// MaxEntries bounds the memory store; 0 means unbounded.
	MaxEntries int    `yaml:"maxEntries"`
	FileDir    string `yaml:"fileDir"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type RenderConfig struct {
	UpstreamURL      string        `yaml:"upstreamURL"`
	Timeout          time.Duration `yaml:"timeout"`
	ReadyPoll        time.Duration `yaml:"readyPoll"`
	TemplatesDir     string        `yaml:"templatesDir"`
	DefaultTemplate  string        `yaml:"defaultTemplate"`
	NotFoundRoute    string        `yaml:"notFoundRoute"`
	StoreCodeHeader  string        `yaml:"storeCodeHeader"`
	DefaultStoreCode string        `yaml:"defaultStoreCode"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate"`
}

type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Cache     CacheConfig   `yaml:"cache"`
	Redis     RedisConfig   `yaml:"redis"`
	Render    RenderConfig  `yaml:"render"`
	Tracing   TracingConfig `yaml:"tracing"`
	LogLevel  string        `yaml:"logLevel"`
	LogFormat string        `yaml:"logFormat"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            3000,
			PortRetries:     10,
			ShutdownTimeout: 5 * time.Second,
			AssetsDir:       "dist",
			MetricsPath:     "/metrics",
		},
		Cache: CacheConfig{
			Type:              "memory",
			UseOutputCache:    false,
			UseTagging:        false,
			TTL:               24 * time.Hour,
			AvailableTags:     []string{"product", "category", "home", "pagination", "page-not-found", "P", "C", "error"},
			WriteMode:         "background",
			WriteTimeout:      5 * time.Second,
			WriteConcurrency:  16,
			InvalidateWorkers: 8,
			Shards:            32,
			MaxEntries:        10000,
			FileDir:           "cache",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "pagefront:",
		},
		Render: RenderConfig{
			UpstreamURL:     "http://localhost:3001",
			Timeout:         10 * time.Second,
			ReadyPoll:       2 * time.Second,
			TemplatesDir:    "templates",
			DefaultTemplate: "default",
			NotFoundRoute:   "/page-not-found",
			StoreCodeHeader: "x-vs-store-code",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "pagefront",
			SampleRate:  1.0,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Server.PortRetries = getEnvInt("PORT_RETRIES", cfg.Server.PortRetries)
	cfg.Server.AssetsDir = getEnv("ASSETS_DIR", cfg.Server.AssetsDir)

	cfg.Cache.Type = getEnv("CACHE", cfg.Cache.Type)
	cfg.Cache.UseOutputCache = getEnvBool("USE_OUTPUT_CACHE", cfg.Cache.UseOutputCache)
	cfg.Cache.UseTagging = getEnvBool("USE_OUTPUT_CACHE_TAGGING", cfg.Cache.UseTagging)
	cfg.Cache.TTL = getEnvDuration("OUTPUT_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.InvalidateKey = getEnv("INVALIDATE_CACHE_KEY", cfg.Cache.InvalidateKey)
	cfg.Cache.WriteMode = getEnv("CACHE_WRITE_MODE", cfg.Cache.WriteMode)
	cfg.Cache.FileDir = getEnv("CACHE_FILE_DIR", cfg.Cache.FileDir)
	cfg.Cache.MaxEntries = getEnvInt("CACHE_MEMORY_ENTRIES", cfg.Cache.MaxEntries)
	if tags := getEnv("AVAILABLE_CACHE_TAGS", ""); tags != "" {
		cfg.Cache.AvailableTags = splitList(tags)
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Render.UpstreamURL = getEnv("RENDERER_URL", cfg.Render.UpstreamURL)
	cfg.Render.TemplatesDir = getEnv("TEMPLATES_DIR", cfg.Render.TemplatesDir)
	cfg.Render.DefaultStoreCode = getEnv("STORE_CODE", cfg.Render.DefaultStoreCode)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.PortRetries < 0 {
		return fmt.Errorf("portRetries must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdownTimeout must be positive")
	}
	switch c.Cache.Type {
	case "memory", "file", "redis", "disabled":
	default:
		return fmt.Errorf("unknown cache type: %s (supported: memory, file, redis, disabled)", c.Cache.Type)
	}
	switch c.Cache.WriteMode {
	case "background", "inline":
	default:
		return fmt.Errorf("unknown cache write mode: %s (supported: background, inline)", c.Cache.WriteMode)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache maxEntries must not be negative")
	}
	if c.Cache.UseOutputCache && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the output cache is enabled")
	}
	return nil
}

// CacheEnabled reports whether pages are read from and written to the output cache.
func (c *Config) CacheEnabled() bool {
	return c.Cache.UseOutputCache && c.Cache.Type != "disabled"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
