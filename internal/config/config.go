// Package config loads the wcl-proxy configuration.
//
// Values are layered: built-in defaults, then an optional YAML file (path
// from WCL_CONFIG or the first of DefaultConfigPaths that exists), then
// WCL_* environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable holding the config file path.
const ConfigPathEnvVar = "WCL_CONFIG"

// DefaultConfigPaths are searched when WCL_CONFIG is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"/etc/wcl-proxy/config.yaml",
}

// Cache backends.
const (
	CacheBackendDisk   = "disk"
	CacheBackendRedis  = "redis"
	CacheBackendBadger = "badger"
	CacheBackendNone   = "none"
)

// Config is the complete proxy configuration.
type Config struct {
	Server         ServerConfig         `koanf:"server"`
	API            APIConfig            `koanf:"api"`
	Retry          RetryConfig          `koanf:"retry"`
	Cache          CacheConfig          `koanf:"cache"`
	Redis          RedisConfig          `koanf:"redis"`
	RateLimit      RateLimitConfig      `koanf:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	Log            LogConfig            `koanf:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// RateLimitRequests per RateLimitWindow and client IP on /v1 routes.
	// 0 disables the limit.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`
}

// APIConfig configures the Warcraft Logs API access.
type APIConfig struct {
	Key       string        `koanf:"key" validate:"required"`
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	UserAgent string        `koanf:"user_agent"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
}

// RetryConfig configures the retrying transport.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts" validate:"min=1"`
	InitialBackoff    time.Duration `koanf:"initial_backoff" validate:"gte=0"`
	MaxBackoff        time.Duration `koanf:"max_backoff" validate:"gte=0"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" validate:"gte=1"`
	Jitter            float64       `koanf:"jitter" validate:"gte=0,lt=1"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	Backend     string `koanf:"backend" validate:"oneof=disk redis badger none"`
	Dir         string `koanf:"dir"`
	RedisPrefix string `koanf:"redis_prefix"`
	PageNumber  bool   `koanf:"page_number"`
	SingleShot  bool   `koanf:"single_shot"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// RateLimitConfig configures client-side rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=0"`
	DefaultCooldown   time.Duration `koanf:"default_cooldown" validate:"gte=0"`
	Shared            bool          `koanf:"shared"`
}

// CircuitBreakerConfig configures the optional circuit breaker.
type CircuitBreakerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures"`
	Timeout             time.Duration `koanf:"timeout" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			RateLimitWindow: time.Minute,
		},
		API: APIConfig{
			BaseURL:   "https://classic.warcraftlogs.com:443/v1/",
			UserAgent: "wcl-proxy/1.0",
			Timeout:   10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:       6,
			InitialBackoff:    time.Second,
			MaxBackoff:        2 * time.Minute,
			BackoffMultiplier: 2,
		},
		Cache: CacheConfig{
			Backend: CacheBackendDisk,
			Dir:     "queries",
		},
		RateLimit: RateLimitConfig{
			Burst:           1,
			DefaultCooldown: 5 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			ConsecutiveFailures: 5,
			Timeout:             time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration from defaults, file and environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("WCL_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps WCL_* variables (prefix stripped, lower case) to config paths.
var envMappings = map[string]string{
	"addr":                           "server.addr",
	"shutdown_timeout":               "server.shutdown_timeout",
	"server_rate_limit_requests":     "server.rate_limit_requests",
	"server_rate_limit_window":       "server.rate_limit_window",
	"api_key":                        "api.key",
	"base_url":                       "api.base_url",
	"user_agent":                     "api.user_agent",
	"timeout":                        "api.timeout",
	"retry_max_attempts":             "retry.max_attempts",
	"retry_initial_backoff":          "retry.initial_backoff",
	"retry_max_backoff":              "retry.max_backoff",
	"retry_backoff_multiplier":       "retry.backoff_multiplier",
	"retry_jitter":                   "retry.jitter",
	"cache_backend":                  "cache.backend",
	"cache_dir":                      "cache.dir",
	"cache_redis_prefix":             "cache.redis_prefix",
	"cache_page_number":              "cache.page_number",
	"cache_single_shot":              "cache.single_shot",
	"redis_url":                      "redis.url",
	"rate_limit_requests_per_second": "rate_limit.requests_per_second",
	"rate_limit_burst":               "rate_limit.burst",
	"rate_limit_default_cooldown":    "rate_limit.default_cooldown",
	"rate_limit_shared":              "rate_limit.shared",
	"circuit_breaker_enabled":        "circuit_breaker.enabled",
	"circuit_breaker_failures":       "circuit_breaker.consecutive_failures",
	"circuit_breaker_timeout":        "circuit_breaker.timeout",
	"log_level":                      "log.level",
	"log_format":                     "log.format",
}

// envTransformFunc maps WCL_API_KEY to api.key. Unknown variables are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "WCL_"))
	return envMappings[key]
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if (c.Cache.Backend == CacheBackendDisk || c.Cache.Backend == CacheBackendBadger) && c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required for the %s cache backend", c.Cache.Backend)
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return errors.New("server.rate_limit_window must be > 0 when server.rate_limit_requests is set")
	}
	if c.Cache.Backend == CacheBackendRedis && c.Redis.URL == "" {
		return errors.New("redis.url is required for the redis cache backend")
	}
	if c.RateLimit.Shared && c.Redis.URL == "" {
		return errors.New("redis.url is required for a shared rate limit")
	}
	return nil
}

// NeedsRedis reports whether any component uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Backend == CacheBackendRedis || c.RateLimit.Shared
}
