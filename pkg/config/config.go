// Package config loads the worker configuration from the environment and
// the optional YAML manifest file.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/Sternrassler/shopease-worker/pkg/logging"
)

// Cache backends.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendLevelDB = "leveldb"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Origin  OriginConfig
	Cache   CacheConfig
	Worker  WorkerConfig
	Sync    SyncConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// OriginConfig describes the storefront origin the worker sits in front of.
type OriginConfig struct {
	URL         string        `envconfig:"ORIGIN_URL" default:"http://localhost:3000"`
	UserAgent   string        `envconfig:"USER_AGENT" default:"ShopEase-Worker/1.0"`
	Timeout     time.Duration `envconfig:"ORIGIN_TIMEOUT" default:"30s"`
	MaxAttempts int           `envconfig:"NETWORK_MAX_ATTEMPTS" default:"1"`
}

// CacheConfig holds cache storage configuration.
type CacheConfig struct {
	Backend        string `envconfig:"CACHE_BACKEND" default:"memory"`
	Prefix         string `envconfig:"CACHE_PREFIX" default:"shopease-"`
	StaticVersion  int    `envconfig:"CACHE_STATIC_VERSION" default:"3"`
	DynamicVersion int    `envconfig:"CACHE_DYNAMIC_VERSION" default:"3"`
	MemoryMax      string `envconfig:"CACHE_MEMORY_MAX" default:"50mb"`
	LevelDBPath    string `envconfig:"CACHE_LEVELDB_PATH" default:"./data/cache"`
	RedisURL       string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisKeyPrefix string `envconfig:"CACHE_REDIS_PREFIX" default:"cachestorage"`
}

// WorkerConfig holds lifecycle and strategy configuration.
type WorkerConfig struct {
	ManifestFile         string `envconfig:"MANIFEST_FILE"`
	OfflineShell         string `envconfig:"OFFLINE_SHELL" default:"/index.html"`
	SkipWaitingOnInstall bool   `envconfig:"SKIP_WAITING_ON_INSTALL" default:"true"`
	PrecacheConcurrency  int    `envconfig:"PRECACHE_CONCURRENCY" default:"4"`
}

// SyncConfig holds background sync configuration.
type SyncConfig struct {
	Tag           string        `envconfig:"SYNC_TAG" default:"background-sync"`
	MaxAttempts   int           `envconfig:"SYNC_MAX_ATTEMPTS" default:"3"`
	Store         string        `envconfig:"SYNC_STORE" default:"memory"`
	ReconcileURL  string        `envconfig:"SYNC_RECONCILE_URL"`
	ProbeInterval time.Duration `envconfig:"CONNECTIVITY_PROBE_INTERVAL" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ShutdownTimeout: 30 * time.Second,
		},
		Origin: OriginConfig{
			URL:         "http://localhost:3000",
			UserAgent:   "ShopEase-Worker/1.0",
			Timeout:     30 * time.Second,
			MaxAttempts: 1,
		},
		Cache: CacheConfig{
			Backend:        BackendMemory,
			Prefix:         "shopease-",
			StaticVersion:  3,
			DynamicVersion: 3,
			MemoryMax:      "50mb",
			LevelDBPath:    "./data/cache",
			RedisURL:       "redis://localhost:6379/0",
			RedisKeyPrefix: "cachestorage",
		},
		Worker: WorkerConfig{
			OfflineShell:         "/index.html",
			SkipWaitingOnInstall: true,
			PrecacheConcurrency:  4,
		},
		Sync: SyncConfig{
			Tag:           "background-sync",
			MaxAttempts:   3,
			Store:         BackendMemory,
			ProbeInterval: 30 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for values the worker cannot run with.
func (c *Config) Validate() error {
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if c.Origin.UserAgent == "" {
		return fmt.Errorf("USER_AGENT must not be empty")
	}
	if c.Origin.MaxAttempts < 1 {
		return fmt.Errorf("NETWORK_MAX_ATTEMPTS must be >= 1 (got %d)", c.Origin.MaxAttempts)
	}

	switch c.Cache.Backend {
	case BackendMemory, BackendRedis, BackendLevelDB:
	default:
		return fmt.Errorf("CACHE_BACKEND must be memory, redis or leveldb (got %q)", c.Cache.Backend)
	}
	if c.Cache.Prefix == "" {
		return fmt.Errorf("CACHE_PREFIX must not be empty")
	}
	if c.Cache.StaticVersion < 1 || c.Cache.DynamicVersion < 1 {
		return fmt.Errorf("cache versions must be >= 1")
	}
	if _, err := c.MemoryMaxBytes(); err != nil {
		return err
	}

	switch c.Sync.Store {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("SYNC_STORE must be memory or redis (got %q)", c.Sync.Store)
	}
	if c.Sync.Tag == "" {
		return fmt.Errorf("SYNC_TAG must not be empty")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// OriginURL parses the origin URL. It must be absolute.
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin.URL)
	if err != nil {
		return nil, fmt.Errorf("ORIGIN_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ORIGIN_URL must be absolute (got %q)", c.Origin.URL)
	}
	return u, nil
}

// MemoryMaxBytes returns the memory backend quota. Zero means unlimited.
func (c *Config) MemoryMaxBytes() (int64, error) {
	if c.Cache.MemoryMax == "" || c.Cache.MemoryMax == "0" {
		return 0, nil
	}
	n, err := ParseBytes(c.Cache.MemoryMax)
	if err != nil {
		return 0, fmt.Errorf("CACHE_MEMORY_MAX: %w", err)
	}
	return n, nil
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Backend == BackendRedis || c.Sync.Store == BackendRedis
}
