// Package config loads gqlcache settings from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gqlcache settings used by the command line tool.
type Config struct {
	Log      Log      `yaml:"log"`
	Identify Identify `yaml:"identify"`
	Hooks    Hooks    `yaml:"hooks"`
	Persist  Persist  `yaml:"persist"`
}

type Log struct {
	Backend string `yaml:"backend"` // "zap" | "logrus" | "slog" | "none"
	Level   string `yaml:"level"`   // "debug" | "info" | "warn" | "error"
}

// Identify configures the identifier policy. Types listed in KeyFields are
// identified by those fields; every other type uses id / _id.
type Identify struct {
	KeyFields map[string][]string `yaml:"key_fields"`
}

type Hooks struct {
	Slog       bool   `yaml:"slog"`
	SlogSample uint64 `yaml:"slog_sample"`
	Prometheus bool   `yaml:"prometheus"`
	Async      bool   `yaml:"async"`
	Workers    int    `yaml:"workers"`
	Queue      int    `yaml:"queue"`
}

// Persist configures snapshot persistence. Disabled when Provider is "".
type Persist struct {
	Namespace  string        `yaml:"namespace"`
	Provider   string        `yaml:"provider"` // "bigcache" | "ristretto" | "redis" | "leveldb" | "gocache"
	Codec      string        `yaml:"codec"`    // "json" | "cbor" | "msgpack" | "structpb"
	GenStore   string        `yaml:"genstore"` // "local" | "redis"
	TTL        time.Duration `yaml:"ttl"`
	MaxPayload int           `yaml:"max_payload"`

	Redis     Redis     `yaml:"redis"`
	LevelDB   LevelDB   `yaml:"leveldb"`
	BigCache  BigCache  `yaml:"bigcache"`
	Ristretto Ristretto `yaml:"ristretto"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LevelDB struct {
	Path   string `yaml:"path"` // "" = in-memory
	NoSync bool   `yaml:"no_sync"`
}

type BigCache struct {
	LifeWindow time.Duration `yaml:"life_window"`
	MaxSizeMB  int           `yaml:"max_size_mb"`
}

type Ristretto struct {
	MaxCost int64 `yaml:"max_cost"`
}

// DefaultConfig returns a Config with sensible defaults. Persistence is off.
func DefaultConfig() Config {
	return Config{
		Log: Log{Backend: "zap", Level: "info"},
		Hooks: Hooks{
			Workers: 1,
			Queue:   1024,
		},
		Persist: Persist{
			Namespace:  "default",
			Codec:      "json",
			GenStore:   "local",
			MaxPayload: 1 << 20,
			Redis:      Redis{Addr: "localhost:6379"},
			BigCache:   BigCache{LifeWindow: 10 * time.Minute},
			Ristretto:  Ristretto{MaxCost: 64 << 20},
		},
	}
}

// Load reads a YAML config file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return &cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// comment-only documents decode to EOF
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	switch c.Log.Backend {
	case "zap", "logrus", "slog", "none":
	default:
		return fmt.Errorf("config: log.backend must be zap, logrus, slog or none, got %q", c.Log.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	for typ, keys := range c.Identify.KeyFields {
		if len(keys) == 0 {
			return fmt.Errorf("config: identify.key_fields.%s cannot be empty", typ)
		}
	}
	if c.Hooks.Async && (c.Hooks.Workers <= 0 || c.Hooks.Queue <= 0) {
		return fmt.Errorf("config: hooks.workers and hooks.queue must be positive, got %d and %d", c.Hooks.Workers, c.Hooks.Queue)
	}

	p := c.Persist
	if p.Provider == "" {
		return nil
	}
	switch p.Provider {
	case "bigcache", "ristretto", "redis", "leveldb", "gocache":
	default:
		return fmt.Errorf("config: persist.provider %q is not supported", p.Provider)
	}
	switch p.Codec {
	case "json", "cbor", "msgpack", "structpb":
	default:
		return fmt.Errorf("config: persist.codec %q is not supported", p.Codec)
	}
	switch p.GenStore {
	case "local", "redis":
	default:
		return fmt.Errorf("config: persist.genstore must be local or redis, got %q", p.GenStore)
	}
	if p.Namespace == "" {
		return errors.New("config: persist.namespace cannot be empty")
	}
	if p.TTL < 0 {
		return fmt.Errorf("config: persist.ttl must be non-negative, got %v", p.TTL)
	}
	if p.MaxPayload < 0 {
		return fmt.Errorf("config: persist.max_payload must be non-negative, got %d", p.MaxPayload)
	}
	if (p.Provider == "redis" || p.GenStore == "redis") && p.Redis.Addr == "" {
		return errors.New("config: persist.redis.addr cannot be empty")
	}
	return nil
}

// ApplyEnv applies environment variable overrides.
// Supported variables: GQLCACHE_LOG_BACKEND, GQLCACHE_LOG_LEVEL,
// GQLCACHE_PERSIST_PROVIDER, GQLCACHE_PERSIST_NAMESPACE, GQLCACHE_PERSIST_CODEC,
// GQLCACHE_PERSIST_TTL, GQLCACHE_REDIS_ADDR, GQLCACHE_REDIS_DB,
// GQLCACHE_LEVELDB_PATH.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"GQLCACHE_LOG_BACKEND":       &c.Log.Backend,
		"GQLCACHE_LOG_LEVEL":         &c.Log.Level,
		"GQLCACHE_PERSIST_PROVIDER":  &c.Persist.Provider,
		"GQLCACHE_PERSIST_NAMESPACE": &c.Persist.Namespace,
		"GQLCACHE_PERSIST_CODEC":     &c.Persist.Codec,
		"GQLCACHE_REDIS_ADDR":        &c.Persist.Redis.Addr,
		"GQLCACHE_LEVELDB_PATH":      &c.Persist.LevelDB.Path,
	}
	for k, dst := range str {
		if v := os.Getenv(k); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("GQLCACHE_PERSIST_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid GQLCACHE_PERSIST_TTL %q: %w", v, err)
		}
		c.Persist.TTL = d
	}
	if v := os.Getenv("GQLCACHE_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid GQLCACHE_REDIS_DB %q: %w", v, err)
		}
		c.Persist.Redis.DB = n
	}
	return nil
}
