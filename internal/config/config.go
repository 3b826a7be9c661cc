// Package config loads service configuration from defaults, an optional YAML
// file and PUSHGARDEN_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
// Nesting levels are separated by a double underscore:
// PUSHGARDEN_DATABASE__URL sets database.url.
const EnvPrefix = "PUSHGARDEN_"

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Stats cache drivers.
const (
	StatsCacheNone   = "none"
	StatsCacheMemory = "memory"
	StatsCacheRedis  = "redis"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Storage    StorageConfig    `koanf:"storage"`
	Log        LogConfig        `koanf:"log"`
	CORS       CORSConfig       `koanf:"cors"`
	JWT        JWTConfig        `koanf:"jwt"`
	Broadcast  BroadcastConfig  `koanf:"broadcast"`
	StatsCache StatsCacheConfig `koanf:"stats_cache"`
	Redis      RedisConfig      `koanf:"redis"`
	WebPush    WebPushConfig    `koanf:"webpush"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// StorageConfig selects where recipients, subscriptions and history live.
type StorageConfig struct {
	Driver   string `koanf:"driver"`
	SeedFile string `koanf:"seed_file"` // memory driver only
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// JWTConfig contains access token validation settings.
// An empty secret disables authentication.
type JWTConfig struct {
	SecretKey string        `koanf:"secret_key"`
	Issuer    string        `koanf:"issuer"`
	Leeway    time.Duration `koanf:"leeway"`
}

// BroadcastConfig contains delivery settings.
type BroadcastConfig struct {
	Concurrency       int           `koanf:"concurrency"`
	Timeout           time.Duration `koanf:"timeout"`
	SendTimeout       time.Duration `koanf:"send_timeout"`
	DeactivateTimeout time.Duration `koanf:"deactivate_timeout"`
	RecordTimeout     time.Duration `koanf:"record_timeout"`
}

// StatsCacheConfig selects the audience stats cache.
type StatsCacheConfig struct {
	Driver string        `koanf:"driver"`
	TTL    time.Duration `koanf:"ttl"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

// WebPushConfig contains Web Push settings. When disabled, messages are only logged.
type WebPushConfig struct {
	Enabled         bool          `koanf:"enabled"`
	VAPIDPublicKey  string        `koanf:"vapid_public_key"`
	VAPIDPrivateKey string        `koanf:"vapid_private_key"`
	Subscriber      string        `koanf:"subscriber"`
	TTL             time.Duration `koanf:"ttl"`
	Urgency         string        `koanf:"urgency"`
	Topic           string        `koanf:"topic"`
	RateLimit       float64       `koanf:"rate_limit"`
	RateBurst       int           `koanf:"rate_burst"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      3 * time.Minute,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   2*time.Minute + 30*time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Storage: StorageConfig{
			Driver: StoragePostgres,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Broadcast: BroadcastConfig{
			Concurrency:       16,
			Timeout:           2 * time.Minute,
			SendTimeout:       10 * time.Second,
			DeactivateTimeout: 5 * time.Second,
			RecordTimeout:     10 * time.Second,
		},
		StatsCache: StatsCacheConfig{
			Driver: StatsCacheNone,
			TTL:    30 * time.Second,
		},
		WebPush: WebPushConfig{
			TTL:     24 * time.Hour,
			Urgency: "normal",
		},
	}
}

// Load reads configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps PUSHGARDEN_STATS_CACHE__TTL to stats_cache.ttl. Comma separated
// values of list settings become slices.
func envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	if key == "cors.allowed_origins" {
		parts := strings.Split(value, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		return key, origins
	}
	return key, value
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StoragePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres storage driver"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of postgres, memory", c.Storage.Driver))
	}

	switch c.StatsCache.Driver {
	case StatsCacheNone:
	case StatsCacheMemory:
		if c.StatsCache.TTL <= 0 {
			errs = append(errs, errors.New("stats_cache.ttl must be positive"))
		}
	case StatsCacheRedis:
		if c.StatsCache.TTL <= 0 {
			errs = append(errs, errors.New("stats_cache.ttl must be positive"))
		}
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis stats cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("stats_cache.driver %q is not one of none, memory, redis", c.StatsCache.Driver))
	}

	if c.Broadcast.Concurrency <= 0 {
		errs = append(errs, errors.New("broadcast.concurrency must be positive"))
	}
	if c.Broadcast.Timeout < 0 || c.Broadcast.SendTimeout <= 0 {
		errs = append(errs, errors.New("broadcast timeouts must be positive"))
	}
	if longest := c.Broadcast.Timeout + c.Broadcast.RecordTimeout; c.Broadcast.Timeout > 0 && c.Server.ShutdownTimeout < longest {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must be at least broadcast.timeout + broadcast.record_timeout (%s)",
			c.Server.ShutdownTimeout, longest))
	}

	if c.WebPush.Enabled {
		if c.WebPush.VAPIDPublicKey == "" || c.WebPush.VAPIDPrivateKey == "" {
			errs = append(errs, errors.New("webpush.vapid_public_key and webpush.vapid_private_key are required when web push is enabled"))
		}
		if c.WebPush.Subscriber == "" {
			errs = append(errs, errors.New("webpush.subscriber is required when web push is enabled"))
		}
		switch c.WebPush.Urgency {
		case "very-low", "low", "normal", "high":
		default:
			errs = append(errs, fmt.Errorf("webpush.urgency %q is not one of very-low, low, normal, high", c.WebPush.Urgency))
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}

	return errors.Join(errs...)
}
