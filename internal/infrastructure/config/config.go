package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	ObjectStore ObjectStoreConfig `koanf:"object_store"`

	Crypto    CryptoConfig    `koanf:"crypto"`
	Behavior  BehaviorConfig  `koanf:"behavior"`
	Alerting  AlertingConfig  `koanf:"alerting"`
	Query     QueryConfig     `koanf:"query"`
	Export    ExportConfig    `koanf:"export"`
	Retention RetentionConfig `koanf:"retention"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type ObjectStoreConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
	Region    string `koanf:"region"`
}

type CryptoConfig struct {
	// MasterKey is the base64 or raw master key material; never logged
	MasterKey string `koanf:"master_key"`

	Argon2Time    uint32 `koanf:"argon2_time"`
	Argon2MemoryK uint32 `koanf:"argon2_memory_k"`
	Argon2Threads uint8  `koanf:"argon2_threads"`
}

type BehaviorConfig struct {
	GeoRadiusKm         float64 `koanf:"geo_radius_km"`
	MaxTravelSpeedKmh   float64 `koanf:"max_travel_speed_kmh"`
	HourToleranceHours  int     `koanf:"hour_tolerance_hours"`
	RareActionFrequency float64 `koanf:"rare_action_frequency"`
	UpdateRetries       int     `koanf:"update_retries"`
}

type AlertingConfig struct {
	Cooldown            time.Duration `koanf:"cooldown"`
	MaxDeliveryAttempts int           `koanf:"max_delivery_attempts"`
	DeliveryBackoff     time.Duration `koanf:"delivery_backoff"`
}

type QueryConfig struct {
	MaxPageSize   int           `koanf:"max_page_size"`
	DecryptLimit  int           `koanf:"decrypt_limit"`
	DecryptWindow time.Duration `koanf:"decrypt_window"`
}

type ExportConfig struct {
	Workers        int           `koanf:"workers"`
	QueueSize      int           `koanf:"queue_size"`
	MaxAttempts    int           `koanf:"max_attempts"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	PageSize       int           `koanf:"page_size"`
	LinkTTL        time.Duration `koanf:"link_ttl"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
	PagesPerSecond float64       `koanf:"pages_per_second"`
}

type RetentionConfig struct {
	// Overrides maps module -> tier -> retention days, on top of the
	// per-tier defaults
	Overrides map[string]map[string]int `koanf:"overrides"`

	SweepPageSize int `koanf:"sweep_page_size"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: "audit-exports",
			Region: "us-east-1",
		},
		Crypto: CryptoConfig{
			Argon2Time:    1,
			Argon2MemoryK: 64 * 1024,
			Argon2Threads: 4,
		},
		Behavior: BehaviorConfig{
			GeoRadiusKm:         200,
			MaxTravelSpeedKmh:   900,
			HourToleranceHours:  4,
			RareActionFrequency: 0.05,
			UpdateRetries:       3,
		},
		Alerting: AlertingConfig{
			Cooldown:            time.Minute,
			MaxDeliveryAttempts: 3,
			DeliveryBackoff:     100 * time.Millisecond,
		},
		Query: QueryConfig{
			MaxPageSize:   200,
			DecryptLimit:  30,
			DecryptWindow: time.Minute,
		},
		Export: ExportConfig{
			Workers:        2,
			QueueSize:      64,
			MaxAttempts:    3,
			RetryBackoff:   time.Second,
			PageSize:       500,
			LinkTTL:        7 * 24 * time.Hour,
			LockTTL:        time.Hour,
			PagesPerSecond: 20,
		},
		Retention: RetentionConfig{
			SweepPageSize: 500,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional
	_ = k.Load(file.Provider("configs/config.yaml"), yaml.Parser())

	// Environment variables win: AUDIT_DATABASE_URL -> database.url
	if err := k.Load(env.Provider("AUDIT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AUDIT_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings a running service cannot do without
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if len(c.Crypto.MasterKey) < 32 {
		return fmt.Errorf("crypto.master_key must be at least 32 bytes")
	}
	return nil
}
