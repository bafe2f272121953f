// Package config loads the engine configuration from the environment.
// Variables use the DISPATCH_ prefix with __ as the section separator, e.g.
// DISPATCH_SERVER__PORT=9090 or DISPATCH_ADMISSION__POINTS=50.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DISPATCH_"

// Config holds all configuration for the dispatch engine.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Storage   StorageConfig   `json:"storage"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	NewRelic  NewRelicConfig  `json:"newrelic"`
	Admission AdmissionConfig `json:"admission"`
	Dispatch  DispatchConfig  `json:"dispatch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// StorageConfig selects the ride store backend: "memory" or "postgres".
type StorageConfig struct {
	Backend string `json:"backend"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// RedisConfig holds Redis configuration. Redis is optional; when disabled the
// engine runs with in-process rate limiting and no idempotency replay.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `json:"app_name"`
	LicenseKey string `json:"license_key"`
	Enabled    bool   `json:"enabled"`
}

// AdmissionConfig bounds requests per client within a rolling window.
type AdmissionConfig struct {
	Points int64         `json:"points"`
	Window time.Duration `json:"window"`
}

// DispatchConfig tunes matching and listing behavior.
type DispatchConfig struct {
	SearchRadiusKm  float64 `json:"search_radius_km"`
	MatchLimit      int     `json:"match_limit"`
	DefaultPageSize int     `json:"default_page_size"`
	MaxPageSize     int     `json:"max_page_size"`
	AvgSpeedKmh     float64 `json:"avg_speed_kmh"`
}

// Load builds the configuration from defaults overlaid with environment
// variables.
func Load() (*Config, error) {
	cfg := defaults()

	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "dispatch",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		NewRelic: NewRelicConfig{
			AppName: "dispatch-engine",
		},
		Admission: AdmissionConfig{
			Points: 100,
			Window: time.Minute,
		},
		Dispatch: DispatchConfig{
			SearchRadiusKm:  10,
			MatchLimit:      10,
			DefaultPageSize: 20,
			MaxPageSize:     100,
			AvgSpeedKmh:     30,
		},
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Admission.Points <= 0 {
		return fmt.Errorf("admission points must be positive, got %d", c.Admission.Points)
	}
	if c.Admission.Window <= 0 {
		return fmt.Errorf("admission window must be positive, got %s", c.Admission.Window)
	}
	return nil
}
