// Package config loads the server configuration: defaults, then an optional
// YAML file, then LV_* environment overrides.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"levelverse.io/internal/levels"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	// MirrorRotateLayout gives one-minute segments when mirroring is on.
	MirrorRotateLayout = "2006-01-02-15-04"
)

type Config struct {
	Listen   string `yaml:"listen" env:"LV_LISTEN"`
	DataDir  string `yaml:"data_dir" env:"LV_DATA_DIR"`
	LogLevel string `yaml:"log_level" env:"LV_LOG_LEVEL"`

	DefaultLevelID   string `yaml:"default_level_id" env:"LV_DEFAULT_LEVEL_ID"`
	DefaultLevelName string `yaml:"default_level_name" env:"LV_DEFAULT_LEVEL_NAME"`
	DefaultSpawn     Point  `yaml:"default_spawn" envPrefix:"LV_DEFAULT_SPAWN_"`

	ForbiddenIPs          []string `yaml:"forbidden_ips" env:"LV_FORBIDDEN_IPS" envSeparator:","`
	TrustForwardedFor     bool     `yaml:"trust_forwarded_for" env:"LV_TRUST_FORWARDED_FOR"`
	TransactionalCascades bool     `yaml:"transactional_cascades" env:"LV_TRANSACTIONAL_CASCADES"`
	// LogRotateLayout is the time layout naming analytics/activity segments.
	LogRotateLayout string `yaml:"log_rotate_layout" env:"LV_LOG_ROTATE_LAYOUT"`

	Store     StoreConfig     `yaml:"store" envPrefix:"LV_STORE_"`
	Analytics AnalyticsConfig `yaml:"analytics" envPrefix:"LV_ANALYTICS_"`
	Activity  ActivityConfig  `yaml:"activity" envPrefix:"LV_ACTIVITY_"`
	Mirror    MirrorConfig    `yaml:"mirror" envPrefix:"LV_MIRROR_"`
}

type Point struct {
	X float64 `yaml:"x" env:"X"`
	Y float64 `yaml:"y" env:"Y"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	Path    string `yaml:"path" env:"PATH"`
}

type AnalyticsConfig struct {
	JSONL        bool   `yaml:"jsonl" env:"JSONL"`
	HTTPEndpoint string `yaml:"http_endpoint" env:"HTTP_ENDPOINT"`
	HTTPToken    string `yaml:"http_token" env:"HTTP_TOKEN"`
	BatchSize    int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushMS      int    `yaml:"flush_ms" env:"FLUSH_MS"`
	QueueSize    int    `yaml:"queue_size" env:"QUEUE_SIZE"`
}

func (a AnalyticsConfig) FlushInterval() time.Duration {
	return time.Duration(a.FlushMS) * time.Millisecond
}

type ActivityConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

type MirrorConfig struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	Workers         int    `yaml:"workers" env:"WORKERS"`
}

func Defaults() Config {
	return Config{
		Listen:                ":8080",
		DataDir:               "./data",
		LogLevel:              "info",
		DefaultLevelID:        "lvl_default",
		DefaultLevelName:      "Lobby",
		DefaultSpawn:          Point{X: levels.DefaultSpawn.X, Y: levels.DefaultSpawn.Y},
		TransactionalCascades: true,
		Store:                 StoreConfig{Backend: BackendSQLite},
		Analytics:             AnalyticsConfig{JSONL: true, BatchSize: 200, FlushMS: 1000, QueueSize: 10000},
		Activity:              ActivityConfig{Enabled: true},
		Mirror:                MirrorConfig{Workers: 2},
	}
}

// Load reads path (optional) and the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment; nil means os.Environ.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, oops.Wrapf(err, "read config")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, oops.Wrapf(err, "%s", filepath.Base(path))
		}
	}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, oops.Wrapf(err, "parse env")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.DefaultLevelID = strings.TrimSpace(c.DefaultLevelID)
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == BackendSQLite && strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = filepath.Join(c.DataDir, "levels.sqlite")
	}
	ips := c.ForbiddenIPs[:0]
	for _, ip := range c.ForbiddenIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	c.ForbiddenIPs = ips
	if c.LogRotateLayout == "" && c.Mirror.Enabled {
		c.LogRotateLayout = MirrorRotateLayout
	}
}

func (c Config) Validate() error {
	if c.DefaultLevelID == "" {
		return oops.Errorf("default_level_id is required")
	}
	if !levels.ValidID(c.DefaultLevelID) {
		return oops.Errorf("default_level_id %q is not a valid id", c.DefaultLevelID)
	}
	if !levels.ValidName(c.DefaultLevelName) {
		return oops.Errorf("default_level_name is too long")
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return oops.Errorf("store.backend %q: want %s or %s", c.Store.Backend, BackendMemory, BackendSQLite)
	}
	for _, ip := range c.ForbiddenIPs {
		if net.ParseIP(ip) == nil {
			return oops.Errorf("forbidden_ips: %q is not an IP address", ip)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return oops.Wrapf(err, "log_level")
	}
	if c.Analytics.BatchSize < 0 || c.Analytics.FlushMS < 0 || c.Analytics.QueueSize < 0 {
		return oops.Errorf("analytics: batch_size, flush_ms and queue_size must be >= 0")
	}
	if c.Mirror.Enabled {
		m := c.Mirror
		if m.Endpoint == "" || m.Bucket == "" || m.AccessKeyID == "" || m.SecretAccessKey == "" {
			return oops.Errorf("mirror.enabled requires endpoint, bucket, access_key_id and secret_access_key")
		}
	}
	return nil
}

func (c Config) Spawn() levels.Position {
	return levels.Position{X: c.DefaultSpawn.X, Y: c.DefaultSpawn.Y}
}
