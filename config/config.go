// Package config loads the YAML configuration shared by the pad server and
// client. Durations are Go duration strings ("500ms", "30s").
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
	RequestTimeout  string   `yaml:"requestTimeout"`
	ShutdownTimeout string   `yaml:"shutdownTimeout"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // pad-server
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
	// File, when set, receives log output instead of stdout.
	File string `yaml:"file"`
}

// Postgres is optional; the server keeps rooms in memory without a DSN.
type Postgres struct {
	DSN               string `yaml:"dsn"`
	MaxConns          int32  `yaml:"maxConns"`
	MinConns          int32  `yaml:"minConns"`
	MaxConnLifetime   string `yaml:"maxConnLifetime"`
	MaxConnIdleTime   string `yaml:"maxConnIdleTime"`
	HealthCheckPeriod string `yaml:"healthCheckPeriod"`
}

// Redis is optional; without a URL there is no cross-instance fan-out.
type Redis struct {
	URL string `yaml:"url"`
}

type Sync struct {
	SaveDebounce   string `yaml:"saveDebounce"`
	TypingExpiry   string `yaml:"typingExpiry"`
	HistoryWindow  int    `yaml:"historyWindow"`
	BroadcastEdits *bool  `yaml:"broadcastEdits"`
}

type AI struct {
	BaseURL      string  `yaml:"baseURL"`
	Model        string  `yaml:"model"`
	Timeout      string  `yaml:"timeout"`
	SystemPrompt string  `yaml:"systemPrompt"`
	Temperature  float64 `yaml:"temperature"`
	Disabled     bool    `yaml:"disabled"`
}

type Cache struct {
	Path   string `yaml:"path"`
	MaxAge string `yaml:"maxAge"`
}

type Identity struct {
	Path string `yaml:"path"`
}

type Server struct {
	// URL is where the client finds the pad server.
	URL              string  `yaml:"url"`
	// Local runs the client against an in-process store and transport
	// instead of a server.
	Local            bool    `yaml:"local"`
	PresenceInterval string  `yaml:"presenceInterval"`
	PingEvery        string  `yaml:"pingEvery"`
	RatePerSecond    float64 `yaml:"ratePerSecond"`
	Burst            int     `yaml:"burst"`
	ReadLimit        int64   `yaml:"readLimit"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Sync     Sync     `yaml:"sync"`
	AI       AI       `yaml:"ai"`
	Cache    Cache    `yaml:"cache"`
	Identity Identity `yaml:"identity"`
	Server   Server   `yaml:"server"`
}

// LoadConfig reads .env (if present), then the YAML file at CONFIG_PATH
// (default ./config/config.yaml). A missing YAML file yields the defaults.
// PAD_POSTGRES_DSN, PAD_REDIS_URL, PAD_SERVER_URL and PAD_LOCAL override the
// file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PAD_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("PAD_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("PAD_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("PAD_LOCAL"); v != "" {
		if local, err := strconv.ParseBool(v); err == nil {
			c.Server.Local = local
		}
	}
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "pad"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Logging.Backend != "std" && c.Logging.Backend != "zap" {
		return fmt.Errorf("logging.backend must be std or zap, got %q", c.Logging.Backend)
	}

	if c.Sync.HistoryWindow < 0 {
		return errors.New("sync.historyWindow must not be negative")
	}
	if c.Sync.HistoryWindow == 0 {
		c.Sync.HistoryWindow = 12
	}
	if c.Sync.BroadcastEdits == nil {
		on := true
		c.Sync.BroadcastEdits = &on
	}

	if c.Server.URL == "" {
		c.Server.URL = "http://localhost:8080"
	}
	if c.Cache.Path == "" || c.Identity.Path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		if c.Cache.Path == "" {
			c.Cache.Path = filepath.Join(dir, "pad", "cache.db")
		}
		if c.Identity.Path == "" {
			c.Identity.Path = filepath.Join(dir, "pad", "identity.yaml")
		}
	}

	for name, s := range map[string]string{
		"http.requestTimeout":        c.HTTP.RequestTimeout,
		"http.shutdownTimeout":       c.HTTP.ShutdownTimeout,
		"postgres.maxConnLifetime":   c.Postgres.MaxConnLifetime,
		"postgres.maxConnIdleTime":   c.Postgres.MaxConnIdleTime,
		"postgres.healthCheckPeriod": c.Postgres.HealthCheckPeriod,
		"sync.saveDebounce":          c.Sync.SaveDebounce,
		"sync.typingExpiry":          c.Sync.TypingExpiry,
		"ai.timeout":                 c.AI.Timeout,
		"cache.maxAge":               c.Cache.MaxAge,
		"server.presenceInterval":    c.Server.PresenceInterval,
		"server.pingEvery":           c.Server.PingEvery,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return parseDurationOr(30*time.Second, c.HTTP.RequestTimeout)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return parseDurationOr(10*time.Second, c.HTTP.ShutdownTimeout)
}

func (c *Config) SaveDebounce() time.Duration {
	return parseDurationOr(500*time.Millisecond, c.Sync.SaveDebounce)
}

func (c *Config) TypingExpiry() time.Duration {
	return parseDurationOr(1500*time.Millisecond, c.Sync.TypingExpiry)
}

func (c *Config) AITimeout() time.Duration {
	return parseDurationOr(2*time.Minute, c.AI.Timeout)
}

func (c *Config) CacheMaxAge() time.Duration {
	return parseDurationOr(30*24*time.Hour, c.Cache.MaxAge)
}

func (c *Config) PresenceInterval() time.Duration {
	return parseDurationOr(10*time.Second, c.Server.PresenceInterval)
}

func (c *Config) PingEvery() time.Duration {
	return parseDurationOr(15*time.Second, c.Server.PingEvery)
}

func (c *Config) MaxConnLifetime() time.Duration {
	return parseDurationOr(time.Hour, c.Postgres.MaxConnLifetime)
}

func (c *Config) MaxConnIdleTime() time.Duration {
	return parseDurationOr(30*time.Minute, c.Postgres.MaxConnIdleTime)
}

func (c *Config) HealthCheckPeriod() time.Duration {
	return parseDurationOr(time.Minute, c.Postgres.HealthCheckPeriod)
}

// parseDurationOr returns def for empty, invalid or non-positive input.
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
