// Package config loads crawler configuration from file, environment and
// defaults via viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration document.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Store   StoreConfig   `mapstructure:"store"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Output  OutputConfig  `mapstructure:"output"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig tunes the worker pool.
type CrawlConfig struct {
	// Workers is the pool size; zero means pick from the host CPU count.
	Workers int `mapstructure:"workers"`
	// DelaySeconds is the politeness pause before each fetch.
	DelaySeconds float64 `mapstructure:"delay_seconds"`
	// MaxRetries is the ceiling on cumulative fetch failures per URL.
	MaxRetries int `mapstructure:"max_retries"`
}

// StoreConfig selects and configures the frontier backend.
type StoreConfig struct {
	// Backend is one of "bolt", "postgres" or "memory".
	Backend string `mapstructure:"backend"`
	// Path is the bolt database file.
	Path string `mapstructure:"path"`
	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// HTTPConfig tunes the fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OutputConfig locates the scraped-content sink.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// AdminConfig controls the optional admin HTTP server.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load reads configuration from the optional file at path, environment
// variables prefixed CRAWLD_, and built-in defaults, in that precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("crawld")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.workers", 0)
	v.SetDefault("crawl.delay_seconds", 1.0)
	v.SetDefault("crawl.max_retries", 3)

	v.SetDefault("store.backend", "bolt")
	v.SetDefault("store.path", "crawl_state.db")
	v.SetDefault("store.dsn", "")

	v.SetDefault("http.user_agent", "crawld/1.0 (+https://github.com/crawlkit/crawld)")
	v.SetDefault("http.timeout_seconds", 15)

	v.SetDefault("output.path", "scraped_data.jsonl")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.port", 8080)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "crawler.log")
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Crawl.Workers < 0 {
		return fmt.Errorf("crawl.workers must not be negative, got %d", c.Crawl.Workers)
	}
	if c.Crawl.DelaySeconds < 0 {
		return fmt.Errorf("crawl.delay_seconds must not be negative, got %v", c.Crawl.DelaySeconds)
	}
	if c.Crawl.MaxRetries < 0 {
		return fmt.Errorf("crawl.max_retries must not be negative, got %d", c.Crawl.MaxRetries)
	}
	switch c.Store.Backend {
	case "bolt":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the bolt backend")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be positive, got %d", c.HTTP.TimeoutSeconds)
	}
	if c.Output.Path == "" {
		return errors.New("output.path is required")
	}
	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return fmt.Errorf("admin.port out of range: %d", c.Admin.Port)
	}
	return nil
}

// EffectiveWorkers resolves the pool size: an explicit value wins, otherwise
// an I/O-bound heuristic of four per CPU, clamped to [2, 32].
func (c Config) EffectiveWorkers() int {
	if c.Crawl.Workers > 0 {
		return c.Crawl.Workers
	}
	n := runtime.NumCPU() * 4
	if n < 2 {
		n = 2
	}
	if n > 32 {
		n = 32
	}
	return n
}

// Delay returns the politeness pause as a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawl.DelaySeconds * float64(time.Second))
}

// Timeout returns the per-request HTTP timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
