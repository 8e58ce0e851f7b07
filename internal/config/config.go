// Package config loads and validates vision2struct configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. V2S_SERVER_PORT.
const EnvPrefix = "V2S"

// Config captures all configuration knobs shared by the server and the CLI.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Client    ClientConfig    `mapstructure:"client"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Image sources.
const (
	SourceColly    = "colly"
	SourceHeadless = "headless"
	// SourceAuto uses colly and promotes to headless for rendered pages.
	SourceAuto = "auto"
)

// ScraperConfig governs job admission and the worker pool.
type ScraperConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	QueueDepth    int    `mapstructure:"queue_depth"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	MaxLimit      int    `mapstructure:"max_limit"`
	Source        string `mapstructure:"source"`
	SearchBaseURL string `mapstructure:"search_base_url"`
	ImageHost     string `mapstructure:"image_host"`
	UserAgent     string `mapstructure:"user_agent"`
}

// HTTPConfig configures image downloads.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
	// RequestsPerSecond throttles downloads per host; zero disables it.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the chromedp image source.
type HeadlessConfig struct {
	MaxParallel      int           `mapstructure:"max_parallel"`
	NavTimeout       time.Duration `mapstructure:"nav_timeout"`
	InitialWait      time.Duration `mapstructure:"initial_wait"`
	ScrollPause      time.Duration `mapstructure:"scroll_pause"`
	StagnationRounds int           `mapstructure:"stagnation_rounds"`
	MaxScrolls       int           `mapstructure:"max_scrolls"`
}

// Blob backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// StorageConfig selects where images and reports are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres progress store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LLMConfig selects the image labeling model. An empty provider uses the
// heuristic labeler.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	ServerURL string `mapstructure:"server_url"`
}

// ProgressConfig tunes the progress hub and the SSE endpoint.
type ProgressConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchWait         time.Duration `mapstructure:"batch_wait"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// RetentionConfig controls pruning of finished jobs.
type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ClientConfig is read by the CLI.
type ClientConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	ReloadDelay time.Duration `mapstructure:"reload_delay"`
}

// Load builds a Config from .env, an optional file and the environment.
func Load(path string) (Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// NewViper prepares a Viper instance with defaults, env binding and the
// optional config file. Callers may bind flags before FromViper.
func NewViper(path string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// FromViper unmarshals and validates.
func FromViper(v *viper.Viper) (Config, error) {
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
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("scraper.concurrency", 2)
	v.SetDefault("scraper.queue_depth", 32)
	v.SetDefault("scraper.default_limit", 10)
	v.SetDefault("scraper.max_limit", 100)
	v.SetDefault("scraper.source", SourceColly)
	v.SetDefault("scraper.search_base_url", "https://unsplash.com/s/photos")
	v.SetDefault("scraper.image_host", "images.unsplash.com")
	v.SetDefault("scraper.user_agent", "vision2struct/0.1")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_body_bytes", 20*1024*1024)
	v.SetDefault("http.requests_per_second", 5)
	v.SetDefault("http.burst", 2)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "2m")
	v.SetDefault("headless.initial_wait", "3s")
	v.SetDefault("headless.scroll_pause", "2s")
	v.SetDefault("headless.stagnation_rounds", 3)
	v.SetDefault("headless.max_scrolls", 50)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.prefix", "images")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 32)
	v.SetDefault("progress.batch_wait", "50ms")
	v.SetDefault("progress.subscriber_buffer", 64)
	v.SetDefault("progress.heartbeat_interval", "15s")
	v.SetDefault("retention.schedule", "@every 10m")
	v.SetDefault("retention.max_age", "1h")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("client.base_url", "http://localhost:5000")
	v.SetDefault("client.reload_delay", "2000ms")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.QueueDepth <= 0 {
		return fmt.Errorf("scraper.queue_depth must be > 0")
	}
	if c.Scraper.MaxLimit <= 0 {
		return fmt.Errorf("scraper.max_limit must be > 0")
	}
	if c.Scraper.DefaultLimit <= 0 || c.Scraper.DefaultLimit > c.Scraper.MaxLimit {
		return fmt.Errorf("scraper.default_limit must be between 1 and scraper.max_limit")
	}
	switch c.Scraper.Source {
	case SourceColly, SourceHeadless, SourceAuto:
	default:
		return fmt.Errorf("scraper.source must be %q, %q or %q", SourceColly, SourceHeadless, SourceAuto)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Scraper.Source != SourceColly && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the headless source is used")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Progress.HeartbeatInterval <= 0 {
		return fmt.Errorf("progress.heartbeat_interval must be > 0")
	}
	if c.Client.ReloadDelay <= 0 {
		return fmt.Errorf("client.reload_delay must be > 0")
	}
	return nil
}

// DownloadTimeout converts the HTTP timeout into a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
