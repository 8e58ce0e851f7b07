package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
cors:
  allowed_origins: ["http://localhost:3000"]
scraper:
  concurrency: 6
  queue_depth: 8
  default_limit: 5
  max_limit: 25
  source: headless
headless:
  max_parallel: 2
  scroll_pause: 500ms
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: shots
llm:
  provider: ollama
  model: llava
logging:
  development: false
client:
  base_url: http://scraper.internal:5000
  reload_delay: 1500ms
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Scraper.Concurrency != 6 || cfg.Scraper.DefaultLimit != 5 || cfg.Scraper.MaxLimit != 25 {
		t.Fatalf("unexpected scraper config: %+v", cfg.Scraper)
	}
	if cfg.Scraper.Source != SourceHeadless || cfg.Headless.ScrollPause != 500*time.Millisecond {
		t.Fatalf("unexpected headless config: %+v", cfg.Headless)
	}
	if cfg.Headless.InitialWait != 3*time.Second {
		t.Fatalf("headless.initial_wait = %v, want default 3s", cfg.Headless.InitialWait)
	}
	if cfg.Storage.Backend != StorageGCS || cfg.Storage.GCSBucket != "bucket" || cfg.Storage.Prefix != "shots" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "llava" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Logging.Development {
		t.Fatal("logging.development should be false")
	}
	if cfg.Client.BaseURL != "http://scraper.internal:5000" || cfg.Client.ReloadDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected client config: %+v", cfg.Client)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Fatalf("server.port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Scraper.DefaultLimit != 10 {
		t.Fatalf("scraper.default_limit = %d, want 10", cfg.Scraper.DefaultLimit)
	}
	if cfg.Client.BaseURL != "http://localhost:5000" {
		t.Fatalf("client.base_url = %q", cfg.Client.BaseURL)
	}
	if cfg.Client.ReloadDelay != 2000*time.Millisecond {
		t.Fatalf("client.reload_delay = %v, want 2s", cfg.Client.ReloadDelay)
	}
	if cfg.Retention.Schedule != "@every 10m" || cfg.Retention.MaxAge != time.Hour {
		t.Fatalf("unexpected retention config: %+v", cfg.Retention)
	}
	if cfg.DownloadTimeout() != 10*time.Second {
		t.Fatalf("DownloadTimeout() = %v", cfg.DownloadTimeout())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("V2S_SERVER_PORT", "7070")
	t.Setenv("V2S_CLIENT_BASE_URL", "http://env.example:5000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("server.port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Client.BaseURL != "http://env.example:5000" {
		t.Fatalf("client.base_url = %q", cfg.Client.BaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero concurrency", func(c *Config) { c.Scraper.Concurrency = 0 }, "scraper.concurrency"},
		{"default above max", func(c *Config) { c.Scraper.DefaultLimit = 500 }, "scraper.default_limit"},
		{"unknown source", func(c *Config) { c.Scraper.Source = "bing" }, "scraper.source"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.gcs_bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "done" }, "pubsub.project_id"},
		{"headless without parallelism", func(c *Config) {
			c.Scraper.Source = SourceHeadless
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"auto without parallelism", func(c *Config) {
			c.Scraper.Source = SourceAuto
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"zero reload delay", func(c *Config) { c.Client.ReloadDelay = 0 }, "client.reload_delay"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}
