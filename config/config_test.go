package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "no sites",
			mutate: func(cfg *Config) {
				cfg.Sites = nil
			},
			wantErr: "at least one site",
		},
		{
			name: "duplicate site url",
			mutate: func(cfg *Config) {
				cfg.Sites = append(cfg.Sites, cfg.Sites[0])
			},
			wantErr: "duplicate URL",
		},
		{
			name: "site url without host",
			mutate: func(cfg *Config) {
				cfg.Sites[0].URL = "http://"
			},
			wantErr: "host",
		},
		{
			name: "site url wrong scheme",
			mutate: func(cfg *Config) {
				cfg.Sites[0].URL = "ftp://example.test/"
			},
			wantErr: "http or https",
		},
		{
			name: "zero max products",
			mutate: func(cfg *Config) {
				cfg.Sites[0].MaxProducts = 0
			},
			wantErr: "max products",
		},
		{
			name: "empty user agent pool",
			mutate: func(cfg *Config) {
				cfg.UserAgents = nil
			},
			wantErr: "user agent",
		},
		{
			name: "zero rate ceiling",
			mutate: func(cfg *Config) {
				cfg.RequestsPerMinute = 0
			},
			wantErr: "requests per minute",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "cannot exceed",
		},
		{
			name: "empty vocabulary",
			mutate: func(cfg *Config) {
				cfg.Classifier.Categories = nil
			},
			wantErr: "vocabulary",
		},
		{
			name: "mysql without dsn",
			mutate: func(cfg *Config) {
				cfg.Store.Driver = "mysql"
			},
			wantErr: "DSN",
		},
		{
			name: "unknown store driver",
			mutate: func(cfg *Config) {
				cfg.Store.Driver = "bolt"
			},
			wantErr: "store driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.yaml")
	body := `
requests_per_minute: 3
timeout: 4s
sites:
  - name: Gecko Shop
    url: https://gecko.example.test/shop
    priority: 1
    request_delay: 1500ms
    max_products: 5
    profile: woocommerce
profiles:
  - key: gecko
    match: ["gecko.example"]
    name: ["h1.title"]
classifier:
  allow_keywords: ["gecko"]
  categories: ["Reptiles"]
  timeout: 2s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestsPerMinute != 3 {
		t.Fatalf("requests per minute = %d, want 3", cfg.RequestsPerMinute)
	}
	if cfg.Timeout != 4*time.Second {
		t.Fatalf("timeout = %v, want 4s", cfg.Timeout)
	}
	if len(cfg.Sites) != 1 || cfg.Sites[0].RequestDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected sites: %+v", cfg.Sites)
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Key != "gecko" {
		t.Fatalf("unexpected profiles: %+v", cfg.Profiles)
	}
	if cfg.MaxRetries != DefaultConfig().MaxRetries {
		t.Fatalf("max retries should keep default, got %d", cfg.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestsPerMinute != DefaultConfig().RequestsPerMinute {
		t.Fatalf("expected defaults, got %d", cfg.RequestsPerMinute)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVEST_REQUESTS_PER_MINUTE", "7")
	t.Setenv("HARVEST_STORE_DSN", "user:pw@tcp(db:3306)/harvest?parseTime=true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestsPerMinute != 7 {
		t.Fatalf("requests per minute = %d, want 7", cfg.RequestsPerMinute)
	}
	if cfg.Store.Driver != "mysql" {
		t.Fatalf("driver = %q, want mysql", cfg.Store.Driver)
	}
}

func TestLoadEnvRejectsGarbage(t *testing.T) {
	t.Setenv("HARVEST_MAX_RETRIES", "lots")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "HARVEST_MAX_RETRIES") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}
