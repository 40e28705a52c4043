package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds harvester configuration.
type Config struct {
	Sites    []SiteConfig    `yaml:"sites"`
	Profiles []ProfileConfig `yaml:"profiles"`

	UserAgents        []string      `yaml:"user_agents"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxPages          int           `yaml:"max_pages"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max"`
	TransportBackoff  time.Duration `yaml:"transport_backoff"`
	ItemJitter        time.Duration `yaml:"item_jitter"`
	RespectRobotsTxt  bool          `yaml:"respect_robots_txt"`

	Throttle   ThrottleConfig   `yaml:"throttle"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`

	BaseCurrency string `yaml:"base_currency"`
	ImageDir     string `yaml:"image_dir"`
	Workers      int    `yaml:"workers"`
	MetricsAddr  string `yaml:"metrics_addr"`
	Verbose      bool   `yaml:"verbose"`
}

// SiteConfig onboards one storefront.
type SiteConfig struct {
	Name         string        `yaml:"name"`
	URL          string        `yaml:"url"`
	Priority     int           `yaml:"priority"`
	RequestDelay time.Duration `yaml:"request_delay"`
	MaxProducts  int           `yaml:"max_products"`
	Profile      string        `yaml:"profile"`
}

// ProfileConfig declares an extraction profile as data.
type ProfileConfig struct {
	Key             string        `yaml:"key"`
	Match           []string      `yaml:"match"`
	Links           []LinkPattern `yaml:"links"`
	LinkFilter      string        `yaml:"link_filter"`
	Next            []string      `yaml:"next"`
	Name            []string      `yaml:"name"`
	Description     []string      `yaml:"description"`
	Price           []string      `yaml:"price"`
	Image           []string      `yaml:"image"`
	Currency        string        `yaml:"currency"`
	ContentFallback bool          `yaml:"content_fallback"`
}

// LinkPattern is a container selector and an optional anchor selector inside it.
type LinkPattern struct {
	Container string `yaml:"container"`
	Anchor    string `yaml:"anchor"`
}

// ThrottleConfig tunes the adaptive delay layered over the rate ceiling.
type ThrottleConfig struct {
	Adaptive     bool          `yaml:"adaptive"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MinDelay     time.Duration `yaml:"min_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ClassifierConfig describes the relevance gate and the categorisation model.
type ClassifierConfig struct {
	AllowKeywords []string      `yaml:"allow_keywords"`
	DenyKeywords  []string      `yaml:"deny_keywords"`
	Categories    []string      `yaml:"categories"`
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory or mysql
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables cross-session URL claims when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

// DefaultConfig returns conservative defaults for the reptile storefronts.
func DefaultConfig() *Config {
	return &Config{
		Sites: []SiteConfig{
			{
				Name:         "Ultimate Exotics",
				URL:          "https://ultimateexotics.co.za/shop/",
				Priority:     1,
				RequestDelay: 3 * time.Second,
				MaxProducts:  20,
				Profile:      "woocommerce",
			},
			{
				Name:         "Reptile Garden",
				URL:          "https://reptile-garden-sa.myshopify.com/",
				Priority:     2,
				RequestDelay: 3 * time.Second,
				MaxProducts:  15,
				Profile:      "shopify",
			},
		},
		UserAgents: []string{
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		},
		RequestsPerMinute: 10,
		MaxPages:          5,
		Timeout:           10 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      5 * time.Second,
		RetryBackoffMax:   30 * time.Second,
		TransportBackoff:  2 * time.Second,
		ItemJitter:        2 * time.Second,
		RespectRobotsTxt:  false,
		Throttle: ThrottleConfig{
			Adaptive:     true,
			InitialDelay: time.Second,
			MinDelay:     500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
		Classifier: ClassifierConfig{
			AllowKeywords: []string{
				"reptile", "snake", "lizard", "gecko", "python", "boa", "chameleon",
				"bearded dragon", "iguana", "monitor", "skink", "tortoise", "turtle",
				"terrarium", "vivarium", "uvb", "basking", "heat mat", "heat lamp",
				"amphibian", "frog", "salamander", "tarantula", "scorpion",
				"feeder", "cricket", "mealworm", "locust", "substrate", "exotic",
			},
			DenyKeywords: []string{
				"dog", "puppy", "kitten", "cat food", "cat litter", "parrot",
				"budgie", "hamster", "guinea pig", "rabbit", "aquarium fish",
			},
			Categories: []string{
				"Reptiles",
				"Reptile Food",
				"Reptile Housing",
				"Heating Equipment",
				"Lighting Equipment",
				"Substrate",
				"Decor",
				"Cleaning Supplies",
				"Healthcare",
				"Supplements",
				"Accessories",
				"Amphibians",
				"Invertebrates",
				"Books & Resources",
			},
			Endpoint: "https://api.openai.com/v1",
			Model:    "gpt-4o",
			Timeout:  20 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Redis: RedisConfig{
			ClaimTTL: 10 * time.Minute,
		},
		BaseCurrency: "ZAR",
		ImageDir:     "data/images",
		Workers:      2,
		Verbose:      false,
	}
}

// Load reads a YAML file on top of the defaults and applies env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok, err := EnvInt("HARVEST_REQUESTS_PER_MINUTE"); err != nil {
		return fmt.Errorf("invalid HARVEST_REQUESTS_PER_MINUTE: %w", err)
	} else if ok {
		cfg.RequestsPerMinute = v
	}
	if v, ok, err := EnvInt("HARVEST_MAX_RETRIES"); err != nil {
		return fmt.Errorf("invalid HARVEST_MAX_RETRIES: %w", err)
	} else if ok {
		cfg.MaxRetries = v
	}
	if v, ok, err := EnvInt("HARVEST_WORKERS"); err != nil {
		return fmt.Errorf("invalid HARVEST_WORKERS: %w", err)
	} else if ok {
		cfg.Workers = v
	}
	if v, ok, err := EnvDuration("HARVEST_TIMEOUT"); err != nil {
		return fmt.Errorf("invalid HARVEST_TIMEOUT: %w", err)
	} else if ok {
		cfg.Timeout = v
	}
	if v, ok := EnvString("HARVEST_STORE_DSN"); ok {
		cfg.Store.DSN = v
		if cfg.Store.Driver == "memory" {
			cfg.Store.Driver = "mysql"
		}
	}
	if v, ok := EnvString("HARVEST_REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := EnvString("HARVEST_REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := EnvString("OPENAI_API_KEY"); ok {
		cfg.Classifier.APIKey = v
	}
	if v, ok := EnvString("HARVEST_IMAGE_DIR"); ok {
		cfg.ImageDir = v
	}
	if v, ok := EnvString("HARVEST_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if len(c.Sites) == 0 {
		return fmt.Errorf("at least one site must be configured")
	}
	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		if err := site.validate(); err != nil {
			return fmt.Errorf("site %d: %w", i, err)
		}
		if _, ok := seen[site.URL]; ok {
			return fmt.Errorf("site %d: duplicate URL %s", i, site.URL)
		}
		seen[site.URL] = struct{}{}
	}
	for i, p := range c.Profiles {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("profile %d: key cannot be empty", i)
		}
	}

	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agent pool cannot be empty")
	}
	for _, ua := range c.UserAgents {
		if strings.TrimSpace(ua) == "" {
			return fmt.Errorf("user agent cannot be empty")
		}
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.RetryBackoff < 0 || c.TransportBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.ItemJitter < 0 {
		return fmt.Errorf("item jitter cannot be negative")
	}
	if c.Throttle.MinDelay < 0 || c.Throttle.MaxDelay < c.Throttle.MinDelay {
		return fmt.Errorf("throttle delay bounds are invalid")
	}

	if len(c.Classifier.AllowKeywords) == 0 {
		return fmt.Errorf("allow keywords cannot be empty")
	}
	if len(c.Classifier.Categories) == 0 {
		return fmt.Errorf("category vocabulary cannot be empty")
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive")
	}

	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("mysql store requires a DSN")
		}
	default:
		return fmt.Errorf("store driver must be memory or mysql")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ImageDir == "" {
		return fmt.Errorf("image dir cannot be empty")
	}

	return nil
}

func (s SiteConfig) validate() error {
	if s.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	parsed, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if s.RequestDelay < 0 {
		return fmt.Errorf("request delay cannot be negative")
	}
	if s.MaxProducts <= 0 {
		return fmt.Errorf("max products must be positive")
	}
	return nil
}
