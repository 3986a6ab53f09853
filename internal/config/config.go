// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig           `mapstructure:"server"`
	Auth         AuthConfig             `mapstructure:"auth"`
	Crawl        CrawlConfig            `mapstructure:"crawl"`
	Storage      StorageConfig          `mapstructure:"storage"`
	DB           DBConfig               `mapstructure:"db"`
	Index        IndexConfig            `mapstructure:"index"`
	RateLimit    RateLimitConfig        `mapstructure:"rate_limit"`
	PubSub       PubSubConfig           `mapstructure:"pubsub"`
	Logging      LoggingConfig          `mapstructure:"logging"`
	StandardJobs map[string]StandardJob `mapstructure:"standard_jobs"`
}

// ServerConfig controls admin HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig holds the configuration table from spec.md §6, plus the
// headless, recency, reschedule and stale-lease settings of the worker.
type CrawlConfig struct {
	// MaxConcurrent is the number of handlers per worker. Default 5.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// RequestTimeoutMs is the HTTP and navigation timeout. Default 30000.
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
	// MaxPageSize is the maximum response body in bytes. Default 5 MiB.
	MaxPageSize int64 `mapstructure:"max_page_size"`
	// DelayBetweenRequestsMs is the default per-host minimum delay. Default 1000.
	DelayBetweenRequestsMs int `mapstructure:"delay_between_requests_ms"`
	// MaxDepth is the hard ceiling on traversal depth. Default 10.
	MaxDepth int `mapstructure:"max_depth"`
	// UserAgent is sent on all outbound HTTP.
	UserAgent string `mapstructure:"user_agent"`
	// RespectRobotsTxt toggles robots.txt enforcement. Default true.
	RespectRobotsTxt bool `mapstructure:"respect_robots_txt"`
	// AllowedContentTypes is the MIME allow-list for the HTTP phase.
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`
	// HeadlessEnabled toggles the chromedp fallback phase.
	HeadlessEnabled bool `mapstructure:"headless_enabled"`
	// RecencyWindow skips pages crawled more recently than this.
	RecencyWindow time.Duration `mapstructure:"recency_window"`
	// RescheduleDelay is how long a failed record waits before retry eligibility.
	RescheduleDelay time.Duration `mapstructure:"reschedule_delay"`
	// RescheduleInterval is how often the worker sweeps for reschedulable failures.
	RescheduleInterval time.Duration `mapstructure:"reschedule_interval"`
	// StaleLeaseDuration bounds how long a record may sit in processing
	// before it is presumed abandoned by a crashed handler and reclaimed.
	StaleLeaseDuration time.Duration `mapstructure:"stale_lease_duration"`
}

// RequestTimeout converts RequestTimeoutMs to a time.Duration.
func (c CrawlConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// DelayBetweenRequests converts DelayBetweenRequestsMs to a time.Duration.
func (c CrawlConfig) DelayBetweenRequests() time.Duration {
	return time.Duration(c.DelayBetweenRequestsMs) * time.Millisecond
}

// StorageConfig selects the metadata store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "postgres" or "memory"
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
	MinOpenConns int32  `mapstructure:"min_open_conns"`
}

// IndexConfig selects the document sink backend.
type IndexConfig struct {
	Backend   string   `mapstructure:"backend"` // "elasticsearch" or "memory"
	Addresses []string `mapstructure:"addresses"`
	IndexName string   `mapstructure:"index_name"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// RateLimitConfig selects the shared key-value store backing the C4 rate
// limiter. A single worker process can use the memory backend, but any
// multi-process deployment needs the redis backend so the per-host delay
// state is actually shared.
type RateLimitConfig struct {
	Backend  string `mapstructure:"backend"` // "redis" or "memory"
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubConfig holds metadata for publish-subscribe completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StandardJob is a named default crawl-job template an operator can launch
// by name via `crawlmesh submit --standard <name>` instead of specifying
// every flag by hand.
type StandardJob struct {
	URL          string   `mapstructure:"url"`
	MaxDepth     int      `mapstructure:"max_depth"`
	DomainFilter []string `mapstructure:"domain_filter"`
	Priority     int      `mapstructure:"priority"`
}

// Load builds a Config from disk/environment. path may be empty, in which
// case only defaults and environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.port", 8080)

	v.SetDefault("crawl.max_concurrent", 5)
	v.SetDefault("crawl.request_timeout_ms", 30000)
	v.SetDefault("crawl.max_page_size", 5*1024*1024)
	v.SetDefault("crawl.delay_between_requests_ms", 1000)
	v.SetDefault("crawl.max_depth", 10)
	v.SetDefault("crawl.user_agent", "crawlmeshbot/1.0")
	v.SetDefault("crawl.respect_robots_txt", true)
	v.SetDefault("crawl.allowed_content_types", []string{
		"text/html", "text/plain", "application/json", "application/pdf",
	})
	v.SetDefault("crawl.headless_enabled", true)
	v.SetDefault("crawl.recency_window", "24h")
	v.SetDefault("crawl.reschedule_delay", "1h")
	v.SetDefault("crawl.reschedule_interval", "5m")
	v.SetDefault("crawl.stale_lease_duration", "15m")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.min_open_conns", 2)

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.index_name", "crawlmesh-pages")

	v.SetDefault("rate_limit.backend", "memory")

	v.SetDefault("pubsub.enabled", false)

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.MaxConcurrent <= 0 {
		return fmt.Errorf("crawl.max_concurrent must be > 0")
	}
	if c.Crawl.RequestTimeoutMs <= 0 {
		return fmt.Errorf("crawl.request_timeout_ms must be > 0")
	}
	if c.Crawl.MaxPageSize <= 0 {
		return fmt.Errorf("crawl.max_page_size must be > 0")
	}
	if c.Crawl.MaxDepth <= 0 {
		return fmt.Errorf("crawl.max_depth must be > 0")
	}
	if c.Crawl.UserAgent == "" {
		return fmt.Errorf("crawl.user_agent must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Index.Backend {
	case "memory":
	case "elasticsearch":
		if len(c.Index.Addresses) == 0 {
			return fmt.Errorf("index.addresses must be set when index.backend is elasticsearch")
		}
	default:
		return fmt.Errorf("index.backend must be memory or elasticsearch, got %q", c.Index.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set when pubsub is enabled")
	}
	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if c.RateLimit.Address == "" {
			return fmt.Errorf("rate_limit.address must be set when rate_limit.backend is redis")
		}
	default:
		return fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	return nil
}
