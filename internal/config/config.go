// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webscout/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Robots    RobotsConfig    `mapstructure:"robots"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Index     IndexConfig     `mapstructure:"index"`
	Rank      RankConfig      `mapstructure:"rank"`
	PageRank  PageRankConfig  `mapstructure:"pagerank"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlConfig governs the worker pool and crawl scope.
type CrawlConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Workers           int           `mapstructure:"workers"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxPagesPerDomain int           `mapstructure:"max_pages_per_domain"`
	AllowDomains      []string      `mapstructure:"allow_domains"`
	DenyDomains       []string      `mapstructure:"deny_domains"`
	ValuableDomains   []string      `mapstructure:"valuable_domains"`
	Seeds             []string      `mapstructure:"seeds"`
	RecrawlAfter      time.Duration `mapstructure:"recrawl_after"`
	RecrawlSchedule   string        `mapstructure:"recrawl_schedule"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

// FetchConfig configures the single-attempt HTTP client.
type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	GlobalRPS    float64       `mapstructure:"global_rps"`
	GlobalBurst  int           `mapstructure:"global_burst"`
}

// RobotsConfig configures the robots.txt cache.
type RobotsConfig struct {
	Ignore    bool          `mapstructure:"ignore"`
	Timeout   time.Duration `mapstructure:"timeout"`
	TTL       time.Duration `mapstructure:"ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

// SchedulerConfig configures politeness, retries and backpressure.
type SchedulerConfig struct {
	PerDomainConcurrency int           `mapstructure:"per_domain_concurrency"`
	GlobalConcurrency    int           `mapstructure:"global_concurrency"`
	DefaultDelay         time.Duration `mapstructure:"default_delay"`
	MaxRetries           int           `mapstructure:"max_retries"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	BackoffMax           time.Duration `mapstructure:"backoff_max"`
	MaxPending           int           `mapstructure:"max_pending"`
	StarvationLimit      int           `mapstructure:"starvation_limit"`
}

// ProcessorConfig bounds extraction work per page.
type ProcessorConfig struct {
	MaxTextChars int `mapstructure:"max_text_chars"`
	MaxLinks     int `mapstructure:"max_links"`
	MaxImages    int `mapstructure:"max_images"`
}

// IndexConfig controls page lifecycle inside the index.
type IndexConfig struct {
	StaleAfterFailures int `mapstructure:"stale_after_failures"`
}

// RankConfig tunes freshness decay.
type RankConfig struct {
	FreshnessHorizon time.Duration `mapstructure:"freshness_horizon"`
	FreshnessFloor   float64       `mapstructure:"freshness_floor"`
}

// PageRankConfig configures the periodic link-score job.
type PageRankConfig struct {
	Schedule      string  `mapstructure:"schedule"`
	Damping       float64 `mapstructure:"damping"`
	MaxIterations int     `mapstructure:"max_iterations"`
	Epsilon       float64 `mapstructure:"epsilon"`
	BatchSize     int     `mapstructure:"batch_size"`
}

// SearchConfig bounds query result sizes.
type SearchConfig struct {
	DefaultMaxResults int `mapstructure:"default_max_results"`
	MaxResultsCap     int `mapstructure:"max_results_cap"`
}

// StorageConfig locates the durable store and the raw markup archive.
type StorageConfig struct {
	Path      string `mapstructure:"path"`
	Archive   string `mapstructure:"archive"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres fetch history.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBSCOUT")
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
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("crawl.enabled", true)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.user_agent", "Web-Scout/0.2 (+https://github.com/JakeFAU/webscout)")
	v.SetDefault("crawl.max_pages_per_domain", 1000)
	v.SetDefault("crawl.valuable_domains", crawler.DefaultValuableDomains)
	v.SetDefault("crawl.seeds", crawler.DefaultSeedURLs)
	v.SetDefault("crawl.recrawl_after", "168h")
	v.SetDefault("crawl.recrawl_schedule", "@every 1h")
	v.SetDefault("crawl.drain_timeout", "45s")

	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_body_bytes", 1<<20)
	v.SetDefault("fetch.global_rps", 10.0)
	v.SetDefault("fetch.global_burst", 5)

	v.SetDefault("robots.ignore", false)
	v.SetDefault("robots.timeout", "5s")
	v.SetDefault("robots.ttl", "24h")
	v.SetDefault("robots.cache_size", 4096)

	v.SetDefault("scheduler.per_domain_concurrency", 2)
	v.SetDefault("scheduler.global_concurrency", 0)
	v.SetDefault("scheduler.default_delay", "1s")
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.backoff_base", "30s")
	v.SetDefault("scheduler.backoff_max", "1h")
	v.SetDefault("scheduler.max_pending", 100000)
	v.SetDefault("scheduler.starvation_limit", 8)

	v.SetDefault("processor.max_text_chars", 10000)
	v.SetDefault("processor.max_links", 100)
	v.SetDefault("processor.max_images", 10)

	v.SetDefault("index.stale_after_failures", 3)

	v.SetDefault("rank.freshness_horizon", "4320h")
	v.SetDefault("rank.freshness_floor", 0.1)

	v.SetDefault("pagerank.schedule", "@every 30m")
	v.SetDefault("pagerank.damping", 0.85)
	v.SetDefault("pagerank.max_iterations", 50)
	v.SetDefault("pagerank.epsilon", 1e-6)
	v.SetDefault("pagerank.batch_size", 500)

	v.SetDefault("search.default_max_results", 10)
	v.SetDefault("search.max_results_cap", 100)

	v.SetDefault("storage.path", "data/webscout.db")
	v.SetDefault("storage.archive", "none")
	v.SetDefault("storage.local_dir", "data/raw")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.gcs_bucket", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "fetch_log")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.Scheduler.PerDomainConcurrency <= 0 {
		return fmt.Errorf("scheduler.per_domain_concurrency must be > 0")
	}
	if c.Scheduler.GlobalConcurrency < 0 {
		return fmt.Errorf("scheduler.global_concurrency must be >= 0")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0")
	}
	if c.PageRank.Damping <= 0 || c.PageRank.Damping >= 1 {
		return fmt.Errorf("pagerank.damping must be in (0,1)")
	}
	if c.Rank.FreshnessFloor < 0 || c.Rank.FreshnessFloor > 1 {
		return fmt.Errorf("rank.freshness_floor must be in [0,1]")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	switch c.Storage.Archive {
	case "none", "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.archive is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.archive %q", c.Storage.Archive)
	}
	return nil
}

// GlobalConcurrency returns the configured global fetch bound, defaulting to the worker count.
func (c Config) GlobalConcurrency() int {
	if c.Scheduler.GlobalConcurrency > 0 {
		return c.Scheduler.GlobalConcurrency
	}
	return c.Crawl.Workers
}
