// Package robots caches robots.txt policies per domain.
package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/webscout/internal/clock"
	"github.com/JakeFAU/webscout/internal/crawler"
)

// Failed lookups are retried sooner than successful ones.
const failureTTL = 15 * time.Minute

// Config tunes the cache.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	TTL          time.Duration
	Size         int
	DefaultDelay time.Duration
	// Ignore makes every URL allowed without fetching robots.txt.
	Ignore bool
}

type entry struct {
	group     *robotstxt.Group
	delay     time.Duration
	fetchedAt time.Time
	ttl       time.Duration
}

// Cache answers robots.txt questions and refreshes entries lazily after their TTL.
type Cache struct {
	cfg     Config
	fetcher crawler.Fetcher
	clock   crawler.Clock
	logger  *zap.Logger
	entries *lru.Cache[string, entry]
	group   singleflight.Group
}

var _ crawler.RobotsPolicy = (*Cache)(nil)

// New builds a Cache that fetches robots.txt through fetcher.
func New(cfg Config, fetcher crawler.Fetcher, clk crawler.Clock, logger *zap.Logger) (*Cache, error) {
	if cfg.Size <= 0 {
		cfg.Size = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := lru.New[string, entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("robots cache: %w", err)
	}
	return &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		clock:   clk,
		logger:  logger,
		entries: entries,
	}, nil
}

// Allowed reports whether the configured user agent may fetch rawURL.
// Unparseable URLs are refused.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	if c.cfg.Ignore {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	e := c.load(ctx, u.Scheme, u.Host)
	if e.group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return e.group.Test(path)
}

// CrawlDelay returns the domain's crawl delay, fetching robots.txt on a miss.
func (c *Cache) CrawlDelay(ctx context.Context, domain string) time.Duration {
	if c.cfg.Ignore {
		return c.cfg.DefaultDelay
	}
	return c.load(ctx, "https", domain).delay
}

// CachedCrawlDelay returns the delay of any cached entry, including an expired one whose
// refresh is still pending. It never blocks.
func (c *Cache) CachedCrawlDelay(domain string) (time.Duration, bool) {
	if c.cfg.Ignore {
		return c.cfg.DefaultDelay, true
	}
	e, ok := c.entries.Peek(strings.ToLower(crawler.Domain(domain)))
	if !ok {
		return 0, false
	}
	return e.delay, true
}

func (c *Cache) lookup(key string) (entry, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return entry{}, false
	}
	if c.clock.Now().Sub(e.fetchedAt) >= e.ttl {
		return entry{}, false
	}
	return e, true
}

func (c *Cache) load(ctx context.Context, scheme, host string) entry {
	key := strings.ToLower(crawler.Domain(host))
	if e, ok := c.lookup(key); ok {
		return e
	}
	if scheme != "http" {
		scheme = "https"
	}
	v, _, _ := c.group.Do(key, func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		e := c.fetch(ctx, scheme, host)
		c.entries.Add(key, e)
		return e, nil
	})
	e, _ := v.(entry)
	return e
}

func (c *Cache) fetch(ctx context.Context, scheme, host string) entry {
	now := c.clock.Now()
	allowAll := entry{delay: c.cfg.DefaultDelay, fetchedAt: now, ttl: min(failureTTL, c.cfg.TTL)}

	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()
	// Callers share this fetch, so one caller cancelling must not fail the others.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	res, err := c.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		c.logger.Debug("robots fetch failed; allowing access", zap.String("host", host), zap.Error(err))
		return allowAll
	}
	if res.StatusCode >= http.StatusInternalServerError {
		c.logger.Debug("robots fetch returned server error; allowing access",
			zap.String("host", host), zap.Int("status", res.StatusCode))
		return allowAll
	}
	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		c.logger.Debug("robots parse failed; allowing access", zap.String("host", host), zap.Error(err))
		return allowAll
	}

	e := entry{delay: c.cfg.DefaultDelay, fetchedAt: now, ttl: c.cfg.TTL}
	e.group = data.FindGroup(c.cfg.UserAgent)
	if e.group != nil && e.group.CrawlDelay > 0 {
		e.delay = e.group.CrawlDelay
	}
	return e
}
