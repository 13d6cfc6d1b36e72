// Package ratelimit implements token bucket limits for outbound fetches.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webscout/internal/metrics"
)

// Limiter bounds the overall fetch rate and, optionally, the rate per host.
type Limiter struct {
	global *rate.Limiter

	mu        sync.Mutex
	hosts     map[string]*rate.Limiter
	hostRate  rate.Limit
	hostBurst int
}

// Config holds rate limiter configuration. Non-positive rates mean unlimited.
type Config struct {
	GlobalRPS   float64
	GlobalBurst int
	HostRPS     float64
	HostBurst   int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		global:    rate.NewLimiter(limitFor(cfg.GlobalRPS), burstFor(cfg.GlobalBurst)),
		hosts:     make(map[string]*rate.Limiter),
		hostRate:  limitFor(cfg.HostRPS),
		hostBurst: burstFor(cfg.HostBurst),
	}
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burstFor(burst int) int {
	if burst <= 0 {
		return 1
	}
	return burst
}

// Wait blocks until both the global bucket and the host bucket for rawURL yield a token.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	start := time.Now()
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.hostRate != rate.Inf {
		if err := l.hostLimiter(hostOf(rawURL)).Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	// Token available immediately means no measurable delay.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}
	return nil
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.hosts[host]
	if !ok {
		limiter = rate.NewLimiter(l.hostRate, l.hostBurst)
		l.hosts[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
