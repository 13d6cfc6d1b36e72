package crawler

import "strings"

// Link priorities used when discovered URLs are admitted to the frontier.
const (
	PrioritySeed     = 10
	PriorityInternal = 5
	PriorityExternal = 3
	PriorityRecrawl  = 1
)

// DefaultSeedURLs are the high-authority starting points loaded on first startup.
var DefaultSeedURLs = []string{
	"https://en.wikipedia.org/wiki/Main_Page",
	"https://www.bbc.com/news",
	"https://www.reuters.com",
	"https://www.theguardian.com",
	"https://stackoverflow.com",
	"https://github.com",
	"https://www.mit.edu",
	"https://www.stanford.edu",
	"https://www.harvard.edu",
	"https://docs.python.org",
	"https://developer.mozilla.org",
	"https://www.w3.org",
	"https://www.dictionary.com",
	"https://www.merriam-webster.com",
}

// DefaultValuableDomains are external domains worth following from other sites.
var DefaultValuableDomains = []string{
	"*.wikipedia.org",
	"github.com",
	"stackoverflow.com",
	"medium.com",
	"*.bbc.com",
	"*.reuters.com",
	"*.theguardian.com",
	"news.ycombinator.com",
	"arxiv.org",
	"scholar.google.com",
	"*.jstor.org",
}

// ScopeConfig lists the domain patterns that shape the crawl.
type ScopeConfig struct {
	// AllowDomains, when non-empty, restricts enqueueing to matching hosts.
	AllowDomains []string
	// DenyDomains are never enqueued.
	DenyDomains []string
	// ValuableDomains are followed even when discovered on another site.
	ValuableDomains []string
}

// Scope decides which discovered links enter the frontier.
type Scope struct {
	allow    *domainPatterns
	deny     *domainPatterns
	valuable *domainPatterns
}

// NewScope compiles the configured patterns.
func NewScope(cfg ScopeConfig) *Scope {
	valuable := cfg.ValuableDomains
	if valuable == nil {
		valuable = DefaultValuableDomains
	}
	return &Scope{
		allow:    newDomainPatterns(cfg.AllowDomains),
		deny:     newDomainPatterns(cfg.DenyDomains),
		valuable: newDomainPatterns(valuable),
	}
}

// IsValuable reports whether host is on the valuable-domain list.
func (s *Scope) IsValuable(host string) bool {
	return s.valuable.Matches(host)
}

// IsDenied reports whether host is blocked outright.
func (s *Scope) IsDenied(host string) bool {
	if s.deny.Matches(host) {
		return true
	}
	return s.allow != nil && !s.allow.Matches(host)
}

// Priority returns the enqueue priority for a link from fromDomain to toDomain,
// or ok=false when the link is outside the crawl scope.
func (s *Scope) Priority(fromDomain, toDomain string) (priority int, ok bool) {
	if toDomain == "" || s.IsDenied(toDomain) {
		return 0, false
	}
	if strings.EqualFold(fromDomain, toDomain) {
		return PriorityInternal, true
	}
	if s.IsValuable(toDomain) {
		return PriorityExternal, true
	}
	return 0, false
}
