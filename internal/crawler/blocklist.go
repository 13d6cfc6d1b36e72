package crawler

import "strings"

// domainPatterns stores exact hosts and suffix wildcards derived from configuration.
type domainPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainPatterns(patterns []string) *domainPatterns {
	matcher := &domainPatterns{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			suffix := strings.TrimPrefix(value, "*.")
			if suffix != "" {
				matcher.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			suffix := strings.TrimPrefix(value, ".")
			if suffix != "" {
				matcher.addSuffix(suffix)
			}
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (b *domainPatterns) addSuffix(suffix string) {
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Matches reports whether host equals an exact entry or falls under a suffix wildcard.
func (b *domainPatterns) Matches(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// DomainMatcher is a compiled list of exact hosts and "*.suffix" wildcards.
type DomainMatcher struct {
	patterns *domainPatterns
}

// NewDomainMatcher compiles patterns. An empty list matches nothing.
func NewDomainMatcher(patterns []string) DomainMatcher {
	return DomainMatcher{patterns: newDomainPatterns(patterns)}
}

// Matches reports whether host is covered by the list.
func (m DomainMatcher) Matches(host string) bool {
	return m.patterns.Matches(host)
}

// SeedDomainPatterns turns seed URLs into wildcard patterns covering each seed's site,
// so https://www.bbc.com/news yields *.bbc.com.
func SeedDomainPatterns(seeds []string) []string {
	out := make([]string, 0, len(seeds))
	for _, s := range seeds {
		host := strings.TrimPrefix(Domain(s), "www.")
		if host != "" {
			out = append(out, "*."+host)
		}
	}
	return out
}
