package classify

import (
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
)

// keywords is a case-insensitive substring matcher over a fixed dictionary.
type keywords struct {
	// Match keeps per-call bookkeeping inside the matcher, so calls are serialized.
	mu      sync.Mutex
	matcher *ahocorasick.Matcher
	size    int
}

func newKeywords(words ...string) *keywords {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			lowered = append(lowered, w)
		}
	}
	return &keywords{matcher: ahocorasick.NewStringMatcher(lowered), size: len(lowered)}
}

// in reports whether any dictionary word occurs in text.
func (k *keywords) in(text string) bool {
	return k.count(text) > 0
}

// count returns how many distinct dictionary words occur in text.
func (k *keywords) count(text string) int {
	if text == "" || k.size == 0 {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.matcher.Match([]byte(strings.ToLower(text))))
}
