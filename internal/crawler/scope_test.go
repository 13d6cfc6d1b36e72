package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopePriority(t *testing.T) {
	t.Parallel()

	s := NewScope(ScopeConfig{DenyDomains: []string{"*.spam.example"}})

	p, ok := s.Priority("example.com", "example.com")
	require.True(t, ok)
	require.Equal(t, PriorityInternal, p)

	p, ok = s.Priority("example.com", "en.wikipedia.org")
	require.True(t, ok)
	require.Equal(t, PriorityExternal, p)

	_, ok = s.Priority("example.com", "random.example")
	require.False(t, ok, "unlisted external domains are not followed")

	_, ok = s.Priority("ads.spam.example", "ads.spam.example")
	require.False(t, ok, "denied domains lose even internal links")

	_, ok = s.Priority("example.com", "")
	require.False(t, ok)
}

func TestScopeAllowList(t *testing.T) {
	t.Parallel()

	s := NewScope(ScopeConfig{AllowDomains: []string{"*.example.com"}, ValuableDomains: []string{}})

	require.False(t, s.IsDenied("docs.example.com"))
	require.True(t, s.IsDenied("github.com"))
	require.False(t, s.IsValuable("github.com"), "an explicit empty list replaces the defaults")
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTP://Example.COM":               "http://example.com/",
		"https://example.com:443/a#frag":   "https://example.com/a",
		"http://example.com:80/?b=2&a=1":   "http://example.com/?a=1&b=2",
		"  https://example.com:8443/x  ":   "https://example.com:8443/x",
		"https://example.com/path?q=a+b#x": "https://example.com/path?q=a+b",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"ftp://example.com/", "mailto:a@example.com", "https://", "/relative"} {
		_, err := NormalizeURL(bad)
		require.Error(t, err, bad)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/docs/page")
	require.NoError(t, err)

	got, err := ResolveURL(base, "../other#top")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/other", got)

	for _, href := range []string{"", "#section", "javascript:void(0)", "mailto:x@example.com", "tel:123"} {
		_, err := ResolveURL(base, href)
		require.Error(t, err, href)
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Domain("https://Example.com:8080/x"))
	require.Equal(t, "example.com", Domain("example.com"))
}

func TestClassifyFailures(t *testing.T) {
	t.Parallel()

	require.Equal(t, Transient, Classify(NewStatusError(http.StatusServiceUnavailable)))
	require.Equal(t, Transient, Classify(NewStatusError(http.StatusTooManyRequests)))
	require.Equal(t, Permanent, Classify(NewStatusError(http.StatusNotFound)))
	require.Equal(t, Transient, Classify(NewNetworkError(context.DeadlineExceeded)))
	require.Equal(t, Permanent, Classify(fmt.Errorf("robots: %w", ErrDisallowed)))
	require.Equal(t, Permanent, Classify(ErrParse))
	require.Equal(t, Transient, Classify(errors.New("connection reset")))
	require.Equal(t, FailureKind(0), Classify(nil))

	err := NewNetworkError(context.DeadlineExceeded)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, NewStatusError(404).Error(), "http 404")
	require.Equal(t, "permanent", Permanent.String())
}
