package crawler

import "testing"

func TestDomainPatterns(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		m := NewDomainMatcher([]string{"example.org"})
		if !m.Matches("example.org") {
			t.Fatalf("expected example.org to match")
		}
		if m.Matches("sub.example.org") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		m := NewDomainMatcher([]string{"*.ru", ".gov.uk"})
		cases := []struct {
			host  string
			match bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"EXAMPLE.RU", true},
			{"www.gov.uk", true},
			{"example.com", false},
			{"", false},
		}
		for _, tc := range cases {
			if got := m.Matches(tc.host); got != tc.match {
				t.Fatalf("host %q match=%v, want %v", tc.host, got, tc.match)
			}
		}
	})

	t.Run("empty list", func(t *testing.T) {
		m := NewDomainMatcher([]string{" ", ""})
		if m.Matches("anything") {
			t.Fatalf("empty matcher should never match")
		}
		var zero DomainMatcher
		if zero.Matches("anything") {
			t.Fatalf("zero matcher should never match")
		}
	})
}

func TestSeedDomainPatterns(t *testing.T) {
	got := SeedDomainPatterns([]string{"https://www.bbc.com/news", "https://github.com", ""})
	want := []string{"*.bbc.com", "*.github.com"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	m := NewDomainMatcher(got)
	if !m.Matches("github.com") || !m.Matches("news.bbc.com") {
		t.Fatalf("seed patterns should cover the bare host and its subdomains")
	}
}
