// Package rank orders candidate pages for a query with a fixed weighted score.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/index"
)

// Signal weights. They sum to 1.0.
const (
	WeightText      = 0.35
	WeightTitle     = 0.25
	WeightPageScore = 0.15
	WeightFreshness = 0.10
	WeightQuality   = 0.10
	WeightAuthority = 0.05
)

// Domain authority tiers.
const (
	AuthoritySeed     = 1.0
	AuthorityValuable = 0.8
	AuthorityEduGov   = 0.7
	AuthorityOrg      = 0.5
	AuthorityDefault  = 0.3
)

// Config tunes freshness decay and the authority lists.
type Config struct {
	FreshnessHorizon time.Duration
	FreshnessFloor   float64
	// SeedDomains and ValuableDomains use the crawl scope pattern syntax.
	SeedDomains     []string
	ValuableDomains []string
}

// Candidate is a page and the frequency of each query term in it.
type Candidate struct {
	Page  crawler.Page
	Terms map[string]int
}

// Breakdown holds each normalized signal.
type Breakdown struct {
	Text      float64
	Title     float64
	PageScore float64
	Freshness float64
	Quality   float64
	Authority float64
}

// Scored is a ranked page.
type Scored struct {
	Page      crawler.Page
	Score     float64
	Breakdown Breakdown
}

// Ranker scores candidates. It is safe for concurrent use.
type Ranker struct {
	cfg      Config
	clock    crawler.Clock
	seeds    crawler.DomainMatcher
	valuable crawler.DomainMatcher
}

// New builds a Ranker.
func New(cfg Config, clk crawler.Clock) *Ranker {
	if cfg.FreshnessHorizon <= 0 {
		cfg.FreshnessHorizon = 180 * 24 * time.Hour
	}
	if cfg.FreshnessFloor < 0 || cfg.FreshnessFloor > 1 {
		cfg.FreshnessFloor = 0.1
	}
	return &Ranker{
		cfg:      cfg,
		clock:    clk,
		seeds:    crawler.NewDomainMatcher(cfg.SeedDomains),
		valuable: crawler.NewDomainMatcher(cfg.ValuableDomains),
	}
}

// Rank scores candidates for the tokenized query and returns them best first.
// Ties break by newer crawl time, then URL, so the order is total.
func (r *Ranker) Rank(queryTerms []string, candidates []Candidate) []Scored {
	now := r.clock.Now()
	qvec := make(map[string]int, len(queryTerms))
	for _, t := range queryTerms {
		qvec[t]++
	}
	var qnorm float64
	for _, n := range qvec {
		qnorm += float64(n * n)
	}
	qnorm = math.Sqrt(qnorm)

	maxPageScore := 0.0
	for _, c := range candidates {
		maxPageScore = math.Max(maxPageScore, c.Page.PageScore)
	}

	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		b := Breakdown{
			Text:      textSimilarity(qvec, qnorm, c),
			Title:     titleMatch(queryTerms, c.Page.Title),
			Freshness: r.freshness(now, c.Page.CrawledAt),
			Quality:   clamp(c.Page.QualityScore),
			Authority: r.Authority(c.Page.Domain),
		}
		if maxPageScore > 0 {
			b.PageScore = c.Page.PageScore / maxPageScore
		}
		out = append(out, Scored{Page: c.Page, Score: b.total(), Breakdown: b})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Page.CrawledAt.Equal(out[j].Page.CrawledAt) {
			return out[i].Page.CrawledAt.After(out[j].Page.CrawledAt)
		}
		return out[i].Page.URL < out[j].Page.URL
	})
	return out
}

func (b Breakdown) total() float64 {
	return b.Text*WeightText +
		b.Title*WeightTitle +
		b.PageScore*WeightPageScore +
		b.Freshness*WeightFreshness +
		b.Quality*WeightQuality +
		b.Authority*WeightAuthority
}

// textSimilarity is the cosine between the query vector and the page's term vector.
func textSimilarity(qvec map[string]int, qnorm float64, c Candidate) float64 {
	if qnorm == 0 || c.Page.TermNorm == 0 {
		return 0
	}
	var dot float64
	for term, qn := range qvec {
		dot += float64(qn * c.Terms[term])
	}
	return clamp(dot / (qnorm * c.Page.TermNorm))
}

// titleMatch is 1 for the exact query phrase, otherwise the share of query terms in the title.
func titleMatch(queryTerms []string, title string) float64 {
	if len(queryTerms) == 0 || title == "" {
		return 0
	}
	titleTerms := index.Tokenize(title)
	if len(titleTerms) == 0 {
		return 0
	}
	phrase := " " + strings.Join(queryTerms, " ") + " "
	if strings.Contains(" "+strings.Join(titleTerms, " ")+" ", phrase) {
		return 1
	}
	inTitle := make(map[string]struct{}, len(titleTerms))
	for _, t := range titleTerms {
		inTitle[t] = struct{}{}
	}
	unique := make(map[string]struct{}, len(queryTerms))
	hits := 0
	for _, t := range queryTerms {
		if _, dup := unique[t]; dup {
			continue
		}
		unique[t] = struct{}{}
		if _, ok := inTitle[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(unique))
}

// freshness decays linearly from 1 to the floor over the horizon.
func (r *Ranker) freshness(now, crawledAt time.Time) float64 {
	if crawledAt.IsZero() {
		return r.cfg.FreshnessFloor
	}
	age := now.Sub(crawledAt)
	if age <= 0 {
		return 1
	}
	if age >= r.cfg.FreshnessHorizon {
		return r.cfg.FreshnessFloor
	}
	frac := float64(age) / float64(r.cfg.FreshnessHorizon)
	return 1 - (1-r.cfg.FreshnessFloor)*frac
}

// Authority scores a domain's general trustworthiness.
func (r *Ranker) Authority(domain string) float64 {
	domain = strings.ToLower(domain)
	switch {
	case r.seeds.Matches(domain):
		return AuthoritySeed
	case r.valuable.Matches(domain):
		return AuthorityValuable
	case strings.HasSuffix(domain, ".edu") || strings.HasSuffix(domain, ".gov"):
		return AuthorityEduGov
	case strings.HasSuffix(domain, ".org"):
		return AuthorityOrg
	default:
		return AuthorityDefault
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
