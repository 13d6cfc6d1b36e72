// Package search answers ranked queries against the local index.
//
// A query moves through Parsed, CandidatesFetched, Ranked and Paginated before it is
// returned. Multi-term queries take the union of each term's postings. No query touches
// the network.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/index"
	"github.com/JakeFAU/webscout/internal/metrics"
	"github.com/JakeFAU/webscout/internal/rank"
)

var (
	// ErrEmptyQuery means no searchable terms remained after tokenization.
	ErrEmptyQuery = errors.New("empty query")
	// ErrEmptyDomain means a domain-scoped search named no domain.
	ErrEmptyDomain = errors.New("empty domain")
	// ErrInvalidSearchType means the requested search type is not web, news or image.
	ErrInvalidSearchType = errors.New("invalid search type")
)

// Type selects which results a search returns.
type Type string

// Search types.
const (
	TypeWeb   Type = "web"
	TypeNews  Type = "news"
	TypeImage Type = "image"
)

// ParseType validates a search type; the empty string means web.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeWeb:
		return TypeWeb, nil
	case TypeNews:
		return TypeNews, nil
	case TypeImage:
		return TypeImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSearchType, s)
	}
}

// DefaultNewsDomains back news searches when no page is classified news.
var DefaultNewsDomains = []string{
	"*.bbc.com", "*.bbc.co.uk", "*.reuters.com", "*.theguardian.com", "*.cnn.com",
	"*.nytimes.com", "*.apnews.com", "*.npr.org", "news.ycombinator.com",
}

// Index is the read side of the index store.
type Index interface {
	LookupTerms(ctx context.Context, terms []string) (map[string][]index.Hit, error)
	SearchImages(ctx context.Context, terms []string, limit int) ([]index.ImageHit, error)
	Stats(ctx context.Context) (index.Stats, error)
}

// QueueStats reports crawl task counts.
type QueueStats interface {
	Stats() map[crawler.TaskStatus]int
}

// Config bounds result sizes.
type Config struct {
	DefaultMaxResults int
	MaxResultsCap     int
	NewsDomains       []string
}

// Request is one search.
type Request struct {
	Query      string
	MaxResults int
	Offset     int
	Type       Type
	// Domain, when set, restricts results to pages on exactly this host.
	Domain string
}

// Result is one ranked hit.
type Result struct {
	URL         string              `json:"url"`
	Title       string              `json:"title"`
	Snippet     string              `json:"snippet"`
	Score       float64             `json:"score"`
	ContentType crawler.ContentType `json:"content_type"`
	Domain      string              `json:"domain,omitempty"`
	PageURL     string              `json:"page_url,omitempty"`
	CrawledAt   *time.Time          `json:"crawled_at,omitempty"`
}

// Response is the ordered result page plus the total match count.
type Response struct {
	Query        string   `json:"query"`
	Type         Type     `json:"search_type"`
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
}

// Statistics summarizes the index and crawl queue.
type Statistics struct {
	TotalPages    int            `json:"total_pages"`
	TotalDomains  int            `json:"total_domains"`
	TotalImages   int            `json:"total_images"`
	StalePages    int            `json:"stale_pages"`
	PagesByType   map[string]int `json:"pages_by_type"`
	QueueByStatus map[string]int `json:"queue_by_status"`
}

// Engine orchestrates candidate retrieval, ranking and pagination.
type Engine struct {
	cfg    Config
	index  Index
	ranker *rank.Ranker
	queue  QueueStats
	news   crawler.DomainMatcher
	logger *zap.Logger
}

// New builds an Engine. queue may be nil when no crawler runs in-process.
func New(cfg Config, idx Index, ranker *rank.Ranker, queue QueueStats, logger *zap.Logger) *Engine {
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 10
	}
	if cfg.MaxResultsCap <= 0 {
		cfg.MaxResultsCap = 100
	}
	if cfg.NewsDomains == nil {
		cfg.NewsDomains = DefaultNewsDomains
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		index:  idx,
		ranker: ranker,
		queue:  queue,
		news:   crawler.NewDomainMatcher(cfg.NewsDomains),
		logger: logger,
	}
}

// parsed is a validated request.
type parsed struct {
	req   Request
	terms []string
	limit int
}

// Search runs req and returns at most MaxResults results starting at Offset.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := e.search(ctx, req)
	metrics.ObserveSearch(string(resp.Type), outcome(err), time.Since(start))
	return resp, err
}

// SearchDomain is Search restricted to pages whose domain equals domain.
func (e *Engine) SearchDomain(ctx context.Context, domain, query string, maxResults int) (Response, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return Response{Query: query, Type: TypeWeb, Results: []Result{}}, ErrEmptyDomain
	}
	return e.Search(ctx, Request{Query: query, MaxResults: maxResults, Type: TypeWeb, Domain: domain})
}

func (e *Engine) search(ctx context.Context, req Request) (Response, error) {
	p, err := e.parse(req)
	resp := Response{Query: req.Query, Type: p.req.Type, Results: []Result{}}
	if err != nil {
		return resp, err
	}

	if p.req.Type == TypeImage {
		return e.searchImages(ctx, p, resp)
	}

	candidates, err := e.candidates(ctx, p)
	if err != nil {
		return resp, err
	}
	ranked := e.ranker.Rank(p.terms, candidates)
	resp.TotalResults = len(ranked)

	for _, s := range paginate(ranked, p.req.Offset, p.limit) {
		crawled := s.Page.CrawledAt
		resp.Results = append(resp.Results, Result{
			URL:         s.Page.URL,
			Title:       s.Page.Title,
			Snippet:     Snippet(s.Page.Text, p.terms),
			Score:       s.Score,
			ContentType: s.Page.ContentType,
			Domain:      s.Page.Domain,
			CrawledAt:   &crawled,
		})
	}
	e.logger.Debug("search complete",
		zap.String("query", req.Query),
		zap.String("type", string(p.req.Type)),
		zap.Int("total", resp.TotalResults),
		zap.Int("returned", len(resp.Results)),
	)
	return resp, nil
}

func (e *Engine) parse(req Request) (parsed, error) {
	typ, err := ParseType(string(req.Type))
	if err != nil {
		req.Type = ""
		return parsed{req: req}, err
	}
	req.Type = typ
	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	if req.Offset < 0 {
		req.Offset = 0
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = e.cfg.DefaultMaxResults
	}
	if limit > e.cfg.MaxResultsCap {
		limit = e.cfg.MaxResultsCap
	}
	terms := index.UniqueTerms(req.Query)
	if len(terms) == 0 {
		return parsed{req: req}, ErrEmptyQuery
	}
	return parsed{req: req, terms: terms, limit: limit}, nil
}

// candidates unions every term's postings, dropping stale pages and pages outside the
// requested domain and content type.
func (e *Engine) candidates(ctx context.Context, p parsed) ([]rank.Candidate, error) {
	byURL := make(map[string]*rank.Candidate)
	var order []string
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	byTerm, err := e.index.LookupTerms(ctx, p.terms)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	for _, term := range p.terms {
		for _, h := range byTerm[term] {
			if h.Page.Stale {
				continue
			}
			if p.req.Domain != "" && !strings.EqualFold(h.Page.Domain, p.req.Domain) {
				continue
			}
			c, ok := byURL[h.Page.URL]
			if !ok {
				c = &rank.Candidate{Page: h.Page, Terms: make(map[string]int, len(p.terms))}
				byURL[h.Page.URL] = c
				order = append(order, h.Page.URL)
			}
			c.Terms[term] = h.Frequency
		}
	}

	all := make([]rank.Candidate, 0, len(order))
	for _, url := range order {
		all = append(all, *byURL[url])
	}
	if p.req.Type != TypeNews {
		return all, nil
	}

	var news, fallback []rank.Candidate
	for _, c := range all {
		if c.Page.ContentType == crawler.ContentNews {
			news = append(news, c)
		} else if e.news.Matches(c.Page.Domain) {
			fallback = append(fallback, c)
		}
	}
	if len(news) > 0 {
		return news, nil
	}
	return fallback, nil
}

func (e *Engine) searchImages(ctx context.Context, p parsed, resp Response) (Response, error) {
	hits, err := e.index.SearchImages(ctx, p.terms, 0)
	if err != nil {
		return resp, fmt.Errorf("fetch image candidates: %w", err)
	}
	if p.req.Domain != "" {
		kept := hits[:0]
		for _, h := range hits {
			if strings.EqualFold(h.Domain, p.req.Domain) {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	resp.TotalResults = len(hits)
	for _, h := range paginate(hits, p.req.Offset, p.limit) {
		title := h.Image.AltText
		if title == "" {
			title = h.Image.Title
		}
		if title == "" {
			title = h.PageTitle
		}
		resp.Results = append(resp.Results, Result{
			URL:         h.Image.URL,
			Title:       title,
			Snippet:     h.PageTitle,
			Score:       float64(h.Matches) / float64(len(p.terms)),
			ContentType: "image",
			Domain:      h.Domain,
			PageURL:     h.Image.PageURL,
		})
	}
	return resp, nil
}

// Statistics reports index totals and crawl queue counts.
func (e *Engine) Statistics(ctx context.Context) (Statistics, error) {
	st, err := e.index.Stats(ctx)
	if err != nil {
		return Statistics{}, err
	}
	out := Statistics{
		TotalPages:    st.TotalPages,
		TotalDomains:  st.TotalDomains,
		TotalImages:   st.TotalImages,
		StalePages:    st.StalePages,
		PagesByType:   make(map[string]int, len(st.PagesByType)),
		QueueByStatus: map[string]int{},
	}
	for typ, n := range st.PagesByType {
		out.PagesByType[string(typ)] = n
	}
	if e.queue != nil {
		for status, n := range e.queue.Stats() {
			out.QueueByStatus[string(status)] = n
		}
	}
	return out, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, ErrEmptyDomain):
		return "empty_domain"
	case errors.Is(err, ErrInvalidSearchType):
		return "invalid_type"
	default:
		return "error"
	}
}
