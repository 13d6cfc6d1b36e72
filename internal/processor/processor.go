// Package processor turns fetched markup into ProcessedPage values.
//
// Extraction is best effort: malformed HTML is parsed as far as the parser gets and
// only a page with no usable text is skipped.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RadhiFadlillah/whatlanggo"
	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/hash/sha256"
	"github.com/JakeFAU/webscout/internal/index"
)

// SkipReason explains why a fetched page produced nothing to index.
type SkipReason string

// Skip reasons.
const (
	SkipNone      SkipReason = ""
	SkipHTTPError SkipReason = "http_error"
	SkipNotHTML   SkipReason = "not_html"
	SkipEmpty     SkipReason = "empty"
	SkipDuplicate SkipReason = "duplicate"
)

// minReadableChars is the shortest readability extraction preferred over body text.
const minReadableChars = 140

// PageGetter reads the stored record for a URL.
type PageGetter interface {
	Get(ctx context.Context, url string) (crawler.Page, error)
}

// Config bounds per-page extraction.
type Config struct {
	MaxTextChars int
	MaxLinks     int
	MaxImages    int
}

// Processor extracts content, links and images from fetched pages.
type Processor struct {
	cfg    Config
	pages  PageGetter
	clock  crawler.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New builds a Processor. pages may be nil, in which case no duplicate check is made.
func New(cfg Config, pages PageGetter, clk crawler.Clock, logger *zap.Logger) *Processor {
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 10000
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 100
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, pages: pages, clock: clk, hasher: sha256.New(), logger: logger}
}

// Process extracts res and reports SkipDuplicate when the stored page for rawURL
// already has the same content hash, title and description.
func (p *Processor) Process(ctx context.Context, rawURL string, res crawler.FetchResult) (crawler.ProcessedPage, SkipReason, error) {
	page, reason, err := p.Extract(ctx, rawURL, res)
	if err != nil || reason != SkipNone || p.pages == nil {
		return page, reason, err
	}
	prev, err := p.pages.Get(ctx, page.URL)
	switch {
	case errors.Is(err, index.ErrNotFound):
		return page, SkipNone, nil
	case err != nil:
		return page, SkipNone, fmt.Errorf("load stored page: %w", err)
	}
	if prev.ContentHash == page.ContentHash && prev.Title == page.Title && prev.Description == page.Description {
		return page, SkipDuplicate, nil
	}
	return page, SkipNone, nil
}

// Extract runs every extraction step without consulting stored pages.
func (p *Processor) Extract(ctx context.Context, rawURL string, res crawler.FetchResult) (crawler.ProcessedPage, SkipReason, error) {
	if err := ctx.Err(); err != nil {
		return crawler.ProcessedPage{}, SkipNone, err
	}
	pageURL, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.ProcessedPage{}, SkipNone, fmt.Errorf("process %s: %w: %w", rawURL, crawler.ErrParse, err)
	}
	out := crawler.ProcessedPage{
		URL:           pageURL,
		Domain:        crawler.Domain(pageURL),
		StatusCode:    res.StatusCode,
		ContentLength: len(res.Body),
		Markup:        res.Body,
	}
	if lm := res.Headers.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			out.LastModified = &t
		}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return out, SkipHTTPError, nil
	}
	if !isHTML(res) {
		return out, SkipNotHTML, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		p.logger.Debug("markup unparseable", zap.String("url", pageURL), zap.Error(err))
		return out, SkipNone, fmt.Errorf("process %s: %w: %w", pageURL, crawler.ErrParse, err)
	}

	resolveFrom := pageURL
	if res.FinalURL != "" {
		resolveFrom = res.FinalURL
	}
	parsed, err := url.Parse(resolveFrom)
	if err != nil {
		parsed, _ = url.Parse(pageURL)
	}
	base := baseURL(doc, parsed)
	now := p.clock.Now().UTC()

	out.Title = extractTitle(doc)
	out.Description = extractDescription(doc)
	out.Byline = extractAuthor(doc)
	out.Signals = extractSignals(doc)
	out.Links = extractLinks(doc, base, pageURL, out.Domain, p.cfg.MaxLinks, now)
	out.Images = extractImages(doc, base, pageURL, p.cfg.MaxImages, now)

	text := p.mainText(doc, parsed, res.Body, &out)
	out.Text = truncateRunes(text, p.cfg.MaxTextChars)
	if strings.TrimSpace(out.Text) == "" {
		return out, SkipEmpty, nil
	}

	out.ContentHash = p.hasher.SumString(collapseSpace(out.Text))
	out.Language = detectLanguage(out.Signals.DeclaredLanguage, out.Text)
	return out, SkipNone, nil
}

// mainText prefers an explicit main-content block, then readability, then the body.
func (p *Processor) mainText(doc *goquery.Document, pageURL *url.URL, body []byte, out *crawler.ProcessedPage) string {
	if hasMainBlock(doc) {
		return domText(doc, true)
	}
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		text := normalizeText(article.TextContent)
		if len(text) >= minReadableChars {
			if out.Byline == "" {
				out.Byline = collapseSpace(article.Byline)
			}
			if out.Title == "" {
				out.Title = collapseSpace(article.Title)
			}
			return text
		}
	} else {
		p.logger.Debug("readability failed; using body text", zap.String("url", out.URL), zap.Error(err))
	}
	return domText(doc, false)
}

func isHTML(res crawler.FetchResult) bool {
	ct := strings.ToLower(res.ContentTypeHeader())
	if ct == "" {
		ct = strings.ToLower(http.DetectContentType(res.Body))
	}
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// detectLanguage trusts the declared html lang, otherwise a reliable statistical guess.
func detectLanguage(declared, text string) string {
	if declared != "" {
		return declared
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
