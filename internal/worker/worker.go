// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/hash/sha256"
	"github.com/JakeFAU/webscout/internal/index"
	"github.com/JakeFAU/webscout/internal/metrics"
	"github.com/JakeFAU/webscout/internal/processor"
	"github.com/JakeFAU/webscout/internal/quality"
	"github.com/JakeFAU/webscout/internal/scheduler"
)

// Fetch log outcomes.
const (
	OutcomeIndexed    = "indexed"
	OutcomeUnchanged  = "unchanged"
	OutcomeSkipped    = "skipped"
	OutcomeDisallowed = "disallowed"
	OutcomeHTTPError  = "http_error"
	OutcomeError      = "error"
)

// Frontier is the scheduler surface a worker uses.
type Frontier interface {
	Next(ctx context.Context) (crawler.CrawlTask, error)
	Enqueue(ctx context.Context, url string, priority int) (bool, error)
	Complete(ctx context.Context, task crawler.CrawlTask, fetchErr error) error
}

// Processor extracts a fetched page. Extract skips the unchanged-content check.
type Processor interface {
	Process(ctx context.Context, url string, res crawler.FetchResult) (crawler.ProcessedPage, processor.SkipReason, error)
	Extract(ctx context.Context, url string, res crawler.FetchResult) (crawler.ProcessedPage, processor.SkipReason, error)
}

// ErrNoArchive is returned by Reprocess for pages without archived markup.
var ErrNoArchive = errors.New("no archived markup")

// Classifier labels a processed page.
type Classifier interface {
	Classify(page crawler.ProcessedPage) crawler.ContentType
}

// Index is the write side of the index store.
type Index interface {
	Upsert(ctx context.Context, page crawler.Page, fields index.TextFields, images []crawler.Image) error
	Touch(ctx context.Context, url string, at time.Time) error
	RecordFailure(ctx context.Context, url string) (bool, error)
	CountByDomain(ctx context.Context, domain string) (int, error)
}

// LinkGraph records discovered edges.
type LinkGraph interface {
	AddEdges(ctx context.Context, from string, links []crawler.Link) (int, error)
}

// Config controls Worker behavior.
type Config struct {
	// MaxPagesPerDomain stops enqueueing links into a domain once it has this many pages.
	MaxPagesPerDomain int
	// ArchivePrefix is prepended to raw markup object paths.
	ArchivePrefix string
	// ContentType is recorded on archived markup objects.
	ContentType string
	// DrainTimeout bounds a single pipeline run, including after shutdown begins.
	DrainTimeout time.Duration
}

// Deps are the collaborators a Worker drives. Archive, FetchLog and IDs are optional.
type Deps struct {
	Frontier   Frontier
	Robots     crawler.RobotsPolicy
	Fetcher    crawler.Fetcher
	Processor  Processor
	Classifier Classifier
	Index      Index
	Links      LinkGraph
	Scope      *crawler.Scope
	Archive    crawler.BlobStore
	FetchLog   crawler.FetchLog
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
}

// Worker pulls tasks from the frontier and runs fetch, process and index for each.
type Worker struct {
	deps   Deps
	cfg    Config
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, hasher: sha256.New(), logger: logger}
}

// Run blocks, consuming tasks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.deps.Frontier.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("frontier next failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dispatched task", zap.String("url", task.URL), zap.Int("priority", task.Priority))
		w.Handle(ctx, task)
	}
}

// Handle runs one task to completion and reports its outcome to the frontier. The pipeline
// ignores cancellation of ctx so shutdown drains in-flight work, bounded by DrainTimeout.
func (w *Worker) Handle(ctx context.Context, task crawler.CrawlTask) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.DrainTimeout)
	defer cancel()

	crawlErr := w.crawl(runCtx, task)
	if crawlErr != nil {
		w.logger.Info("crawl failed",
			zap.String("url", task.URL),
			zap.Stringer("kind", crawler.Classify(crawlErr)),
			zap.Int("retry", task.RetryCount),
			zap.Error(crawlErr),
		)
	}
	if err := w.deps.Frontier.Complete(runCtx, task, crawlErr); err != nil {
		w.logger.Error("complete task failed", zap.String("url", task.URL), zap.Error(err))
	}
}

// crawl runs the pipeline and returns the error the scheduler should classify.
func (w *Worker) crawl(ctx context.Context, task crawler.CrawlTask) error {
	start := time.Now()
	rec := crawler.FetchRecord{URL: task.URL, Domain: task.Domain, FetchedAt: w.deps.Clock.Now().UTC()}
	defer func() {
		rec.Elapsed = time.Since(start)
		w.recordFetch(ctx, rec)
	}()

	if w.deps.Robots != nil && !w.deps.Robots.Allowed(ctx, task.URL) {
		metrics.ObserveSkip("robots")
		rec.Outcome = OutcomeDisallowed
		return fmt.Errorf("%s: %w", task.URL, crawler.ErrDisallowed)
	}

	res, err := w.deps.Fetcher.Fetch(ctx, task.URL)
	if err != nil {
		rec.Outcome, rec.ErrorText = OutcomeError, err.Error()
		w.recordFailure(ctx, task.URL)
		return err
	}
	rec.StatusCode, rec.Bytes = res.StatusCode, len(res.Body)

	page, reason, err := w.deps.Processor.Process(ctx, task.URL, res)
	if err != nil {
		rec.Outcome, rec.ErrorText = OutcomeError, err.Error()
		return fmt.Errorf("process: %w", err)
	}
	rec.ContentHash = page.ContentHash

	switch reason {
	case processor.SkipNone:
	case processor.SkipHTTPError:
		rec.Outcome = OutcomeHTTPError
		w.recordFailure(ctx, task.URL)
		return crawler.NewStatusError(res.StatusCode)
	case processor.SkipDuplicate:
		metrics.ObserveSkip(string(reason))
		rec.Outcome = OutcomeUnchanged
		if err := w.deps.Index.Touch(ctx, page.URL, w.deps.Clock.Now().UTC()); err != nil {
			return fmt.Errorf("touch: %w", err)
		}
		return nil
	default:
		metrics.ObserveSkip(string(reason))
		rec.Outcome = OutcomeSkipped
		w.logger.Debug("page skipped", zap.String("url", task.URL), zap.String("reason", string(reason)))
		return nil
	}

	if err := w.index(ctx, page, w.deps.Clock.Now().UTC(), ""); err != nil {
		rec.Outcome, rec.ErrorText = OutcomeError, err.Error()
		return err
	}
	rec.Outcome = OutcomeIndexed
	w.follow(ctx, page)
	return nil
}

// index classifies, scores and writes page. An empty rawURI archives the markup first.
func (w *Worker) index(ctx context.Context, page crawler.ProcessedPage, crawledAt time.Time, rawURI string) error {
	contentType := w.deps.Classifier.Classify(page)
	record := crawler.Page{
		URL:           page.URL,
		Domain:        page.Domain,
		Title:         page.Title,
		Text:          page.Text,
		Description:   page.Description,
		ContentHash:   page.ContentHash,
		ContentType:   contentType,
		Language:      page.Language,
		CrawledAt:     crawledAt,
		LastModified:  page.LastModified,
		QualityScore:  quality.Score(page),
		StatusCode:    page.StatusCode,
		ContentLength: page.ContentLength,
	}
	record.RawMarkupURI = rawURI
	if rawURI == "" {
		record.RawMarkupURI = w.archive(ctx, page)
	}

	fields := index.TextFields{Title: page.Title, Content: page.Text}
	if err := w.deps.Index.Upsert(ctx, record, fields, page.Images); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	metrics.ObserveIndexed(string(contentType))
	w.logger.Debug("page indexed",
		zap.String("url", page.URL),
		zap.String("content_type", string(contentType)),
		zap.Float64("quality", record.QualityScore),
		zap.Int("links", len(page.Links)),
	)
	return nil
}

// Reprocess re-runs extraction, classification and scoring over a page's archived markup
// without fetching it again. The page keeps its crawl time and archive URI. It returns
// false when the markup no longer yields an indexable page.
func (w *Worker) Reprocess(ctx context.Context, stored crawler.Page) (bool, error) {
	if w.deps.Archive == nil || stored.RawMarkupURI == "" {
		return false, fmt.Errorf("%s: %w", stored.URL, ErrNoArchive)
	}
	markup, err := w.deps.Archive.GetObject(ctx, stored.RawMarkupURI)
	if err != nil {
		return false, fmt.Errorf("reprocess %s: %w", stored.URL, err)
	}
	status := stored.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	res := crawler.FetchResult{
		URL:        stored.URL,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{w.cfg.ContentType}},
		Body:       markup,
	}
	page, reason, err := w.deps.Processor.Extract(ctx, stored.URL, res)
	if err != nil {
		return false, fmt.Errorf("reprocess %s: %w", stored.URL, err)
	}
	if reason != processor.SkipNone {
		w.logger.Debug("reprocess skipped", zap.String("url", stored.URL), zap.String("reason", string(reason)))
		return false, nil
	}
	if err := w.index(ctx, page, stored.CrawledAt, stored.RawMarkupURI); err != nil {
		return false, fmt.Errorf("reprocess %s: %w", stored.URL, err)
	}
	return true, nil
}

// archive stores raw markup for later re-processing. Failures are logged, not fatal.
func (w *Worker) archive(ctx context.Context, page crawler.ProcessedPage) string {
	if w.deps.Archive == nil || len(page.Markup) == 0 {
		return ""
	}
	uri, err := w.deps.Archive.PutObject(ctx, w.archivePath(page), w.cfg.ContentType, bytes.NewReader(page.Markup))
	if err != nil {
		w.logger.Warn("archive markup failed", zap.String("url", page.URL), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) archivePath(page crawler.ProcessedPage) string {
	name := w.hasher.SumString(page.URL) + ".html"
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", page.Domain, name)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, page.Domain, name)
}

// follow records every outbound edge and enqueues the in-scope ones. Domains at their
// page cap keep their edges but get no new tasks.
func (w *Worker) follow(ctx context.Context, page crawler.ProcessedPage) {
	if len(page.Links) == 0 {
		return
	}
	if w.deps.Links != nil {
		if _, err := w.deps.Links.AddEdges(ctx, page.URL, page.Links); err != nil {
			w.logger.Warn("record links failed", zap.String("url", page.URL), zap.Error(err))
		}
	}
	if w.deps.Scope == nil {
		return
	}

	capped := make(map[string]bool)
	enqueued := 0
	for _, link := range page.Links {
		target := crawler.Domain(link.To)
		priority, ok := w.deps.Scope.Priority(page.Domain, target)
		if !ok {
			continue
		}
		full, seen := capped[target]
		if !seen {
			full = w.atCap(ctx, target)
			capped[target] = full
		}
		if full {
			metrics.ObserveSkip("domain_cap")
			continue
		}
		added, err := w.deps.Frontier.Enqueue(ctx, link.To, priority)
		if errors.Is(err, scheduler.ErrFrontierFull) {
			w.logger.Warn("frontier full; dropping remaining links", zap.String("url", page.URL))
			break
		}
		if err != nil {
			w.logger.Debug("enqueue failed", zap.String("link", link.To), zap.Error(err))
			continue
		}
		if added {
			enqueued++
		}
	}
	w.logger.Debug("links followed", zap.String("url", page.URL), zap.Int("enqueued", enqueued))
}

func (w *Worker) atCap(ctx context.Context, domain string) bool {
	if w.cfg.MaxPagesPerDomain <= 0 {
		return false
	}
	n, err := w.deps.Index.CountByDomain(ctx, domain)
	if err != nil {
		w.logger.Warn("count domain pages failed", zap.String("domain", domain), zap.Error(err))
		return false
	}
	return n >= w.cfg.MaxPagesPerDomain
}

func (w *Worker) recordFailure(ctx context.Context, url string) {
	stale, err := w.deps.Index.RecordFailure(ctx, url)
	switch {
	case errors.Is(err, index.ErrNotFound):
	case err != nil:
		w.logger.Warn("record page failure", zap.String("url", url), zap.Error(err))
	case stale:
		w.logger.Info("page marked stale", zap.String("url", url))
	}
}

func (w *Worker) recordFetch(ctx context.Context, rec crawler.FetchRecord) {
	if w.deps.FetchLog == nil {
		return
	}
	if w.deps.IDs != nil {
		id, err := w.deps.IDs.NewID()
		if err != nil {
			w.logger.Warn("generate fetch id", zap.Error(err))
			return
		}
		rec.ID = id
	}
	if err := w.deps.FetchLog.RecordFetch(ctx, rec); err != nil {
		w.logger.Warn("record fetch failed", zap.String("url", rec.URL), zap.Error(err))
	}
}
