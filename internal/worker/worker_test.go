package worker

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/classify"
	"github.com/JakeFAU/webscout/internal/clock"
	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/index"
	"github.com/JakeFAU/webscout/internal/linkgraph"
	"github.com/JakeFAU/webscout/internal/processor"
	"github.com/JakeFAU/webscout/internal/scheduler"
	"github.com/JakeFAU/webscout/internal/storage"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
	"github.com/JakeFAU/webscout/internal/storage/memory"
)

const pageHTML = `<html lang="en"><head><title>Kettle guide</title></head><body><main>
<h1>Kettles</h1><p>Steel kettles boil water quickly and last for years.</p>
<a href="/kettles/steel">steel</a>
<a href="https://github.com/kettles">code</a>
<a href="https://random.example/">random</a>
<img src="/k.png" alt="kettle photo">
</main></body></html>`

type completion struct {
	task crawler.CrawlTask
	err  error
}

type fakeFrontier struct {
	mu        sync.Mutex
	tasks     chan crawler.CrawlTask
	enqueued  map[string]int
	completed []completion
	full      bool
}

func newFakeFrontier() *fakeFrontier {
	return &fakeFrontier{tasks: make(chan crawler.CrawlTask, 8), enqueued: make(map[string]int)}
}

func (f *fakeFrontier) Next(ctx context.Context) (crawler.CrawlTask, error) {
	select {
	case t := <-f.tasks:
		return t, nil
	case <-ctx.Done():
		return crawler.CrawlTask{}, ctx.Err()
	}
}

func (f *fakeFrontier) Enqueue(_ context.Context, url string, priority int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false, scheduler.ErrFrontierFull
	}
	f.enqueued[url] = priority
	return true, nil
}

func (f *fakeFrontier) Complete(_ context.Context, task crawler.CrawlTask, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completion{task: task, err: err})
	return nil
}

func (f *fakeFrontier) completions() []completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completion(nil), f.completed...)
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]crawler.FetchResult
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return crawler.FetchResult{}, f.err
	}
	if res, ok := f.results[url]; ok {
		return res, nil
	}
	return crawler.FetchResult{URL: url, StatusCode: http.StatusNotFound}, nil
}

type fakeRobots struct{ deny bool }

func (r fakeRobots) Allowed(context.Context, string) bool             { return !r.deny }
func (r fakeRobots) CrawlDelay(context.Context, string) time.Duration { return 0 }

type fakeFetchLog struct {
	mu      sync.Mutex
	records []crawler.FetchRecord
}

func (l *fakeFetchLog) RecordFetch(_ context.Context, rec crawler.FetchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "id-1", nil }

type harness struct {
	worker   *Worker
	frontier *fakeFrontier
	fetcher  *fakeFetcher
	store    *index.Store
	links    *linkgraph.Store
	archive  *memory.BlobStore
	log      *fakeFetchLog
	clock    *clock.Manual
}

func newHarness(t *testing.T, cfg Config, robots crawler.RobotsPolicy) harness {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := index.New(db, index.Config{StaleAfterFailures: 3}, zap.NewNop())
	h := harness{
		frontier: newFakeFrontier(),
		fetcher:  &fakeFetcher{results: map[string]crawler.FetchResult{}},
		store:    store,
		links:    linkgraph.New(db, zap.NewNop()),
		archive:  memory.NewBlobStore(),
		log:      &fakeFetchLog{},
		clock:    clk,
	}
	h.worker = New(Deps{
		Frontier:   h.frontier,
		Robots:     robots,
		Fetcher:    h.fetcher,
		Processor:  processor.New(processor.Config{}, store, clk, zap.NewNop()),
		Classifier: classify.New(),
		Index:      store,
		Links:      h.links,
		Scope:      crawler.NewScope(crawler.ScopeConfig{}),
		Archive:    h.archive,
		FetchLog:   h.log,
		IDs:        fixedIDs{},
		Clock:      clk,
	}, cfg, zap.NewNop())
	return h
}

func (h harness) serve(url, body string, status int) {
	h.fetcher.mu.Lock()
	defer h.fetcher.mu.Unlock()
	h.fetcher.results[url] = crawler.FetchResult{
		URL:        url,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	}
}

func task(url string) crawler.CrawlTask {
	return crawler.CrawlTask{URL: url, Domain: crawler.Domain(url), Priority: crawler.PrioritySeed, Status: crawler.TaskInFlight}
}

func TestHandleIndexesAndFollowsLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ArchivePrefix: "raw"}, fakeRobots{})
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	ctx := context.Background()

	h.worker.Handle(ctx, task("https://example.com/kettles"))

	done := h.frontier.completions()
	require.Len(t, done, 1)
	require.NoError(t, done[0].err)

	page, err := h.store.Get(ctx, "https://example.com/kettles")
	require.NoError(t, err)
	require.Equal(t, "Kettle guide", page.Title)
	require.Equal(t, crawler.ContentWeb, page.ContentType)
	require.Positive(t, page.QualityScore)
	require.Equal(t, 1, page.ImageCount)
	require.True(t, strings.HasPrefix(page.RawMarkupURI, "memory://raw/example.com/"))

	markup, err := h.archive.GetObject(ctx, page.RawMarkupURI)
	require.NoError(t, err)
	require.Equal(t, pageHTML, string(markup))

	require.Equal(t, map[string]int{
		"https://example.com/kettles/steel": crawler.PriorityInternal,
		"https://github.com/kettles":        crawler.PriorityExternal,
	}, h.frontier.enqueued)

	out, err := h.links.Outbound(ctx, "https://example.com/kettles")
	require.NoError(t, err)
	require.Len(t, out, 3, "out-of-scope links are still recorded")

	require.Len(t, h.log.records, 1)
	require.Equal(t, OutcomeIndexed, h.log.records[0].Outcome)
	require.Equal(t, "id-1", h.log.records[0].ID)
	require.Equal(t, http.StatusOK, h.log.records[0].StatusCode)
}

func TestHandleRobotsDisallowedIsPermanent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{deny: true})
	h.worker.Handle(context.Background(), task("https://example.com/private"))

	done := h.frontier.completions()
	require.Len(t, done, 1)
	require.ErrorIs(t, done[0].err, crawler.ErrDisallowed)
	require.Equal(t, crawler.Permanent, crawler.Classify(done[0].err))
	require.Zero(t, h.fetcher.calls)
	require.Equal(t, OutcomeDisallowed, h.log.records[0].Outcome)
}

func TestHandleHTTPStatusClassification(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	h.serve("https://example.com/missing", "", http.StatusNotFound)
	h.serve("https://example.com/busy", "", http.StatusServiceUnavailable)

	h.worker.Handle(context.Background(), task("https://example.com/missing"))
	h.worker.Handle(context.Background(), task("https://example.com/busy"))

	done := h.frontier.completions()
	require.Len(t, done, 2)
	require.Equal(t, crawler.Permanent, crawler.Classify(done[0].err))
	require.Equal(t, crawler.Transient, crawler.Classify(done[1].err))
	require.Equal(t, OutcomeHTTPError, h.log.records[0].Outcome)
}

func TestHandleFailuresMarkIndexedPageStale(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	ctx := context.Background()
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	h.worker.Handle(ctx, task("https://example.com/kettles"))

	h.fetcher.mu.Lock()
	h.fetcher.err = crawler.NewNetworkError(errors.New("connection reset"))
	h.fetcher.mu.Unlock()
	for range 3 {
		h.worker.Handle(ctx, task("https://example.com/kettles"))
	}

	done := h.frontier.completions()
	require.Len(t, done, 4)
	require.Equal(t, crawler.Transient, crawler.Classify(done[3].err))

	page, err := h.store.Get(ctx, "https://example.com/kettles")
	require.NoError(t, err)
	require.True(t, page.Stale)
	require.Equal(t, 3, page.FailureCount)
}

func TestHandleUnchangedContentOnlyTouches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	ctx := context.Background()
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	h.worker.Handle(ctx, task("https://example.com/kettles"))
	before, err := h.store.Get(ctx, "https://example.com/kettles")
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	h.worker.Handle(ctx, task("https://example.com/kettles"))

	after, err := h.store.Get(ctx, "https://example.com/kettles")
	require.NoError(t, err)
	require.Equal(t, before.ContentHash, after.ContentHash)
	require.True(t, after.CrawledAt.After(before.CrawledAt))
	require.Equal(t, OutcomeUnchanged, h.log.records[1].Outcome)

	entries, err := h.store.Entries(ctx, "https://example.com/kettles")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestHandleSkipsNonHTML(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	h.fetcher.results["https://example.com/data.json"] = crawler.FetchResult{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"a":1}`),
	}
	h.worker.Handle(context.Background(), task("https://example.com/data.json"))

	done := h.frontier.completions()
	require.NoError(t, done[0].err)
	require.Equal(t, OutcomeSkipped, h.log.records[0].Outcome)
	_, err := h.store.Get(context.Background(), "https://example.com/data.json")
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestFollowRespectsDomainCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxPagesPerDomain: 1}, fakeRobots{})
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	h.worker.Handle(context.Background(), task("https://example.com/kettles"))

	require.Equal(t, map[string]int{"https://github.com/kettles": crawler.PriorityExternal}, h.frontier.enqueued)
	out, err := h.links.Outbound(context.Background(), "https://example.com/kettles")
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestFollowStopsWhenFrontierFull(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	h.frontier.full = true
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	h.worker.Handle(context.Background(), task("https://example.com/kettles"))

	done := h.frontier.completions()
	require.NoError(t, done[0].err)
	require.Empty(t, h.frontier.enqueued)
}

func TestHandleDrainsAfterCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.worker.Handle(ctx, task("https://example.com/kettles"))

	done := h.frontier.completions()
	require.Len(t, done, 1)
	require.NoError(t, done[0].err)
	_, err := h.store.Get(context.Background(), "https://example.com/kettles")
	require.NoError(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	h.frontier.tasks <- task("https://example.com/kettles")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return len(h.frontier.completions()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestArchiveFailureDoesNotBlockIndexing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	archive := &storage.MockBlobStore{}
	archive.On("PutObject", mock.Anything, mock.MatchedBy(func(path string) bool {
		return strings.HasPrefix(path, "example.com/") && strings.HasSuffix(path, ".html")
	}), mock.Anything, []byte(pageHTML)).Return("", errors.New("bucket unavailable"))
	h.worker.deps.Archive = archive
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)

	h.worker.Handle(context.Background(), task("https://example.com/kettles"))

	archive.AssertExpectations(t)
	page, err := h.store.Get(context.Background(), "https://example.com/kettles")
	require.NoError(t, err)
	require.Empty(t, page.RawMarkupURI)
	require.Equal(t, OutcomeIndexed, h.log.records[0].Outcome)
}

func TestReprocessUsesArchivedMarkup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeRobots{})
	ctx := context.Background()
	h.serve("https://example.com/kettles", pageHTML, http.StatusOK)
	h.worker.Handle(ctx, task("https://example.com/kettles"))
	stored, err := h.store.Get(ctx, "https://example.com/kettles")
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	ok, err := h.worker.Reprocess(ctx, stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, h.fetcher.calls)

	again, err := h.store.Get(ctx, "https://example.com/kettles")
	require.NoError(t, err)
	require.True(t, again.CrawledAt.Equal(stored.CrawledAt))
	require.Equal(t, stored.RawMarkupURI, again.RawMarkupURI)
	require.Equal(t, stored.ContentHash, again.ContentHash)
	require.Equal(t, 1, h.archive.Len())

	stored.RawMarkupURI = ""
	_, err = h.worker.Reprocess(ctx, stored)
	require.ErrorIs(t, err, ErrNoArchive)

	stored.RawMarkupURI = "memory://missing"
	_, err = h.worker.Reprocess(ctx, stored)
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)
}
