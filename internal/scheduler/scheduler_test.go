package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/clock"
	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/robots"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

type fakeDelays struct {
	mu     sync.Mutex
	delays map[string]time.Duration
}

func (f *fakeDelays) CachedCrawlDelay(domain string) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.delays[domain]
	return d, ok
}

func (f *fakeDelays) set(domain string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delays == nil {
		f.delays = map[string]time.Duration{}
	}
	f.delays[domain] = d
}

func (f *fakeDelays) forget(domain string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.delays, domain)
}

type robotsFetcher struct{ body string }

func (f robotsFetcher) Fetch(_ context.Context, url string) (crawler.FetchResult, error) {
	return crawler.FetchResult{URL: url, StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

type fakePages map[string]bool

func (f fakePages) Has(_ context.Context, url string) (bool, error) { return f[url], nil }

type harness struct {
	db    *boltdb.DB
	clock *clock.Manual
	delay *fakeDelays
	sched *Scheduler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	h := &harness{
		db:    db,
		clock: clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		delay: &fakeDelays{},
	}
	h.sched = New(cfg, db, h.clock, h.delay, fakePages{}, zap.NewNop())
	return h
}

func (h *harness) enqueue(t *testing.T, url string, prio int) {
	t.Helper()
	added, err := h.sched.Enqueue(context.Background(), url, prio)
	require.NoError(t, err)
	require.True(t, added, url)
}

func (h *harness) next(t *testing.T) crawler.CrawlTask {
	t.Helper()
	task, ok := h.sched.NextReadyTask()
	require.True(t, ok, "expected a ready task")
	return task
}

func (h *harness) complete(t *testing.T, task crawler.CrawlTask, err error) {
	t.Helper()
	require.NoError(t, h.sched.Complete(context.Background(), task, err))
}

func TestEnqueueDedupes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.enqueue(t, "https://Example.com/a#frag", 5)

	added, err := h.sched.Enqueue(ctx, "https://example.com/a", 5)
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, 1, h.sched.Stats()[crawler.TaskPending])

	task := h.next(t)
	added, err = h.sched.Enqueue(ctx, task.URL, 10)
	require.NoError(t, err)
	require.False(t, added, "in-flight URL must not be queued again")

	h.complete(t, task, nil)
	added, err = h.sched.Enqueue(ctx, task.URL, 10)
	require.NoError(t, err)
	require.False(t, added, "finished URL must not be queued again")
}

func TestEnqueueSkipsIndexedPages(t *testing.T) {
	h := newHarness(t, Config{})
	h.sched.pages = fakePages{"https://example.com/": true}
	added, err := h.sched.Enqueue(context.Background(), "https://example.com", 5)
	require.NoError(t, err)
	require.False(t, added)
}

func TestEnqueueRejectsBadURLs(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.sched.Enqueue(context.Background(), "ftp://example.com/file", 5)
	require.Error(t, err)
}

func TestFrontierBackpressure(t *testing.T) {
	h := newHarness(t, Config{MaxPending: 2})
	h.enqueue(t, "https://a.example/1", 5)
	h.enqueue(t, "https://a.example/2", 5)
	_, err := h.sched.Enqueue(context.Background(), "https://a.example/3", 5)
	require.ErrorIs(t, err, ErrFrontierFull)

	added, err := h.sched.Enqueue(context.Background(), "https://a.example/1", 5)
	require.NoError(t, err, "a known URL is a duplicate even when the frontier is full")
	require.False(t, added)
}

func TestPolitenessNeverDispatchesInsideCrawlDelay(t *testing.T) {
	h := newHarness(t, Config{PerDomainConcurrency: 2, GlobalConcurrency: 8})
	delay := 2 * time.Second
	h.delay.set("polite.example", delay)
	for i := range 6 {
		h.enqueue(t, fmt.Sprintf("https://polite.example/%d", i), 5)
	}

	var dispatched []time.Time
	for range 200 {
		if task, ok := h.sched.NextReadyTask(); ok {
			dispatched = append(dispatched, h.clock.Now())
			h.complete(t, task, nil)
		}
		h.clock.Advance(250 * time.Millisecond)
	}
	require.Len(t, dispatched, 6)
	for i := 1; i < len(dispatched); i++ {
		require.GreaterOrEqual(t, dispatched[i].Sub(dispatched[i-1]), delay)
	}
}

func TestCrawlDelayHoldsAcrossRobotsExpiry(t *testing.T) {
	h := newHarness(t, Config{PerDomainConcurrency: 2, GlobalConcurrency: 8})
	cache, err := robots.New(robots.Config{UserAgent: "webscout-test", TTL: time.Hour, DefaultDelay: time.Second},
		robotsFetcher{body: "User-agent: *\nCrawl-delay: 10\n"}, h.clock, zap.NewNop())
	require.NoError(t, err)
	sched := New(Config{PerDomainConcurrency: 2, GlobalConcurrency: 8, DefaultDelay: time.Second},
		h.db, h.clock, cache, fakePages{}, zap.NewNop())
	require.Equal(t, 10*time.Second, cache.CrawlDelay(context.Background(), "slow.example"))

	for i := range 3 {
		added, err := sched.Enqueue(context.Background(), fmt.Sprintf("https://slow.example/%d", i), 5)
		require.NoError(t, err)
		require.True(t, added)
	}
	first, ok := sched.NextReadyTask()
	require.True(t, ok)
	require.NoError(t, sched.Complete(context.Background(), first, nil))

	h.clock.Advance(time.Hour - 5*time.Second)
	second, ok := sched.NextReadyTask()
	require.True(t, ok)
	require.NoError(t, sched.Complete(context.Background(), second, nil))

	h.clock.Advance(6 * time.Second)
	_, ok = sched.NextReadyTask()
	require.False(t, ok, "the robots entry expired but its crawl delay still applies")

	h.clock.Advance(4 * time.Second)
	_, ok = sched.NextReadyTask()
	require.True(t, ok)
}

func TestCrawlDelayRememberedWhenSourceForgets(t *testing.T) {
	h := newHarness(t, Config{PerDomainConcurrency: 2, GlobalConcurrency: 8, DefaultDelay: time.Second})
	h.delay.set("slow.example", 10*time.Second)
	h.enqueue(t, "https://slow.example/1", 5)
	h.enqueue(t, "https://slow.example/2", 5)

	h.complete(t, h.next(t), nil)
	h.delay.forget("slow.example")

	h.clock.Advance(2 * time.Second)
	_, ok := h.sched.NextReadyTask()
	require.False(t, ok)

	h.clock.Advance(8 * time.Second)
	h.next(t)
}

func TestPerDomainConcurrencyLimit(t *testing.T) {
	h := newHarness(t, Config{PerDomainConcurrency: 2, GlobalConcurrency: 8})
	h.delay.set("busy.example", 0)
	for i := range 3 {
		h.enqueue(t, fmt.Sprintf("https://busy.example/%d", i), 5)
	}
	first := h.next(t)
	h.next(t)
	_, ok := h.sched.NextReadyTask()
	require.False(t, ok, "third fetch would exceed the per-domain limit")

	h.complete(t, first, nil)
	h.next(t)
}

func TestUnknownDelayAllowsSingleFetch(t *testing.T) {
	h := newHarness(t, Config{PerDomainConcurrency: 2, GlobalConcurrency: 8})
	h.enqueue(t, "https://fresh.example/1", 5)
	h.enqueue(t, "https://fresh.example/2", 5)

	first := h.next(t)
	h.clock.Advance(time.Hour)
	_, ok := h.sched.NextReadyTask()
	require.False(t, ok)

	h.complete(t, first, nil)
	h.next(t)
}

func TestGlobalConcurrencyLimit(t *testing.T) {
	h := newHarness(t, Config{PerDomainConcurrency: 2, GlobalConcurrency: 2})
	for _, d := range []string{"a.example", "b.example", "c.example"} {
		h.delay.set(d, 0)
		h.enqueue(t, "https://"+d+"/", 5)
	}
	first := h.next(t)
	h.next(t)
	_, ok := h.sched.NextReadyTask()
	require.False(t, ok)

	h.complete(t, first, nil)
	h.next(t)
}

func TestPriorityRespectedWhenBothEligible(t *testing.T) {
	h := newHarness(t, Config{GlobalConcurrency: 4})
	h.delay.set("a.com", 10*time.Second)
	h.delay.set("b.com", 0)

	// Put A.com inside its crawl-delay window.
	h.enqueue(t, "https://a.com/0", 5)
	h.complete(t, h.next(t), nil)

	h.enqueue(t, "https://a.com/1", 5)
	h.enqueue(t, "https://b.com/1", 1)

	got := h.next(t)
	require.Equal(t, "https://b.com/1", got.URL, "A is still inside its crawl delay")
	h.complete(t, got, nil)

	h.enqueue(t, "https://b.com/2", 1)
	h.clock.Advance(10 * time.Second)
	got = h.next(t)
	require.Equal(t, "https://a.com/1", got.URL, "higher priority wins once both are eligible")
}

func TestEqualPrioritiesRotateRoundRobin(t *testing.T) {
	h := newHarness(t, Config{GlobalConcurrency: 8})
	for _, d := range []string{"a.example", "b.example", "c.example"} {
		h.delay.set(d, 0)
		h.enqueue(t, "https://"+d+"/1", 5)
		h.enqueue(t, "https://"+d+"/2", 5)
	}

	var order []string
	for range 6 {
		task := h.next(t)
		order = append(order, task.Domain)
		h.complete(t, task, nil)
	}
	require.Equal(t, []string{
		"a.example", "b.example", "c.example",
		"a.example", "b.example", "c.example",
	}, order)
}

func TestStarvationGuard(t *testing.T) {
	h := newHarness(t, Config{GlobalConcurrency: 8, PerDomainConcurrency: 8, StarvationLimit: 3})
	h.delay.set("hot.example", 0)
	h.delay.set("cold.example", 0)
	for i := range 10 {
		h.enqueue(t, fmt.Sprintf("https://hot.example/%d", i), 10)
	}
	h.enqueue(t, "https://cold.example/1", 1)

	var order []string
	for range 4 {
		task := h.next(t)
		order = append(order, task.Domain)
		h.complete(t, task, nil)
	}
	require.Equal(t, []string{"hot.example", "hot.example", "hot.example", "cold.example"}, order)
}

func TestFIFOWithinPriority(t *testing.T) {
	h := newHarness(t, Config{GlobalConcurrency: 8})
	h.delay.set("fifo.example", 0)
	h.enqueue(t, "https://fifo.example/b", 5)
	h.clock.Advance(time.Second)
	h.enqueue(t, "https://fifo.example/a", 5)
	h.enqueue(t, "https://fifo.example/top", 10)

	var got []string
	for range 3 {
		task := h.next(t)
		got = append(got, task.URL)
		h.complete(t, task, nil)
	}
	require.Equal(t, []string{"https://fifo.example/top", "https://fifo.example/b", "https://fifo.example/a"}, got)
}

func TestTransientFailuresBackOffThenAbandon(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2, BackoffBase: time.Minute, BackoffMax: time.Hour})
	h.delay.set("flaky.example", 0)
	h.enqueue(t, "https://flaky.example/", 5)
	transient := crawler.NewStatusError(503)

	task := h.next(t)
	h.complete(t, task, transient)
	_, ok := h.sched.NextReadyTask()
	require.False(t, ok, "retry must wait for backoff")

	h.clock.Advance(time.Minute)
	task = h.next(t)
	require.Equal(t, 1, task.RetryCount)
	h.complete(t, task, transient)

	h.clock.Advance(time.Minute)
	_, ok = h.sched.NextReadyTask()
	require.False(t, ok, "second retry waits base*2")
	h.clock.Advance(time.Minute)
	task = h.next(t)
	require.Equal(t, 2, task.RetryCount)
	h.complete(t, task, transient)

	require.Equal(t, 1, h.sched.Stats()[crawler.TaskAbandoned])
	require.True(t, h.sched.Idle())
}

func TestPermanentFailureIsTerminal(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	h.delay.set("gone.example", 0)
	h.enqueue(t, "https://gone.example/", 5)
	h.complete(t, h.next(t), crawler.NewStatusError(404))

	require.Equal(t, map[crawler.TaskStatus]int{crawler.TaskFailed: 1}, h.sched.Stats())
	h.clock.Advance(24 * time.Hour)
	_, ok := h.sched.NextReadyTask()
	require.False(t, ok)
}

func TestPersistedStatusMatchesImmediateRedispatch(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 1000, GlobalConcurrency: 8})
	h.delay.set("flaky.example", 0)
	h.enqueue(t, "https://flaky.example/", 5)
	task := h.next(t)

	for range 50 {
		var wg sync.WaitGroup
		redispatched := make(chan crawler.CrawlTask, 1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.sched.Complete(context.Background(), task, errors.New("connection reset"))
		}()
		go func() {
			defer wg.Done()
			for {
				if next, ok := h.sched.NextReadyTask(); ok {
					redispatched <- next
					return
				}
			}
		}()
		wg.Wait()
		task = <-redispatched

		stored, ok, err := h.sched.store.get(task.URL)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, crawler.TaskInFlight, stored.Status)
	}
}

func TestLoadRevivesInFlightTasks(t *testing.T) {
	h := newHarness(t, Config{})
	h.delay.set("crash.example", 0)
	h.enqueue(t, "https://crash.example/1", 5)
	h.enqueue(t, "https://crash.example/2", 5)
	h.next(t)

	restarted := New(Config{}, h.db, h.clock, h.delay, nil, zap.NewNop())
	require.NoError(t, restarted.Load(context.Background()))
	require.Equal(t, map[crawler.TaskStatus]int{crawler.TaskPending: 2}, restarted.Stats())

	got := map[string]bool{}
	for range 2 {
		task, ok := restarted.NextReadyTask()
		require.True(t, ok)
		got[task.URL] = true
		require.NoError(t, restarted.Complete(context.Background(), task, nil))
	}
	require.Len(t, got, 2)
}

func TestResetAbandonedAndRequeue(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 0})
	ctx := context.Background()
	h.delay.set("r.example", 0)
	h.enqueue(t, "https://r.example/bad", 5)
	h.enqueue(t, "https://r.example/gone", 5)
	h.complete(t, h.next(t), errors.New("connection reset"))
	h.complete(t, h.next(t), crawler.NewStatusError(404))

	n, err := h.sched.ResetAbandoned(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	task := h.next(t)
	require.Equal(t, "https://r.example/bad", task.URL)
	require.Zero(t, task.RetryCount)
	h.complete(t, task, nil)

	added, err := h.sched.Requeue(ctx, "https://r.example/bad", 1)
	require.NoError(t, err)
	require.True(t, added)
	added, err = h.sched.Requeue(ctx, "https://r.example/bad", 1)
	require.NoError(t, err)
	require.False(t, added, "already pending")

	n, err = h.sched.ResetAbandoned(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, n, "the permanently failed task")
	require.Equal(t, 2, h.sched.Stats()[crawler.TaskPending])
}

func TestIdleDomainsAreEvicted(t *testing.T) {
	h := newHarness(t, Config{})
	h.delay.set("once.example", time.Second)
	h.enqueue(t, "https://once.example/", 5)
	h.complete(t, h.next(t), nil)
	require.Equal(t, 1, h.sched.ActiveDomains())

	_, _ = h.sched.NextReadyTask()
	require.Equal(t, 1, h.sched.ActiveDomains(), "delay window still open")

	h.clock.Advance(time.Second)
	_, _ = h.sched.NextReadyTask()
	require.Zero(t, h.sched.ActiveDomains())
}

func TestNextWakesOnEnqueue(t *testing.T) {
	h := newHarness(t, Config{PollInterval: time.Hour})
	h.delay.set("wake.example", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan crawler.CrawlTask, 1)
	go func() {
		task, err := h.sched.Next(ctx)
		if err == nil {
			done <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	h.enqueue(t, "https://wake.example/", 5)
	select {
	case task := <-done:
		require.Equal(t, "https://wake.example/", task.URL)
	case <-ctx.Done():
		t.Fatal("Next did not wake up")
	}
}

func TestNextHonorsContext(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.sched.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	require.Equal(t, time.Second, b.Delay(0))
	require.Equal(t, 4*time.Second, b.Delay(2))
	require.Equal(t, 10*time.Second, b.Delay(5))
	require.Zero(t, Backoff{}.Delay(3))
}
