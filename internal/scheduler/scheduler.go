// Package scheduler owns the crawl frontier: per-domain queues, politeness, retries and
// the persisted crawl queue.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/metrics"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

// ErrFrontierFull is returned by Enqueue when the pending limit is reached.
var ErrFrontierFull = errors.New("crawl frontier is full")

// DelaySource reports a domain's crawl delay if it is already known. It must not block.
type DelaySource interface {
	CachedCrawlDelay(domain string) (time.Duration, bool)
}

// PageIndex tells whether a URL has already been crawled into the index.
type PageIndex interface {
	Has(ctx context.Context, url string) (bool, error)
}

// Config tunes politeness, retries and backpressure.
type Config struct {
	PerDomainConcurrency int
	GlobalConcurrency    int
	DefaultDelay         time.Duration
	MaxRetries           int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxPending           int
	StarvationLimit      int
	// PollInterval bounds how long Next sleeps before re-checking delays.
	PollInterval time.Duration
}

// Scheduler is the single owner of the frontier and per-domain state. All methods are safe
// for concurrent use.
type Scheduler struct {
	cfg     Config
	backoff Backoff
	clock   crawler.Clock
	delays  DelaySource
	pages   PageIndex
	store   *taskStore
	logger  *zap.Logger

	mu       sync.Mutex
	domains  map[string]*domainState
	order    []string
	cursor   int // index in order of the last served domain
	inFlight int
	counts   map[crawler.TaskStatus]int
	wake     chan struct{}
}

// New builds a Scheduler backed by db. delays and pages may be nil.
func New(cfg Config, db *boltdb.DB, clk crawler.Clock, delays DelaySource, pages PageIndex, logger *zap.Logger) *Scheduler {
	if cfg.PerDomainConcurrency <= 0 {
		cfg.PerDomainConcurrency = 2
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.StarvationLimit <= 0 {
		cfg.StarvationLimit = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		backoff: Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		clock:   clk,
		delays:  delays,
		pages:   pages,
		store:   &taskStore{db: db.Bolt()},
		logger:  logger,
		domains: make(map[string]*domainState),
		counts:  make(map[crawler.TaskStatus]int),
		cursor:  -1,
		wake:    make(chan struct{}, 1),
	}
}

// Load rebuilds the frontier from the persisted queue. Tasks left in flight by a previous
// process go back to pending.
func (s *Scheduler) Load(ctx context.Context) error {
	now := s.clock.Now()
	var revived []crawler.CrawlTask

	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains = make(map[string]*domainState)
	s.order = nil
	s.cursor = -1
	s.inFlight = 0
	s.counts = make(map[crawler.TaskStatus]int)

	err := s.store.forEach(ctx, func(t crawler.CrawlTask) error {
		if t.Status == crawler.TaskInFlight {
			t.Status = crawler.TaskPending
			revived = append(revived, t)
		}
		s.counts[t.Status]++
		if t.Status == crawler.TaskPending {
			s.domainLocked(t.Domain).push(t, now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load frontier: %w", err)
	}
	if len(revived) > 0 {
		if err := s.store.put(revived...); err != nil {
			return fmt.Errorf("load frontier: %w", err)
		}
	}
	s.publishLocked()
	s.logger.Info("frontier loaded",
		zap.Int("pending", s.counts[crawler.TaskPending]),
		zap.Int("revived", len(revived)),
		zap.Int("domains", len(s.domains)),
	)
	return nil
}

// Enqueue admits a newly discovered URL. It returns false when the URL is already queued,
// in flight, finished, or crawled into the index.
func (s *Scheduler) Enqueue(ctx context.Context, rawURL string, priority int) (bool, error) {
	url, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	if s.pages != nil {
		crawled, err := s.pages.Has(ctx, url)
		if err != nil {
			return false, fmt.Errorf("enqueue: %w", err)
		}
		if crawled {
			return false, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(url, priority)
}

func (s *Scheduler) admitLocked(url string, priority int) (bool, error) {
	_, known, err := s.store.get(url)
	if err != nil {
		return false, err
	}
	if known {
		return false, nil
	}
	if s.cfg.MaxPending > 0 && s.counts[crawler.TaskPending] >= s.cfg.MaxPending {
		return false, ErrFrontierFull
	}
	task := crawler.CrawlTask{
		URL:         url,
		Domain:      crawler.Domain(url),
		Priority:    priority,
		ScheduledAt: s.clock.Now(),
		Status:      crawler.TaskPending,
	}
	inserted, err := s.store.insert(&task)
	if err != nil || !inserted {
		return false, err
	}
	s.domainLocked(task.Domain).push(task, task.ScheduledAt)
	s.counts[crawler.TaskPending]++
	s.publishLocked()
	s.signal()
	return true, nil
}

// Requeue re-admits a URL whose previous task has finished, for recrawling. URLs that are
// pending or in flight are left alone.
func (s *Scheduler) Requeue(_ context.Context, rawURL string, priority int) (bool, error) {
	url, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false, fmt.Errorf("requeue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok, err := s.store.get(url)
	if err != nil {
		return false, fmt.Errorf("requeue: %w", err)
	}
	if !ok {
		return s.admitLocked(url, priority)
	}
	if prev.Status == crawler.TaskPending || prev.Status == crawler.TaskInFlight {
		return false, nil
	}
	if s.cfg.MaxPending > 0 && s.counts[crawler.TaskPending] >= s.cfg.MaxPending {
		return false, ErrFrontierFull
	}
	task := prev
	task.Priority = priority
	task.ScheduledAt = s.clock.Now()
	task.RetryCount = 0
	task.LastError = ""
	task.Status = crawler.TaskPending
	if err := s.store.put(task); err != nil {
		return false, fmt.Errorf("requeue: %w", err)
	}
	s.counts[prev.Status]--
	s.counts[crawler.TaskPending]++
	s.domainLocked(task.Domain).push(task, task.ScheduledAt)
	s.publishLocked()
	s.signal()
	return true, nil
}

// NextReadyTask returns the next dispatchable task without blocking.
//
// A domain is eligible when it has a due task, is below the per-domain limit, and its crawl
// delay has elapsed since its last dispatch. Until the robots cache knows a domain's delay,
// the default delay applies and only one fetch may be in flight. Among eligible domains a
// domain skipped StarvationLimit times goes first; otherwise the highest head priority
// wins, with equal priorities served round-robin after the last served domain.
func (s *Scheduler) NextReadyTask() (crawler.CrawlTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.selectLocked()
	if !ok {
		return crawler.CrawlTask{}, false
	}
	// Persisted under the lock so a later Complete cannot be overwritten by this record.
	if err := s.store.put(task); err != nil {
		s.logger.Warn("persist dispatched task failed", zap.String("url", task.URL), zap.Error(err))
	}
	return task, true
}

// Next blocks until a task is ready or ctx ends.
func (s *Scheduler) Next(ctx context.Context) (crawler.CrawlTask, error) {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()
	for {
		if task, ok := s.NextReadyTask(); ok {
			return task, nil
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return crawler.CrawlTask{}, fmt.Errorf("wait for task: %w", ctx.Err())
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) selectLocked() (crawler.CrawlTask, bool) {
	if s.inFlight >= s.cfg.GlobalConcurrency || len(s.order) == 0 {
		return crawler.CrawlTask{}, false
	}
	now := s.clock.Now()

	var (
		eligible []*domainState
		evict    []string
	)
	n := len(s.order)
	for i := 1; i <= n; i++ {
		d := s.domains[s.order[(s.cursor+i)%n]]
		delay, known := s.delayFor(d)
		elapsed := d.lastDispatch.IsZero() || now.Sub(d.lastDispatch) >= delay
		d.promote(now)
		if d.empty() {
			if d.active == 0 && elapsed {
				evict = append(evict, d.name)
			}
			continue
		}
		limit := s.cfg.PerDomainConcurrency
		if !known {
			limit = 1
		}
		if d.ready.Len() == 0 || d.active >= limit || !elapsed {
			continue
		}
		eligible = append(eligible, d)
	}

	var chosen *domainState
	for _, d := range eligible {
		if d.skips >= s.cfg.StarvationLimit {
			chosen = d
			break
		}
	}
	if chosen == nil {
		for _, d := range eligible {
			if chosen == nil || d.ready[0].Priority > chosen.ready[0].Priority {
				chosen = d
			}
		}
	}

	var task crawler.CrawlTask
	if chosen != nil {
		for _, d := range eligible {
			if d != chosen {
				d.skips++
			}
		}
		task = heap.Pop(&chosen.ready).(crawler.CrawlTask)
		task.Status = crawler.TaskInFlight
		chosen.active++
		chosen.lastDispatch = now
		chosen.skips = 0
		s.inFlight++
		s.counts[crawler.TaskPending]--
		s.counts[crawler.TaskInFlight]++
		s.setCursorLocked(chosen.name)
	}
	for _, name := range evict {
		s.evictLocked(name)
	}
	if chosen == nil {
		return crawler.CrawlTask{}, false
	}
	s.publishLocked()
	return task, true
}

// Complete records the outcome of a dispatched task. A nil err marks it done; permanent
// failures are terminal; transient failures back off and retry until MaxRetries, then the
// task is abandoned.
func (s *Scheduler) Complete(_ context.Context, task crawler.CrawlTask, fetchErr error) error {
	now := s.clock.Now()

	s.mu.Lock()
	if d, ok := s.domains[task.Domain]; ok && d.active > 0 {
		d.active--
	}
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.counts[crawler.TaskInFlight]--

	switch {
	case fetchErr == nil:
		task.Status = crawler.TaskDone
		task.LastError = ""
	case crawler.Classify(fetchErr) == crawler.Permanent:
		task.Status = crawler.TaskFailed
		task.LastError = fetchErr.Error()
	case task.RetryCount < s.cfg.MaxRetries:
		task.ScheduledAt = now.Add(s.backoff.Delay(task.RetryCount))
		task.RetryCount++
		task.Status = crawler.TaskPending
		task.LastError = fetchErr.Error()
		s.domainLocked(task.Domain).push(task, now)
	default:
		task.Status = crawler.TaskAbandoned
		task.LastError = fetchErr.Error()
	}
	s.counts[task.Status]++
	s.publishLocked()
	err := s.store.put(task)
	s.mu.Unlock()

	s.signal()
	if err != nil {
		return fmt.Errorf("complete %s: %w", task.URL, err)
	}
	if task.Status == crawler.TaskAbandoned {
		s.logger.Info("task abandoned", zap.String("url", task.URL), zap.Int("retries", task.RetryCount),
			zap.String("last_error", task.LastError))
	}
	return nil
}

// ResetAbandoned moves abandoned tasks (and failed ones when includeFailed) back to pending
// with a fresh retry budget.
func (s *Scheduler) ResetAbandoned(ctx context.Context, includeFailed bool) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	var reset []crawler.CrawlTask
	err := s.store.forEach(ctx, func(t crawler.CrawlTask) error {
		if t.Status == crawler.TaskAbandoned || (includeFailed && t.Status == crawler.TaskFailed) {
			reset = append(reset, t)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reset abandoned: %w", err)
	}
	if len(reset) == 0 {
		return 0, nil
	}

	prev := make([]crawler.TaskStatus, len(reset))
	for i := range reset {
		prev[i] = reset[i].Status
		reset[i].Status = crawler.TaskPending
		reset[i].RetryCount = 0
		reset[i].ScheduledAt = now
	}
	if err := s.store.put(reset...); err != nil {
		return 0, fmt.Errorf("reset abandoned: %w", err)
	}
	for i, t := range reset {
		s.counts[prev[i]]--
		s.counts[crawler.TaskPending]++
		s.domainLocked(t.Domain).push(t, now)
	}
	s.publishLocked()
	s.signal()
	return len(reset), nil
}

// Stats returns task counts by status.
func (s *Scheduler) Stats() map[crawler.TaskStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[crawler.TaskStatus]int, len(s.counts))
	for k, v := range s.counts {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Idle reports whether nothing is pending or in flight.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[crawler.TaskPending] <= 0 && s.inFlight == 0
}

// ActiveDomains returns how many domains currently hold frontier state.
func (s *Scheduler) ActiveDomains() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.domains)
}

// delayFor falls back to the domain's last reported delay when the robots cache has
// dropped its entry, so a refresh never shortens the gap between dispatches.
func (s *Scheduler) delayFor(d *domainState) (time.Duration, bool) {
	if s.delays == nil {
		return s.cfg.DefaultDelay, true
	}
	if delay, ok := s.delays.CachedCrawlDelay(d.name); ok {
		d.lastDelay = max(delay, 0)
		d.delayKnown = true
		return d.lastDelay, true
	}
	if d.delayKnown {
		return max(d.lastDelay, s.cfg.DefaultDelay), true
	}
	return s.cfg.DefaultDelay, false
}

func (s *Scheduler) domainLocked(name string) *domainState {
	d, ok := s.domains[name]
	if !ok {
		d = &domainState{name: name}
		s.domains[name] = d
		s.order = append(s.order, name)
	}
	return d
}

func (s *Scheduler) setCursorLocked(name string) {
	for i, n := range s.order {
		if n == name {
			s.cursor = i
			return
		}
	}
}

func (s *Scheduler) evictLocked(name string) {
	delete(s.domains, name)
	for i, n := range s.order {
		if n != name {
			continue
		}
		s.order = append(s.order[:i], s.order[i+1:]...)
		if i <= s.cursor {
			s.cursor--
		}
		break
	}
}

func (s *Scheduler) publishLocked() {
	counts := make(map[string]int, 5)
	for _, st := range []crawler.TaskStatus{
		crawler.TaskPending, crawler.TaskInFlight, crawler.TaskDone, crawler.TaskFailed, crawler.TaskAbandoned,
	} {
		counts[string(st)] = s.counts[st]
	}
	metrics.SetFrontier(counts)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
