// Package maintenance runs the periodic jobs that keep the index current: link-score
// recomputation, recrawl of aging pages, and first-start seeding.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/linkgraph"
	"github.com/JakeFAU/webscout/internal/scheduler"
)

// Index is the slice of the page index the jobs read and score.
type Index interface {
	linkgraph.ScoreSink
	TotalPages(ctx context.Context) (int, error)
}

// Graph recomputes link-derived scores.
type Graph interface {
	Recompute(ctx context.Context, sink linkgraph.ScoreSink, opts linkgraph.Options) (linkgraph.Result, error)
}

// Frontier admits seed and recrawl tasks.
type Frontier interface {
	Enqueue(ctx context.Context, url string, priority int) (bool, error)
	Requeue(ctx context.Context, url string, priority int) (bool, error)
	Stats() map[crawler.TaskStatus]int
}

// Config holds the job schedules. An empty schedule disables that job.
type Config struct {
	PageRankSchedule string
	PageRank         linkgraph.Options
	RecrawlSchedule  string
	RecrawlAfter     time.Duration
}

// Jobs owns the cron runner and the job bodies.
type Jobs struct {
	cfg      Config
	index    Index
	graph    Graph
	frontier Frontier
	clock    crawler.Clock
	logger   *zap.Logger
	cron     *cron.Cron
	parser   cron.Parser
}

// New validates the schedules and registers the jobs. Nothing runs until Start.
func New(cfg Config, idx Index, graph Graph, frontier Frontier, clk crawler.Clock, logger *zap.Logger) (*Jobs, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	j := &Jobs{
		cfg:      cfg,
		index:    idx,
		graph:    graph,
		frontier: frontier,
		clock:    clk,
		logger:   logger,
		parser:   parser,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
	if err := j.schedule(cfg.PageRankSchedule, "pagerank", func(ctx context.Context) error {
		res, err := j.RecomputePageRank(ctx)
		if err != nil {
			return err
		}
		j.logger.Info("pagerank recomputed",
			zap.Int("pages", len(res.Scores)),
			zap.Int("iterations", res.Iterations),
			zap.Strings("top", res.Top(3)),
		)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := j.schedule(cfg.RecrawlSchedule, "recrawl", func(ctx context.Context) error {
		_, err := j.Recrawl(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Jobs) schedule(expr, name string, run func(context.Context) error) error {
	if expr == "" {
		return nil
	}
	if _, err := j.parser.Parse(expr); err != nil {
		return fmt.Errorf("parse %s schedule %q: %w", name, expr, err)
	}
	_, err := j.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := run(context.Background()); err != nil {
			j.logger.Error("maintenance job failed", zap.String("job", name), zap.Error(err))
			return
		}
		j.logger.Debug("maintenance job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("add %s job: %w", name, err)
	}
	j.logger.Info("maintenance job scheduled", zap.String("job", name), zap.String("schedule", expr))
	return nil
}

// Entries reports how many jobs are registered.
func (j *Jobs) Entries() int {
	return len(j.cron.Entries())
}

// Start begins running the scheduled jobs in the background.
func (j *Jobs) Start() {
	j.cron.Start()
}

// Stop halts scheduling and waits, bounded by ctx, for a running job to finish.
func (j *Jobs) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		j.logger.Warn("maintenance job still running at shutdown")
	}
}

// RecomputePageRank rebuilds link scores over the whole graph.
func (j *Jobs) RecomputePageRank(ctx context.Context) (linkgraph.Result, error) {
	res, err := j.graph.Recompute(ctx, j.index, j.cfg.PageRank)
	if err != nil {
		return linkgraph.Result{}, fmt.Errorf("pagerank: %w", err)
	}
	return res, nil
}

// Recrawl requeues every page crawled longer than RecrawlAfter ago. It stops early when
// the frontier is full and returns how many pages were requeued.
func (j *Jobs) Recrawl(ctx context.Context) (int, error) {
	if j.cfg.RecrawlAfter <= 0 {
		return 0, nil
	}
	cutoff := j.clock.Now().Add(-j.cfg.RecrawlAfter)
	errFull := errors.New("frontier full")
	requeued := 0
	err := j.index.ForEachPage(ctx, func(p crawler.Page) error {
		if !p.CrawledAt.Before(cutoff) {
			return nil
		}
		added, err := j.frontier.Requeue(ctx, p.URL, crawler.PriorityRecrawl)
		if errors.Is(err, scheduler.ErrFrontierFull) {
			return errFull
		}
		if err != nil {
			j.logger.Warn("recrawl requeue failed", zap.String("url", p.URL), zap.Error(err))
			return nil
		}
		if added {
			requeued++
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFull) {
		return requeued, fmt.Errorf("recrawl: %w", err)
	}
	j.logger.Info("recrawl pass complete", zap.Int("requeued", requeued), zap.Time("cutoff", cutoff))
	return requeued, nil
}

// SeedOnce enqueues seeds at seed priority, but only into a brand-new deployment: an
// index with no pages and a queue with no tasks in any state. It returns how many seeds
// were admitted.
func SeedOnce(ctx context.Context, idx Index, frontier Frontier, seeds []string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	total, err := idx.TotalPages(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	queued := 0
	for _, n := range frontier.Stats() {
		queued += n
	}
	if total > 0 || queued > 0 {
		logger.Debug("seeding skipped", zap.Int("pages", total), zap.Int("tasks", queued))
		return 0, nil
	}

	added := 0
	for _, s := range seeds {
		ok, err := frontier.Enqueue(ctx, s, crawler.PrioritySeed)
		if err != nil {
			logger.Warn("seed rejected", zap.String("url", s), zap.Error(err))
			continue
		}
		if ok {
			added++
		}
	}
	logger.Info("seeds loaded", zap.Int("seeds", added))
	return added, nil
}
