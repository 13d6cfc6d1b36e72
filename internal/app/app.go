// Package app builds the long-lived services and owns their startup and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webscout/internal/api"
	"github.com/JakeFAU/webscout/internal/classify"
	"github.com/JakeFAU/webscout/internal/clock"
	"github.com/JakeFAU/webscout/internal/config"
	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/webscout/internal/fetcher/colly"
	idgen "github.com/JakeFAU/webscout/internal/id/uuid"
	"github.com/JakeFAU/webscout/internal/index"
	"github.com/JakeFAU/webscout/internal/linkgraph"
	"github.com/JakeFAU/webscout/internal/maintenance"
	"github.com/JakeFAU/webscout/internal/policy/ratelimit"
	"github.com/JakeFAU/webscout/internal/processor"
	"github.com/JakeFAU/webscout/internal/rank"
	"github.com/JakeFAU/webscout/internal/robots"
	"github.com/JakeFAU/webscout/internal/scheduler"
	"github.com/JakeFAU/webscout/internal/search"
	"github.com/JakeFAU/webscout/internal/storage"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
	"github.com/JakeFAU/webscout/internal/storage/postgres"
	"github.com/JakeFAU/webscout/internal/worker"
)

// RunOptions selects which long-running parts Run starts.
type RunOptions struct {
	Crawl bool
	Serve bool
	Jobs  bool
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	Clock      crawler.Clock
	GCSFactory storage.GCSClientFactory
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	db       *boltdb.DB
	archive  *storage.Archive
	fetchLog *postgres.FetchLog

	Index    *index.Store
	Links    *linkgraph.Store
	Frontier *scheduler.Scheduler
	Engine   *search.Engine
	Jobs     *maintenance.Jobs

	workers  []*worker.Worker
	dispatch *dispatcher.Dispatcher
	api      *api.Server
}

// Build opens the stores and wires every component. The frontier is loaded from disk
// before Build returns, so queue commands see persisted state.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	a := &App{cfg: cfg, logger: logger, clock: opts.Clock}
	logger.Info("building application dependencies",
		zap.String("store", cfg.Storage.Path),
		zap.String("archive", cfg.Storage.Archive),
		zap.Int("workers", cfg.Crawl.Workers),
	)

	if err := a.build(ctx, opts); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	var err error
	a.db, err = boltdb.Open(a.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	a.Index = index.New(a.db, index.Config{
		StaleAfterFailures: a.cfg.Index.StaleAfterFailures,
		ScoreBatchSize:     a.cfg.PageRank.BatchSize,
	}, a.logger.Named("index"))
	a.Links = linkgraph.New(a.db, a.logger.Named("linkgraph"))

	if err = a.setupStorage(ctx, opts.GCSFactory); err != nil {
		return err
	}
	if err = a.setupDatabase(ctx); err != nil {
		return err
	}
	if err = a.setupCrawl(ctx); err != nil {
		return err
	}

	ranker := rank.New(rank.Config{
		FreshnessHorizon: a.cfg.Rank.FreshnessHorizon,
		FreshnessFloor:   a.cfg.Rank.FreshnessFloor,
		SeedDomains:      crawler.SeedDomainPatterns(a.cfg.Crawl.Seeds),
		ValuableDomains:  a.cfg.Crawl.ValuableDomains,
	}, a.clock)
	a.Engine = search.New(search.Config{
		DefaultMaxResults: a.cfg.Search.DefaultMaxResults,
		MaxResultsCap:     a.cfg.Search.MaxResultsCap,
	}, a.Index, ranker, a.Frontier, a.logger.Named("search"))

	a.Jobs, err = maintenance.New(maintenance.Config{
		PageRankSchedule: a.cfg.PageRank.Schedule,
		PageRank: linkgraph.Options{
			Damping:       a.cfg.PageRank.Damping,
			MaxIterations: a.cfg.PageRank.MaxIterations,
			Epsilon:       a.cfg.PageRank.Epsilon,
		},
		RecrawlSchedule: a.cfg.Crawl.RecrawlSchedule,
		RecrawlAfter:    a.cfg.Crawl.RecrawlAfter,
	}, a.Index, a.Links, a.Frontier, a.clock, a.logger.Named("maintenance"))
	if err != nil {
		return fmt.Errorf("maintenance init failed: %w", err)
	}

	a.api = api.NewServer(a.Engine, a.dispatch, api.Options{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}, a.logger.Named("api"))
	return nil
}

func (a *App) setupStorage(ctx context.Context, factory storage.GCSClientFactory) error {
	archive, err := storage.OpenArchive(ctx, a.cfg.Storage, factory, a.logger.Named("archive"))
	if err != nil {
		return fmt.Errorf("archive init failed: %w", err)
	}
	a.archive = archive
	if archive.Store == nil {
		a.logger.Info("raw markup archive disabled")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no DSN specified, fetch history disabled")
		return nil
	}
	fetchLog, err := postgres.NewFetchLog(ctx, postgres.FetchLogConfig{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("fetch log init failed: %w", err)
	}
	a.fetchLog = fetchLog
	if err := fetchLog.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("fetch log schema: %w", err)
	}
	a.logger.Info("fetch log initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupCrawl(ctx context.Context) error {
	limiter := ratelimit.New(ratelimit.Config{
		GlobalRPS:   a.cfg.Fetch.GlobalRPS,
		GlobalBurst: a.cfg.Fetch.GlobalBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Crawl.UserAgent,
		Timeout:      a.cfg.Fetch.Timeout,
		MaxBodyBytes: a.cfg.Fetch.MaxBodyBytes,
	}, limiter)

	robotsCache, err := robots.New(robots.Config{
		UserAgent:    a.cfg.Crawl.UserAgent,
		Timeout:      a.cfg.Robots.Timeout,
		TTL:          a.cfg.Robots.TTL,
		Size:         a.cfg.Robots.CacheSize,
		DefaultDelay: a.cfg.Scheduler.DefaultDelay,
		Ignore:       a.cfg.Robots.Ignore,
	}, fetcher, a.clock, a.logger.Named("robots"))
	if err != nil {
		return fmt.Errorf("robots cache init failed: %w", err)
	}

	a.Frontier = scheduler.New(scheduler.Config{
		PerDomainConcurrency: a.cfg.Scheduler.PerDomainConcurrency,
		GlobalConcurrency:    a.cfg.GlobalConcurrency(),
		DefaultDelay:         a.cfg.Scheduler.DefaultDelay,
		MaxRetries:           a.cfg.Scheduler.MaxRetries,
		BackoffBase:          a.cfg.Scheduler.BackoffBase,
		BackoffMax:           a.cfg.Scheduler.BackoffMax,
		MaxPending:           a.cfg.Scheduler.MaxPending,
		StarvationLimit:      a.cfg.Scheduler.StarvationLimit,
	}, a.db, a.clock, robotsCache, a.Index, a.logger.Named("scheduler"))
	if err := a.Frontier.Load(ctx); err != nil {
		return fmt.Errorf("load frontier: %w", err)
	}

	deps := worker.Deps{
		Frontier: a.Frontier,
		Robots:   robotsCache,
		Fetcher:  fetcher,
		Processor: processor.New(processor.Config{
			MaxTextChars: a.cfg.Processor.MaxTextChars,
			MaxLinks:     a.cfg.Processor.MaxLinks,
			MaxImages:    a.cfg.Processor.MaxImages,
		}, a.Index, a.clock, a.logger.Named("processor")),
		Classifier: classify.New(),
		Index:      a.Index,
		Links:      a.Links,
		Scope: crawler.NewScope(crawler.ScopeConfig{
			AllowDomains:    a.cfg.Crawl.AllowDomains,
			DenyDomains:     a.cfg.Crawl.DenyDomains,
			ValuableDomains: a.cfg.Crawl.ValuableDomains,
		}),
		Archive: a.archive.Store,
		IDs:     idgen.New(),
		Clock:   a.clock,
	}
	if a.fetchLog != nil {
		deps.FetchLog = a.fetchLog
	}
	workerCfg := worker.Config{
		MaxPagesPerDomain: a.cfg.Crawl.MaxPagesPerDomain,
		ArchivePrefix:     a.cfg.Storage.Prefix,
		DrainTimeout:      a.cfg.Crawl.DrainTimeout,
	}

	runners := make([]dispatcher.Runner, 0, a.cfg.Crawl.Workers)
	for i := 0; i < a.cfg.Crawl.Workers; i++ {
		w := worker.New(deps, workerCfg, a.logger.Named("worker").With(
			zap.Int("index", i),
			zap.String("worker_id", uuid.NewString()),
		))
		a.workers = append(a.workers, w)
		runners = append(runners, w)
	}
	a.dispatch = dispatcher.New(a.Frontier, runners)
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Search runs a query against the index.
func (a *App) Search(ctx context.Context, req search.Request) (search.Response, error) {
	return a.Engine.Search(ctx, req)
}

// Statistics summarizes the index and frontier.
func (a *App) Statistics(ctx context.Context) (search.Statistics, error) {
	return a.Engine.Statistics(ctx)
}

// Enqueue admits a URL into the frontier the workers drain.
func (a *App) Enqueue(ctx context.Context, url string, priority int) (bool, error) {
	return a.dispatch.Enqueue(ctx, url, priority)
}

// ResetAbandoned returns abandoned tasks, and failed ones when asked, to pending.
func (a *App) ResetAbandoned(ctx context.Context, includeFailed bool) (int, error) {
	return a.Frontier.ResetAbandoned(ctx, includeFailed)
}

// RecomputePageRank runs the link-score job once.
func (a *App) RecomputePageRank(ctx context.Context) (linkgraph.Result, error) {
	return a.Jobs.RecomputePageRank(ctx)
}

// Run starts the selected parts and blocks until the context is canceled or a signal
// arrives. In-flight pages are allowed to finish before Run returns.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started",
		zap.Bool("crawl", opts.Crawl),
		zap.Bool("serve", opts.Serve),
		zap.Bool("jobs", opts.Jobs),
	)

	g, gctx := errgroup.WithContext(ctx)

	if opts.Crawl {
		n, err := maintenance.SeedOnce(ctx, a.Index, a.Frontier, a.cfg.Crawl.Seeds, a.logger.Named("seed"))
		if err != nil {
			return err
		}
		if n > 0 {
			a.logger.Info("seeded empty frontier", zap.Int("seeds", n))
		}
		g.Go(func() error {
			a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
			return a.dispatch.Run(gctx)
		})
	}

	if opts.Jobs {
		a.Jobs.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.Jobs.Stop(stopCtx)
		}()
	}

	if opts.Serve {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	<-gctx.Done()
	a.logger.Info("shutdown initiated")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Reindex rebuilds every page's index entries from its archived markup. Pages without
// an archive copy are skipped. It returns how many pages were rewritten and skipped.
func (a *App) Reindex(ctx context.Context) (int, int, error) {
	if len(a.workers) == 0 {
		return 0, 0, errors.New("reindex: no workers configured")
	}
	w := a.workers[0]
	var pages []crawler.Page
	err := a.Index.ForEachPage(ctx, func(p crawler.Page) error {
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("reindex: %w", err)
	}

	rewritten, skipped := 0, 0
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return rewritten, skipped, fmt.Errorf("reindex: %w", err)
		}
		ok, err := w.Reprocess(ctx, p)
		switch {
		case errors.Is(err, worker.ErrNoArchive), errors.Is(err, crawler.ErrObjectNotFound):
			skipped++
		case err != nil:
			a.logger.Warn("reindex failed", zap.String("url", p.URL), zap.Error(err))
			skipped++
		case ok:
			rewritten++
		default:
			skipped++
		}
	}
	a.logger.Info("reindex complete", zap.Int("rewritten", rewritten), zap.Int("skipped", skipped))
	return rewritten, skipped, nil
}

// Close releases every opened resource. It is safe to call on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.fetchLog != nil {
		a.fetchLog.Close()
	}
	if err := a.archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("archive close failed: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
