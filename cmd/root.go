// Package cmd defines and implements the CLI commands for the webscout executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/app"
	"github.com/JakeFAU/webscout/internal/config"
	"github.com/JakeFAU/webscout/internal/linkgraph"
	"github.com/JakeFAU/webscout/internal/logging"
	"github.com/JakeFAU/webscout/internal/search"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can inject a fake.
type App interface {
	Run(ctx context.Context, opts app.RunOptions) error
	Search(ctx context.Context, req search.Request) (search.Response, error)
	Statistics(ctx context.Context) (search.Statistics, error)
	Enqueue(ctx context.Context, url string, priority int) (bool, error)
	ResetAbandoned(ctx context.Context, includeFailed bool) (int, error)
	RecomputePageRank(ctx context.Context) (linkgraph.Result, error)
	Reindex(ctx context.Context) (int, int, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can swap in a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rootState struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	app     App
}

// close releases the services built by PersistentPreRunE, whether or not the command failed.
func (s *rootState) close() {
	if s.app == nil {
		return
	}
	if err := s.app.Close(); err != nil && s.logger != nil {
		s.logger.Warn("close failed", zap.Error(err))
	}
	s.app = nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webscout",
		Short: "A polite web crawler with a local search index.",
		Long: `webscout crawls seed sites politely, indexes their text, links and images
into a local store, and answers ranked search queries over HTTP or the CLI.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and services are built once here, after flag parsing and before RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			state.cfg = cfg
			state.logger = logger

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newServeCmd(state),
		newCrawlCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newQueueCmd(),
		newPageRankCmd(),
		newReindexCmd(),
	)
	return cmd
}

// execute runs the CLI with args, writing command output to out.
func execute(ctx context.Context, args []string, out io.Writer) error {
	state := &rootState{}
	defer state.close()
	root := newRootCmd(state)
	root.SetArgs(args)
	root.SetOut(out)
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("webscout: %w", err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
