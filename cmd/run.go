package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webscout/internal/app"
)

// newServeCmd runs the HTTP API, the crawl workers and the maintenance jobs together.
func newServeCmd(state *rootState) *cobra.Command {
	var noCrawl bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API while crawling in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts := app.RunOptions{
				Crawl: state.cfg.Crawl.Enabled && !noCrawl,
				Serve: state.cfg.Server.Enabled,
				Jobs:  true,
			}
			if err := appInstance.Run(cmd.Context(), opts); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCrawl, "no-crawl", false, "serve queries only, without crawl workers")
	return cmd
}

// newCrawlCmd crawls without the HTTP API until interrupted.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl from the persisted frontier (seeding an empty one) until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context(), app.RunOptions{Crawl: true, Jobs: true}); err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			return nil
		},
	}
}

// newPageRankCmd recomputes link scores once and exits.
func newPageRankCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "pagerank",
		Short: "Recompute link scores for every indexed page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.RecomputePageRank(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("scored %d pages in %d iterations (delta %.2e)\n", len(res.Scores), res.Iterations, res.Delta)
			for i, u := range res.Top(top) {
				cmd.Printf("%2d. %.6f %s\n", i+1, res.Scores[u], u)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "print the highest scoring pages (0 prints all)")
	return cmd
}

// newReindexCmd rebuilds index entries from archived markup.
func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-extract every page from its archived markup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rewritten, skipped, err := appInstance.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("reindexed %d pages, skipped %d\n", rewritten, skipped)
			return nil
		},
	}
}
