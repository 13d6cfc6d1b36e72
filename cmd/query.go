package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		searchType string
		maxResults int
		offset     int
		domain     string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the local index and print ranked results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := appInstance.Search(cmd.Context(), search.Request{
				Query:      strings.Join(args, " "),
				MaxResults: maxResults,
				Offset:     offset,
				Type:       search.Type(searchType),
				Domain:     domain,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&searchType, "type", "t", "web", "web, news or image")
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "results per page (0 uses the configured default)")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	cmd.Flags().StringVar(&domain, "domain", "", "restrict results to this host")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index and frontier counts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := appInstance.Statistics(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the crawl frontier",
	}
	cmd.AddCommand(newQueueAddCmd(), newQueueResetCmd())
	return cmd
}

func newQueueAddCmd() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "add <url>...",
		Short: "Admit URLs into the frontier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range args {
				added, err := appInstance.Enqueue(cmd.Context(), u, priority)
				switch {
				case err != nil:
					cmd.Printf("rejected %s: %v\n", u, err)
				case added:
					cmd.Printf("added %s\n", u)
				default:
					cmd.Printf("skipped %s (already known)\n", u)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&priority, "priority", "p", crawler.PrioritySeed, "task priority")
	return cmd
}

func newQueueResetCmd() *cobra.Command {
	var includeFailed bool
	cmd := &cobra.Command{
		Use:   "reset-abandoned",
		Short: "Return abandoned tasks to pending with a fresh retry budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.ResetAbandoned(cmd.Context(), includeFailed)
			if err != nil {
				return fmt.Errorf("reset abandoned: %w", err)
			}
			cmd.Printf("reset %d tasks\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeFailed, "include-failed", false, "also reset tasks that failed permanently")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
