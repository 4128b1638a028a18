package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/masahif/lemmasearch/internal/api"
	"github.com/masahif/lemmasearch/internal/search"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Crawl and index every configured site",
	Long: `Clears the stored data of the configured sites, crawls them and
rebuilds their index. Interrupting the command stops the crawl and marks
unfinished sites FAILED.`,
	Args: cobra.NoArgs,
	RunE: withApp(runIndex),
}

var indexPageCmd = &cobra.Command{
	Use:   "index-page URL",
	Short: "Fetch and reindex one page of a configured site",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.manager.IndexPage(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s\n", args[0])
		return nil
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search the index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(runSearch),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print index statistics as JSON",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		stats, err := a.manager.Statistics(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		return api.Serve(cmd.Context(), a.cfg.Server.Addr, api.NewHandler(a.manager, a.engine))
	}),
}

func init() {
	searchCmd.Flags().String("site", "", "Restrict the search to a site name or URL")
	searchCmd.Flags().Int("offset", 0, "Number of results to skip")
	searchCmd.Flags().Int("limit", 0, "Number of results to print (0 uses search.default_limit)")

	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	if err := viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind flag addr: %v\n", err)
	}
}

// withApp loads the configuration and wires the components for a command
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				slog.Warn("Failed to close resources", "error", err)
			}
		}()
		return run(cmd, a, args)
	}
}

func runIndex(cmd *cobra.Command, a *app, args []string) error {
	ctx := cmd.Context()
	start := time.Now()
	if err := a.manager.StartIndexing(ctx); err != nil {
		return err
	}

	if err := a.manager.Wait(ctx); err != nil {
		slog.Info("Interrupted, stopping indexing")
		stopCtx := context.WithoutCancel(ctx)
		if err := a.manager.StopIndexing(stopCtx); err != nil {
			slog.Warn("Failed to stop indexing", "error", err)
		}
		if err := a.manager.Wait(stopCtx); err != nil {
			return err
		}
	}

	stats, err := a.manager.Statistics(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range stats.Detailed {
		line := fmt.Sprintf("%-20s %-8s pages=%d lemmas=%d", s.Name, s.Status, s.Pages, s.Lemmas)
		if s.Error != "" {
			line += " error=" + s.Error
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Indexing finished in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runSearch(cmd *cobra.Command, a *app, args []string) error {
	site, _ := cmd.Flags().GetString("site")
	offset, _ := cmd.Flags().GetInt("offset")
	limit, _ := cmd.Flags().GetInt("limit")

	resp, err := a.engine.Search(cmd.Context(), search.Query{
		Text:   strings.Join(args, " "),
		Site:   site,
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d pages\n", resp.Count)
	for i, r := range resp.Results {
		fmt.Fprintf(out, "\n%d. %s (%.4f)\n   %s%s\n   %s\n", offset+i+1, r.Title, r.Relevance, r.Site, r.URI, r.Snippet)
	}
	return nil
}
