package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"BookmarkScout/internal/app"
	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/logging"
	"BookmarkScout/internal/usecase"
)

var (
	configPath string
	restart    bool
	workers    int
	follow     bool
	limit      int
)

var rootCmd = &cobra.Command{
	Use:           "bookmarkscout",
	Short:         "Turn saved developer bookmarks into knowledge base entries",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// runCmd processes a local bookmark export once
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a bookmark export file",
	Long: `Process every bookmark in a local export through analysis, discovery,
execution and synthesis, then deliver the records.

Supported files:
  .json       - array of bookmarks or {"bookmarks": [...]}
  .html/.htm  - Netscape bookmark export
  other       - RSS/Atom feed`,
	Args: cobra.NoArgs,
	RunE: runFile,
}

// pollCmd polls the configured sources
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll configured sources once, or on an interval with --follow",
	Args:  cobra.NoArgs,
	RunE:  runPoll,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print readiness and health of recent runs as JSON",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres knowledge base schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (default $BOOKMARK_SCOUT_CONFIG)")

	runCmd.Flags().StringP("file", "f", "", "bookmark export to process")
	_ = runCmd.MarkFlagRequired("file")
	runCmd.Flags().BoolVar(&restart, "restart", false, "ignore existing checkpoints and reprocess")
	runCmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent bookmarks (default pipeline.workers)")

	pollCmd.Flags().BoolVar(&follow, "follow", false, "keep polling on scheduler.interval until interrupted")

	statusCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent runs to include")

	rootCmd.AddCommand(runCmd, pollCmd, statusCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func build(cmd *cobra.Command) (*app.Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format))
}

func runFile(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	application, err := build(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	mode := usecase.ModeResume
	if restart {
		mode = usecase.ModeRestart
	}
	results, err := application.RunFile(cmd.Context(), path, mode, workers)
	if err != nil {
		return err
	}
	return printResults(cmd.OutOrStdout(), results)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	application, err := build(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	if follow {
		return application.Serve(cmd.Context())
	}
	report, err := application.Poll(cmd.Context())
	if err != nil {
		return err
	}
	return printResults(cmd.OutOrStdout(), report.Results)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	application, err := build(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	status, err := application.Status(cmd.Context(), limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	version, err := app.Migrate(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
	return nil
}

// printResults writes one line per bookmark and fails when any run errored.
func printResults(w io.Writer, results []usecase.BatchResult) error {
	failed := 0
	for _, res := range results {
		run := res.Outcome.Run
		title := ""
		if res.Outcome.Result != nil {
			title = res.Outcome.Result.Title
		}
		switch {
		case res.Err != nil:
			failed++
			fmt.Fprintf(w, "%-20s %-9s %v\n", res.Bookmark.ID, domain.OutcomeFailed, res.Err)
		case res.Outcome.Reused:
			fmt.Fprintf(w, "%-20s %-9s (cached) %s\n", res.Bookmark.ID, run.Outcome, title)
		default:
			fmt.Fprintf(w, "%-20s %-9s %s\n", res.Bookmark.ID, run.Outcome, title)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d bookmarks failed", failed, len(results))
	}
	return nil
}
