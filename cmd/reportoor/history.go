package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/history"
	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/spf13/cobra"
)

var (
	historyTestID string
	historyLimit  int
	reindex       bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the indexed run history",
	Long: `List indexed data points of the configured branch, or the past outcomes
of a single test with --test. With --reindex the history file is replayed
into the index first.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyTestID, "test", "",
		"history id of the test to show")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0,
		"maximum number of rows (0 for all)")
	historyCmd.Flags().BoolVar(&reindex, "reindex", false,
		"replay the history file into the index before querying")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.History.Index.Enabled || cfg.History.Index.SQLite.Path == "" {
		return errors.New("history.index must be enabled with a sqlite path")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	index := indexstore.NewStore(log, &cfg.History.Index.SQLite)
	if err := index.Start(ctx); err != nil {
		return fmt.Errorf("starting history index: %w", err)
	}

	defer func() {
		if err := index.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop history index")
		}
	}()

	branch := cfg.History.Branch

	if reindex {
		if err := replayHistory(ctx, cfg, index); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	if historyTestID != "" {
		runs, err := index.HistoryForTest(ctx, branch, historyTestID, historyLimit)
		if err != nil {
			return err
		}

		fmt.Fprintln(tw, "TIME\tRUN\tSTATUS\tDURATION\tMESSAGE")

		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n",
				formatMillis(r.Timestamp), r.UUID, r.Status, r.Duration, r.Message)
		}

		return nil
	}

	points, err := index.ListDataPoints(ctx, branch)
	if err != nil {
		return err
	}

	if historyLimit > 0 && len(points) > historyLimit {
		points = points[:historyLimit]
	}

	fmt.Fprintln(tw, "TIME\tRUN\tNAME\tTOTAL\tFAILED\tBROKEN\tPASSED")

	for _, dp := range points {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			formatMillis(dp.Timestamp), dp.UUID, dp.Name,
			dp.TestsTotal, dp.TestsFailed, dp.TestsBroken, dp.TestsPassed)
	}

	return nil
}

// replayHistory records every data point of the history file into index.
// Recording is idempotent, so points already indexed are refreshed.
func replayHistory(ctx context.Context, cfg *config.Config, index indexstore.Store) error {
	if cfg.History.Path == "" {
		return errors.New("--reindex requires history.path")
	}

	svc, err := history.NewService(log, history.Config{Path: cfg.History.Path})
	if err != nil {
		return fmt.Errorf("creating history service: %w", err)
	}

	points, err := svc.Read(ctx, cfg.History.Branch)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	for i := range points {
		if err := index.RecordDataPoint(ctx, cfg.History.Branch, &points[i]); err != nil {
			return fmt.Errorf("indexing data point %s: %w", points[i].UUID, err)
		}
	}

	log.WithField("points", len(points)).Info("Reindexed history")

	return nil
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}

	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
