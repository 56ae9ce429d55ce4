package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/reportoor/pkg/category"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/history"
	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/ingest"
	"github.com/ethpandaops/reportoor/pkg/knownissue"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/plugin"
	"github.com/ethpandaops/reportoor/pkg/publish"
	"github.com/ethpandaops/reportoor/pkg/qualitygate"
	"github.com/ethpandaops/reportoor/pkg/reader"
	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	summaryPath   string
	skipHistory   bool
	noColorOutput bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [results-dir...]",
	Short: "Ingest test results and evaluate the quality gate",
	Long: `Read every configured results directory (or the directories given as
arguments), derive retries, transitions and categories, append the run to the
history and evaluate the quality gate. Exits non-zero when the gate fails.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&summaryPath, "summary", "",
		"write a JSON summary of the report to this path")
	generateCmd.Flags().BoolVar(&skipHistory, "skip-history", false,
		"do not append this run to the history")
	generateCmd.Flags().BoolVar(&noColorOutput, "no-color", false,
		"disable colored verdict output")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Directories given on the command line replace the configured ones.
	if len(args) > 0 {
		cfg.Results.Directories = args
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// The flag wins over the config file when given explicitly.
	if !cmd.Flags().Changed("log-level") {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	owner, err := fsutil.ParseOwner(cfg.Results.ResultsOwner)
	if err != nil {
		return fmt.Errorf("parsing results_owner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional SQLite mirror of the history.
	var index indexstore.Store

	if cfg.History.Index.Enabled {
		index = indexstore.NewStore(log, &cfg.History.Index.SQLite)

		if err := index.Start(ctx); err != nil {
			return fmt.Errorf("starting history index: %w", err)
		}

		defer func() {
			if err := index.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop history index")
			}
		}()
	}

	// Load history.
	var (
		historySvc history.Service
		points     []model.HistoryDataPoint
	)

	if cfg.History.Path != "" {
		hcfg := history.Config{Path: cfg.History.Path, Owner: owner}
		if index != nil {
			hcfg.Recorder = index
		}

		historySvc, err = history.NewService(log, hcfg)
		if err != nil {
			return fmt.Errorf("creating history service: %w", err)
		}

		all, err := historySvc.Read(ctx, cfg.History.Branch)
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}

		points = history.Limit(all, cfg.History.Limit, history.OrderAsc)
	}

	// Load known issues.
	known := []model.KnownTestFailure{}

	if cfg.KnownIssues.Path != "" {
		known, err = knownissue.Read(log, cfg.KnownIssues.Path)
		if err != nil {
			return fmt.Errorf("reading known issues: %w", err)
		}
	}

	// Ingest results.
	var storeOpts []store.Option
	if cfg.Results.SpoolDir != "" {
		storeOpts = append(storeOpts, store.WithSpoolDir(cfg.Results.SpoolDir))
	}

	st := store.New(log, storeOpts...)

	defer func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Warn("Failed to remove spooled attachments")
		}
	}()

	readers := reader.NewDefault(log, reader.Options{
		XcrunPath:   cfg.Xcresult.XcrunPath,
		ToolTimeout: cfg.Xcresult.ToolTimeout,
	})

	stats, err := ingest.New(log, readers, cfg.Results.Concurrency).
		Ingest(ctx, st, cfg.Results.Directories...)
	if err != nil {
		return fmt.Errorf("ingesting results: %w", err)
	}

	if err := st.Finalize(ctx, points, known); err != nil {
		return fmt.Errorf("finalizing results: %w", err)
	}

	tree, err := buildCategories(cfg, st.AllTestResults())
	if err != nil {
		return err
	}

	gate, err := evaluateGate(cfg, st.AllTestResults(), known)
	if err != nil {
		return err
	}

	out := newPrinter(os.Stdout, noColorOutput)

	if err := stopOnGate(out, stats, gate); err != nil {
		return err
	}

	// Plugins.
	var plugins []plugin.Plugin

	if historySvc != nil && !skipHistory {
		plugins = append(plugins,
			plugin.NewHistoryPlugin(log, historySvc, cfg.History.Branch, cfg.History.URL))
	}

	plugins = append(plugins, plugin.NewSummaryPlugin(log, summaryPath, owner))

	// Known issues are exported before Done so the publish plugin sees them.
	if cfg.KnownIssues.ExportPath != "" {
		if err := exportKnownIssues(cfg.KnownIssues.ExportPath, st.AllTestResults(), known, owner); err != nil {
			return err
		}
	}

	if cfg.Publish.S3.Enabled {
		p, err := newPublishPlugin(cfg, historySvc)
		if err != nil {
			return err
		}

		plugins = append(plugins, p)
	}

	runner := plugin.NewRunner(log, plugins...)
	pc := &plugin.Context{
		ReportName:  cfg.Results.ReportName,
		ReportUUID:  uuid.NewString(),
		Store:       st,
		Categories:  tree,
		QualityGate: gate.Results,
	}

	if err := runner.Start(ctx, pc); err != nil {
		return err
	}

	if err := runner.Update(ctx, pc); err != nil {
		return err
	}

	if err := runner.Done(ctx, pc); err != nil {
		return err
	}

	summaries, err := runner.Info(ctx, pc)
	if err != nil {
		return err
	}

	out.ingest(stats)
	out.summaries(summaries)
	out.gate(gate)

	if !gate.Success {
		return errQualityGateFailed
	}

	return nil
}

// stopOnGate ends the run before history, summary or publishing when fast
// fail tripped the gate.
func stopOnGate(out *printer, stats *ingest.Stats, gate qualitygate.Report) error {
	if !gate.Stopped {
		return nil
	}

	out.ingest(stats)
	out.gate(gate)

	return errQualityGateFailed
}

func exportKnownIssues(
	path string, results []*model.TestResult, known []model.KnownTestFailure, owner *fsutil.OwnerConfig,
) error {
	entries := knownissue.FromResults(results, known)

	if err := knownissue.Write(path, entries, owner); err != nil {
		return fmt.Errorf("exporting known issues: %w", err)
	}

	log.WithFields(logrus.Fields{
		"path":    path,
		"entries": len(entries),
	}).Info("Exported known issues")

	return nil
}

// newPublishPlugin publishes the files this run wrote.
func newPublishPlugin(cfg *config.Config, historySvc history.Service) (plugin.Plugin, error) {
	publisher, err := publish.NewS3Publisher(log, &cfg.Publish.S3)
	if err != nil {
		return nil, fmt.Errorf("creating s3 publisher: %w", err)
	}

	var artifacts []publish.Artifact

	if summaryPath != "" {
		artifacts = append(artifacts, publish.Artifact{Path: summaryPath, Key: "summary.json"})
	}

	if historySvc != nil {
		path, err := historySvc.Path(cfg.History.Branch)
		if err != nil {
			return nil, fmt.Errorf("resolving history path: %w", err)
		}

		artifacts = append(artifacts, publish.Artifact{Path: path, Key: history.DefaultFileName})
	}

	if cfg.KnownIssues.ExportPath != "" {
		artifacts = append(artifacts, publish.Artifact{Path: cfg.KnownIssues.ExportPath, Key: "known-issues.json"})
	}

	return publish.NewPlugin(log, publisher, cfg.History.Branch, artifacts...), nil
}

// buildCategories loads the rules file first, then the inline rules, and
// builds the category tree of results.
func buildCategories(cfg *config.Config, results []*model.TestResult) (*category.Tree, error) {
	var configs []category.RuleConfig

	if cfg.Categories.Path != "" {
		fromFile, err := category.LoadRules(cfg.Categories.Path)
		if err != nil {
			return nil, fmt.Errorf("loading category rules: %w", err)
		}

		configs = append(configs, fromFile...)
	}

	if len(cfg.Categories.Rules) > 0 {
		inline, err := category.DecodeRules(cfg.Categories.Rules)
		if err != nil {
			return nil, fmt.Errorf("decoding inline category rules: %w", err)
		}

		configs = append(configs, inline...)
	}

	mode, err := category.ParseMode(cfg.Categories.Mode)
	if err != nil {
		return nil, fmt.Errorf("categories.mode: %w", err)
	}

	classifier, err := category.NewClassifier(category.BuildRules(log, configs), mode)
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}

	tree := classifier.BuildTree(results)

	log.WithFields(logrus.Fields{
		"rules": len(configs),
		"mode":  mode,
		"roots": len(tree.Roots),
	}).Debug("Built category tree")

	return tree, nil
}

// evaluateGate runs the configured quality gate. No configured rules
// yields a successful empty report.
func evaluateGate(
	cfg *config.Config, results []*model.TestResult, known []model.KnownTestFailure,
) (qualitygate.Report, error) {
	gcfg := qualitygate.Config{FastFail: cfg.QualityGate.FastFail}

	if cfg.QualityGate.Path != "" {
		fromFile, err := qualitygate.LoadConfig(cfg.QualityGate.Path)
		if err != nil {
			return qualitygate.Report{}, fmt.Errorf("loading quality gate: %w", err)
		}

		gcfg.FastFail = gcfg.FastFail || fromFile.FastFail
		gcfg.Use = fromFile.Use
		gcfg.Entries = fromFile.Entries
	}

	if len(cfg.QualityGate.Rules) > 0 {
		inline, err := qualitygate.DecodeEntries(cfg.QualityGate.Rules)
		if err != nil {
			return qualitygate.Report{}, fmt.Errorf("decoding inline quality gate rules: %w", err)
		}

		gcfg.Entries = append(gcfg.Entries, inline...)
	}

	registry, err := qualitygate.NewRegistry()
	if err != nil {
		return qualitygate.Report{}, fmt.Errorf("creating rule registry: %w", err)
	}

	evaluator, err := qualitygate.NewEvaluator(log, registry, gcfg)
	if err != nil {
		return qualitygate.Report{}, fmt.Errorf("creating quality gate: %w", err)
	}

	return evaluator.Evaluate(results, known), nil
}
