package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/promptlint/promptlint/internal/cache"
	"github.com/promptlint/promptlint/internal/evaluation"
	"github.com/promptlint/promptlint/internal/execution"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/orchestration"
	"github.com/promptlint/promptlint/internal/projectconfig"
	"github.com/promptlint/promptlint/internal/reporting"
	"github.com/promptlint/promptlint/internal/scoring"
	"github.com/promptlint/promptlint/internal/spinner"
	"github.com/promptlint/promptlint/internal/telemetry"
	"github.com/promptlint/promptlint/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type runOptions struct {
	reportPath    string
	format        string
	runsOutput    string
	includeRaw    bool
	concurrency   int
	timeout       time.Duration
	noCache       bool
	cacheDir      string
	threshold     float64
	metricsFile   string
	promptFilters []string
	verbose       bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Run a prompt suite and score it",
		Long: `Run every prompt of a suite against the ladder of models and sampling
configs, then score the outputs.

Results are cached by (provider, model, prompt, sampling), so re-running an
unchanged suite only calls providers for cells that are new or failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.reportPath, "report", "o", "", "Write the report to this file")
	cmd.Flags().StringVar(&opts.format, "format", "", "Report format: markdown, json, html, junit (default: from the --report extension)")
	cmd.Flags().StringVar(&opts.runsOutput, "runs-output", "", "Write per-cell results as JSON to this file")
	cmd.Flags().BoolVar(&opts.includeRaw, "include-raw", false, "Include rendered prompts and per-constraint results in --runs-output")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Maximum concurrent provider calls (default: run.concurrency from the suite)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Per-call timeout overriding every provider's timeout_s")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Neither read nor write the result cache")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "Cache location overriding run.cache.path")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Exit with code 1 when the suite score is below this value")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")
	cmd.Flags().StringArrayVar(&opts.promptFilters, "prompt", nil, "Filter prompts by ID or tag glob pattern (can be repeated)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print every cell as it finishes")

	return cmd
}

func runSuite(cmd *cobra.Command, suitePath string, opts *runOptions) error {
	out := cmd.OutOrStdout()
	logger := slog.Default()

	suiteDir, err := filepath.Abs(filepath.Dir(suitePath))
	if err != nil {
		return fmt.Errorf("resolving suite directory: %w", err)
	}
	project, err := projectconfig.Load(suiteDir)
	if err != nil {
		return err
	}
	applyProjectDefaults(cmd, opts, project)

	if opts.threshold < 0 || opts.threshold > 1 {
		return fmt.Errorf("--threshold must be within [0,1], got %v", opts.threshold)
	}
	format, err := reportFormat(opts)
	if err != nil {
		return err
	}
	if err := loadEnv(suiteDir); err != nil {
		return err
	}

	suite, err := models.LoadSuite(suitePath)
	if err != nil {
		return fmt.Errorf("failed to load suite: %w", err)
	}
	if len(opts.promptFilters) > 0 {
		matched, err := orchestration.FilterPrompts(suite.Prompts, opts.promptFilters)
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			return fmt.Errorf("no prompts match --prompt %s", strings.Join(opts.promptFilters, ", "))
		}
	}

	registry, err := execution.Build(suite, execution.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("building providers: %w", err)
	}
	embedder, err := execution.BuildEmbedder(suite, execution.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	metrics := telemetry.NewMetrics()
	runnerOpts := []orchestration.RunnerOption{
		orchestration.WithLogger(logger),
		orchestration.WithMetrics(metrics),
		orchestration.WithPromptFilters(opts.promptFilters...),
		orchestration.WithConcurrency(opts.concurrency),
		orchestration.WithCallTimeout(opts.timeout),
		orchestration.WithProgress(utils.ProgressToSlog),
	}
	if embedder != nil {
		runnerOpts = append(runnerOpts, orchestration.WithEmbedder(embedder))
	}

	if suite.Run.CacheEnabled() && !opts.noCache {
		resultCache, err := openCache(ctx, suite.Run.Cache, opts.cacheDir, suiteDir, logger)
		if err != nil {
			return err
		}
		defer resultCache.Close() //nolint:errcheck
		runnerOpts = append(runnerOpts, orchestration.WithCache(resultCache))
	}

	runner := orchestration.NewRunner(registry, runnerOpts...)

	var spin *spinner.Spinner
	if opts.verbose {
		runner.OnProgress(verboseProgressListener(out))
	} else if isTerminal(cmd.ErrOrStderr()) {
		spin = spinner.Start(cmd.ErrOrStderr(), "Running "+suite.Name)
		defer spin.Stop()
		runner.OnProgress(spinnerProgressListener(spin))
	}

	fmt.Fprintf(out, "Running suite: %s\nLadder: %s (%d models)\nSampling configs: %d\n\n", //nolint:errcheck
		suite.Name, suite.Ladder.Name, len(suite.Ladder.Models), len(suite.Sampling))

	started := time.Now().UTC()
	matrix, err := runner.Run(ctx, suite)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	embeddings, embedErrs := runner.EmbedOutputs(ctx, matrix)
	for _, e := range embedErrs {
		logger.Warn("embeddings unavailable, falling back to lexical similarity", "error", e)
	}
	if spin != nil {
		spin.Stop()
	}

	ev := evaluation.New(suite.Run.Weights, logger)
	result := scoring.ScoreSuite(suite, matrix, embeddings, ev)
	result.RunID = uuid.NewString()
	result.StartedAt = started
	result.FinishedAt = time.Now().UTC()

	report := reporting.BuildReport(suite, result, ev.Weights())
	if err := reporting.PrintSummary(out, report); err != nil {
		return err
	}

	if opts.reportPath != "" {
		if err := reporting.WriteFile(opts.reportPath, report, format, opts.threshold); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		fmt.Fprintf(out, "Report saved to: %s\n", opts.reportPath) //nolint:errcheck
	}
	if opts.runsOutput != "" {
		if err := reporting.WriteRunsOutput(opts.runsOutput, result, opts.includeRaw); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cell results saved to: %s\n", opts.runsOutput) //nolint:errcheck
	}
	if opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %d of %d cells did not finish", countCancelled(matrix), matrix.Len())
	}

	if opts.threshold > 0 && !report.Passed(opts.threshold) {
		return &ThresholdError{
			Message: fmt.Sprintf("suite score %s is below threshold %.2f", reporting.FormatScore(report.Score.Score), opts.threshold),
		}
	}
	return nil
}

// applyProjectDefaults fills flags the user did not set from .promptlint.yaml.
func applyProjectDefaults(cmd *cobra.Command, opts *runOptions, project *projectconfig.ProjectConfig) {
	flags := cmd.Flags()
	d := project.Defaults
	if !flags.Changed("concurrency") && d.Concurrency > 0 {
		opts.concurrency = d.Concurrency
	}
	if !flags.Changed("timeout") && d.TimeoutSec > 0 {
		opts.timeout = time.Duration(d.TimeoutSec) * time.Second
	}
	if !flags.Changed("threshold") && d.Threshold > 0 {
		opts.threshold = d.Threshold
	}
	if !flags.Changed("format") && d.Format != "" {
		opts.format = d.Format
	}
	if !flags.Changed("verbose") && d.Verbose != nil {
		opts.verbose = *d.Verbose
	}
	if !flags.Changed("no-cache") && project.Cache.Enabled != nil && !*project.Cache.Enabled {
		opts.noCache = true
	}
	if !flags.Changed("cache-dir") && project.CacheDir() != "" {
		opts.cacheDir = project.CacheDir()
	}
}

// reportFormat resolves --format, falling back to the --report extension.
func reportFormat(opts *runOptions) (reporting.Format, error) {
	if opts.format != "" {
		return reporting.ParseFormat(opts.format)
	}
	switch strings.ToLower(filepath.Ext(opts.reportPath)) {
	case ".json":
		return reporting.FormatJSON, nil
	case ".html", ".htm":
		return reporting.FormatHTML, nil
	case ".xml":
		return reporting.FormatJUnit, nil
	default:
		return reporting.FormatMarkdown, nil
	}
}

// loadEnv reads .env from the suite directory and then the working
// directory. Variables already set are never overridden.
func loadEnv(suiteDir string) error {
	for _, path := range []string{filepath.Join(suiteDir, ".env"), ".env"} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// openCache opens the configured backend. A relative path is resolved
// against the suite directory; --cache-dir wins over the suite.
func openCache(ctx context.Context, settings models.CacheSettings, override, suiteDir string, logger *slog.Logger) (*cache.Cache, error) {
	settings.Path = resolvedCachePath(settings, override, suiteDir)

	backend, err := cache.Open(ctx, settings, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s cache: %w", settings.Backend, err)
	}
	return cache.New(backend, logger), nil
}

func countCancelled(m *orchestration.Matrix) int {
	n := 0
	for _, c := range m.Cells() {
		if c.Result != nil && c.Result.ErrorKind == models.ErrorKindCancelled {
			n++
		}
	}
	return n
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
