package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/importer"
	"github.com/opensource-finance/kestrel/internal/narrator"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Version is set via ldflags.
var Version = "dev"

type options struct {
	file       string
	seed       uint64
	overdue    string
	narrator   string
	horizons   []int
	iterations int
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:     "analyze",
		Short:   "Run Kestrel analyses over a transaction CSV",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.file, "file", "f", "", "transaction CSV (required)")
	flags.Uint64Var(&opts.seed, "seed", 42, "seed for the simulation and isolation forest")
	flags.StringVar(&opts.overdue, "overdue-reference", string(domain.OverdueSeries), "debtor_overdue reference: series or wall_clock")
	flags.StringVar(&opts.narrator, "narrator", "fallback", "narrator provider: fallback, auto or genai")
	_ = rootCmd.MarkPersistentFlagRequired("file")

	rootCmd.AddCommand(
		newAllCommand(opts),
		newRiskCommand(opts),
		newForecastCommand(opts),
		newSimulateCommand(opts),
		newAnomaliesCommand(opts),
	)
	return rootCmd
}

func addHorizonsFlag(cmd *cobra.Command, opts *options) {
	cmd.Flags().IntSliceVar(&opts.horizons, "horizons", nil, "forecast horizons in days (default 30,60,90)")
}

func addIterationsFlag(cmd *cobra.Command, opts *options) {
	cmd.Flags().IntVar(&opts.iterations, "iterations", 0, "Monte Carlo iterations (default 1000)")
}

func newAllCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run every analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, svc *analytics.Service, series domain.Series) (any, error) {
				return svc.Analyze(ctx, "", "", series)
			})
		},
	}

	addHorizonsFlag(cmd, opts)
	addIterationsFlag(cmd, opts)
	return cmd
}

func newRiskCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Score risk components and rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, svc *analytics.Service, series domain.Series) (any, error) {
				return svc.Risk(ctx, "", "", series, analytics.ReportMetadata("", series))
			})
		},
	}
}

func newForecastCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project revenue, expenses and runway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, svc *analytics.Service, series domain.Series) (any, error) {
				return svc.Forecast(ctx, "", series, nil)
			})
		},
	}

	addHorizonsFlag(cmd, opts)
	return cmd
}

func newSimulateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the Monte Carlo insolvency stress test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, svc *analytics.Service, series domain.Series) (any, error) {
				return svc.Simulate(ctx, "", series, 0)
			})
		},
	}

	addIterationsFlag(cmd, opts)
	return cmd
}

func newAnomaliesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "anomalies",
		Short: "Flag unusual transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, svc *analytics.Service, series domain.Series) (any, error) {
				return svc.Anomalies(ctx, "", series)
			})
		},
	}
}

type analysisFunc func(ctx context.Context, svc *analytics.Service, series domain.Series) (any, error)

// run loads the CSV, builds an uncached service and prints the result as
// indented JSON.
func run(cmd *cobra.Command, opts *options, analyze analysisFunc) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	series, err := importer.Load(opts.file)
	if err != nil {
		return fmt.Errorf("loading %s: %w", opts.file, err)
	}

	svc, err := newService(ctx, opts)
	if err != nil {
		return err
	}

	result, err := analyze(ctx, svc, series)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func newService(ctx context.Context, opts *options) (*analytics.Service, error) {
	ref := domain.OverdueReference(opts.overdue)
	if !ref.Valid() {
		return nil, fmt.Errorf("invalid overdue reference %q", opts.overdue)
	}

	engine, err := rules.NewEngine(rules.WithOverdueReference(ref))
	if err != nil {
		return nil, fmt.Errorf("creating rule engine: %w", err)
	}

	cfg := domain.DefaultConfig()
	cfg.Analytics.Seed = opts.seed
	if len(opts.horizons) > 0 {
		cfg.Analytics.Horizons = opts.horizons
	}
	if opts.iterations > 0 {
		cfg.Analytics.Iterations = opts.iterations
	}
	cfg.Narrator.Provider = opts.narrator
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Narrator.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scorer := risk.NewScorer(engine, narrator.New(ctx, cfg.Narrator))
	return analytics.NewService(cfg.Analytics, scorer, nil), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
