package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-price-sync/config"
	"github.com/aluiziolira/go-price-sync/fetcher"
	"github.com/aluiziolira/go-price-sync/logging"
	"github.com/aluiziolira/go-price-sync/metrics"
	"github.com/aluiziolira/go-price-sync/models"
	"github.com/aluiziolira/go-price-sync/pipeline"
	"github.com/aluiziolira/go-price-sync/runlock"
	"github.com/aluiziolira/go-price-sync/scraper"
	"github.com/aluiziolira/go-price-sync/sheet"
)

type runOptions struct {
	start  int
	end    int
	rows   string
	dryRun bool
}

func newRunCmd(cfg *config.Config) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run (--start N --end M | --rows 5,6,9)",
		Short: "Scrape the target rows and write prices, stock and sellers back to the sheet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := opts.target(cmd)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg, target, opts.dryRun)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.start, "start", 0, "First row to process (1-based, header excluded)")
	f.IntVar(&opts.end, "end", 0, "Last row to process, inclusive")
	f.StringVar(&opts.rows, "rows", "", "Explicit comma separated row ids")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Read the sheet but only log the planned writes")
	cmd.MarkFlagsMutuallyExclusive("rows", "start")
	cmd.MarkFlagsMutuallyExclusive("rows", "end")
	cmd.MarkFlagsRequiredTogether("start", "end")

	f.StringVar(&cfg.SheetBackend, "backend", cfg.SheetBackend, "Sheet backend: google or xlsx")
	f.StringVar(&cfg.SheetURL, "sheet", cfg.SheetURL, "Spreadsheet URL or id, or workbook path for xlsx")
	f.StringVar(&cfg.SheetName, "sheet-name", cfg.SheetName, "Worksheet name (defaults to the first)")
	f.StringVar(&cfg.CredentialsFile, "credentials", cfg.CredentialsFile, "Service account credentials JSON")
	f.StringVar(&cfg.FetchMode, "fetch-mode", cfg.FetchMode, "Page fetching: proxy or direct")
	f.StringVar(&cfg.ProxyBaseURL, "proxy-url", cfg.ProxyBaseURL, "Rendering proxy base URL")
	f.StringVar(&cfg.ProxyAPIKey, "proxy-key", cfg.ProxyAPIKey, "Rendering proxy API key")
	f.BoolVar(&cfg.ProxyBrowser, "proxy-browser", cfg.ProxyBrowser, "Ask the proxy to render with a browser")
	f.Float64Var(&cfg.ProxyRPS, "proxy-rps", cfg.ProxyRPS, "Proxy requests per second (0 disables limiting)")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "Rows processed concurrently")
	f.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "Rows per sheet write")
	f.DurationVar(&cfg.LinkDelay, "link-delay", cfg.LinkDelay, "Pause between links of one row")
	f.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Deadline for a single page fetch")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Append-only log file (empty disables)")
	f.StringVar(&cfg.LockFile, "lock-file", cfg.LockFile, "Lock file guarding concurrent runs")
	f.StringVar(&cfg.ReportFile, "report", cfg.ReportFile, "Write per-row results to this file")
	f.StringVar(&cfg.ReportFormat, "report-format", cfg.ReportFormat, "Report format: csv, json, or dual")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	return cmd
}

func (o *runOptions) target(cmd *cobra.Command) (models.Target, error) {
	if o.rows != "" {
		return models.ParseIDs(o.rows)
	}
	if !cmd.Flags().Changed("start") {
		return models.Target{}, errors.New("either --rows or --start/--end is required")
	}
	return models.RangeTarget(o.start, o.end), nil
}

func runSync(ctx context.Context, cfg *config.Config, target models.Target, dryRun bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := target.Validate(cfg.FirstDataRow); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}

	logger, logFile, err := logging.New(logging.Options{File: cfg.LogFile, Verbose: cfg.Verbose})
	if err != nil {
		return err
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	lock, err := runlock.Acquire(cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Error("release lock", slog.Any("error", err))
		}
	}()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, m)
		defer stopMetrics()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore.Close()
	if dryRun {
		dry, err := sheet.NewDryRun(ctx, store)
		if err != nil {
			return err
		}
		store = dry
	}

	values, err := store.Values(ctx)
	if err != nil {
		return fmt.Errorf("read sheet: %w", err)
	}
	if len(values) == 0 {
		return fmt.Errorf("sheet is empty: %w", sheet.ErrMissingColumn)
	}
	schema, err := sheet.ResolveSchema(values[0])
	if err != nil {
		return err
	}
	table := sheet.NewTable(values, schema, cfg.FirstDataRow)

	pages, err := newFetcher(cfg)
	if err != nil {
		return err
	}
	agg := scraper.NewAggregator(fetcher.NewRetrying(pages, cfg, m), cfg, m)
	proc := scraper.NewProcessor(agg, table, m)
	p := pipeline.NewPipeline(proc, table, sheet.NewWriter(store, cfg, m), cfg)

	slog.SetDefault(logger.With(slog.String("run_id", p.RunID())))
	slog.Info("starting sync",
		slog.String("target", target.String()),
		slog.String("backend", cfg.SheetBackend),
		slog.String("fetcher", cfg.FetchMode),
		slog.Int("workers", cfg.Workers),
		slog.Bool("dry_run", dryRun),
	)

	report, runErr := p.Run(ctx, target)
	if report != nil {
		if err := writeReport(cfg, report); err != nil {
			slog.Error("write run report", slog.Any("error", err))
		}
		printSummary(report)
	}
	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (sheet.Store, io.Closer, error) {
	switch cfg.SheetBackend {
	case "xlsx":
		x, err := sheet.OpenXLSX(cfg.SheetURL, cfg.SheetName)
		if err != nil {
			return nil, nil, err
		}
		return x, x, nil
	default:
		g, err := sheet.NewGoogle(ctx, cfg.CredentialsFile, cfg.SheetURL, cfg.SheetName)
		if err != nil {
			return nil, nil, err
		}
		return g, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newFetcher(cfg *config.Config) (fetcher.Fetcher, error) {
	if cfg.FetchMode == "direct" {
		return fetcher.NewDirect(cfg)
	}
	return fetcher.NewProxy(cfg), nil
}

func serveMetrics(addr string, m *metrics.Metrics) func() {
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func writeReport(cfg *config.Config, report *models.RunReport) error {
	if cfg.ReportFile == "" {
		return nil
	}
	w, err := pipeline.NewReportWriter(cfg.ReportFile, cfg.ReportFormat)
	if err != nil {
		return err
	}
	if err := w.Write(report.Results); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func printSummary(report *models.RunReport) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Sync complete")
	fmt.Printf("  Run id:        %s\n", report.RunID)
	fmt.Printf("  Rows targeted: %d\n", report.Targeted)
	fmt.Printf("  Processed:     %d\n", report.Processed)
	fmt.Printf("  Blocks:        %d\n", report.Blocks)
	fmt.Printf("  Retried:       %d\n", report.Retried)
	for _, status := range []models.Status{
		models.StatusSuccessful,
		models.StatusFailedRetryPending,
		models.StatusManualEntryRequired,
		models.StatusOutOfRange,
	} {
		if n := report.StatusCounts[status]; n > 0 {
			fmt.Printf("  %-14s %d\n", string(status)+":", n)
		}
	}
	if len(report.FailedRows) > 0 {
		fmt.Printf("  Failed rows:   %v\n", report.FailedRows)
	}
	if len(report.Interrupted) > 0 {
		fmt.Printf("  Interrupted:   %v\n", report.Interrupted)
	}
	if !report.EndTime.IsZero() {
		fmt.Printf("  Duration:      %v\n", report.EndTime.Sub(report.StartTime).Round(time.Millisecond))
	}
	fmt.Println(separator)
}
