package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/indexer"
	"github.com/aluiziolira/go-scrape-plebs/models"
	"github.com/aluiziolira/go-scrape-plebs/pipeline"
	"github.com/aluiziolira/go-scrape-plebs/scraper"
)

var (
	startDate string
	endDate   string

	importDateColumn string
	importDateFormat string
	importKind       string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape one date range and export it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("start") {
			cfg.StartDate = startDate
		}
		if cmd.Flags().Changed("end") {
			cfg.EndDate = endDate
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, stop := signalContext()
		defer stop()

		metrics := scraper.NewMetrics()
		shutdown := serveMetrics(cfg.MetricsAddr, metrics)
		defer shutdown()

		idx, err := newIndexer(cfg)
		if err != nil {
			return err
		}

		result, err := runOnce(ctx, cfg, metrics, idx)
		if err != nil {
			return err
		}
		if result.Status == models.StatusAborted {
			return fmt.Errorf("run aborted: %w", result.AbortReason)
		}
		return nil
	},
}

var scrapeMonthCmd = &cobra.Command{
	Use:   "scrape-month YEAR MONTH",
	Short: "Scrape every day of a month as separate one-day runs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid year %q: %w", args[0], err)
		}
		month, err := strconv.Atoi(args[1])
		if err != nil || month < 1 || month > 12 {
			return fmt.Errorf("invalid month %q", args[1])
		}
		return runDays(cmd, config.DaysInMonth(year, time.Month(month)))
	},
}

var scrapeYearCmd = &cobra.Command{
	Use:   "scrape-year YEAR",
	Short: "Scrape every day of a year as separate one-day runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid year %q: %w", args[0], err)
		}
		var days []time.Time
		for month := time.January; month <= time.December; month++ {
			days = append(days, config.DaysInMonth(year, month)...)
		}
		return runDays(cmd, days)
	},
}

var importCSVCmd = &cobra.Command{
	Use:   "import-csv FILE",
	Short: "Load an existing CSV export into the Elasticsearch index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Index.DateColumn = importDateColumn
		cfg.Index.DateFormat = importDateFormat
		if cmd.Flags().Changed("kind") {
			cfg.Index.DocumentKind = importKind
		}
		if err := cfg.Index.Validate(); err != nil {
			return fmt.Errorf("invalid index configuration: %w", err)
		}

		ds, err := pipeline.ReadCSV(args[0], cfg.StripColumns)
		if err != nil {
			return err
		}
		trimmed := trimFraction(ds, cfg.Index.DateColumn)
		slog.Info("csv loaded",
			slog.String("file", args[0]),
			slog.Int("rows", ds.Len()),
			slog.Int("columns", len(ds.Columns())),
			slog.Int("trimmed_dates", trimmed),
		)

		client, err := indexer.New(cfg.Index)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		report, err := client.Index(ctx, ds.Rows())
		if report != nil {
			slog.Info("csv indexed",
				slog.String("index", report.Index),
				slog.Bool("created", report.Created),
				slog.Int("indexed", report.Indexed),
				slog.Int("submitted", report.Submitted),
			)
		}
		return err
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&startDate, "start", "", "First day to search (YYYY-MM-DD)")
	scrapeCmd.Flags().StringVar(&endDate, "end", "", "Last day to search (YYYY-MM-DD)")

	importCSVCmd.Flags().StringVar(&importDateColumn, "date-column", "publish_date", "Column mapped as a date")
	importCSVCmd.Flags().StringVar(&importDateFormat, "date-format", "yyyy-MM-dd HH:mm:ss", "Elasticsearch date format of the date column")
	importCSVCmd.Flags().StringVar(&importKind, "kind", "", "Document type name (empty for typeless)")
}

// runOnce builds a fresh scraper for cfg, runs it, and prints the summary.
func runOnce(ctx context.Context, cfg *config.Config, metrics *scraper.Metrics, idx pipeline.DocumentIndexer) (*scraper.Result, error) {
	s, err := scraper.NewScraper(cfg, scraper.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("initialising scraper: %w", err)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, pipeline.NewExporter(cfg, idx))
	if result != nil {
		printSummary(result, time.Since(startTime))
	}
	return result, err
}

// runDays scrapes each day as its own run over [day, day+1], pausing one
// pacing interval between runs. A failed day is logged and skipped.
func runDays(cmd *cobra.Command, days []time.Time) error {
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	metrics := scraper.NewMetrics()
	shutdown := serveMetrics(base.MetricsAddr, metrics)
	defer shutdown()

	idx, err := newIndexer(base)
	if err != nil {
		return err
	}

	failed := 0
	for i, day := range days {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted before %s: %w", day.Format(config.DateLayout), ctx.Err())
		}
		if i > 0 {
			if err := scraper.Sleep(ctx, base.Interval()); err != nil {
				return fmt.Errorf("interrupted before %s: %w", day.Format(config.DateLayout), err)
			}
		}

		cfg := dayConfig(base, day)
		result, err := runOnce(ctx, cfg, metrics, idx)
		switch {
		case err != nil:
			failed++
			slog.Error("day failed", slog.String("day", cfg.StartDate), slog.Any("error", err))
		case result.Status == models.StatusAborted:
			failed++
			slog.Warn("day aborted", slog.String("day", cfg.StartDate), slog.Any("reason", result.AbortReason))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d days failed", failed, len(days))
	}
	return nil
}

// dayConfig scopes base to one day. An explicit output file gets the day
// appended so runs do not overwrite each other.
func dayConfig(base *config.Config, day time.Time) *config.Config {
	cfg := base.WithDateRange(day.Format(config.DateLayout), day.AddDate(0, 0, 1).Format(config.DateLayout))
	if cfg.OutputFile != "" {
		ext := filepath.Ext(cfg.OutputFile)
		cfg.OutputFile = strings.TrimSuffix(cfg.OutputFile, ext) + "_" + cfg.StartDate + ext
	}
	return cfg
}

// trimFraction cuts fractional seconds ("2016-05-05 10:00:00.123") from the
// date column and returns how many values changed.
func trimFraction(ds *pipeline.Dataset, column string) int {
	if column == "" || !ds.HasColumn(column) {
		return 0
	}
	changed := 0
	for _, row := range ds.Rows() {
		value, ok := row[column].(string)
		if !ok || value == models.Sentinel {
			continue
		}
		if head, _, found := strings.Cut(value, "."); found {
			row[column] = head
			changed++
		}
	}
	return changed
}

func newIndexer(cfg *config.Config) (pipeline.DocumentIndexer, error) {
	if cfg.OutputFormat != config.ModeIndex {
		return nil, nil
	}
	client, err := indexer.New(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("initialising indexer: %w", err)
	}
	return client, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, finishing the current page and exporting")
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			close(done)
			<-exited
			stop()
		})
	}
}

func serveMetrics(addr string, metrics *scraper.Metrics) func() {
	if addr == "" {
		return func() {}
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}
