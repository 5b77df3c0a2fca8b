package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/models"
	"github.com/aluiziolira/go-scrape-plebs/scraper"
)

var (
	configPath  string
	envFile     string
	verbose     bool
	baseURL     string
	boards      []string
	pageLimit   int
	rpm         float64
	maxAttempts int
	outputFile  string
	format      string
	stripCols   []string
	metricsAddr string
	esAddresses []string
	indexName   string
)

var rootCmd = &cobra.Command{
	Use:           "scraper",
	Short:         "Download 4plebs archive search results into CSV, SQLite, or Elasticsearch",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger, level := newLogger(verbose)
		slog.SetDefault(logger)
		slog.SetLogLoggerLevel(level.Level())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML config file applied over the defaults")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file with SCRAPER_* variables")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&baseURL, "base-url", "", "Archive search API endpoint")
	flags.StringSliceVar(&boards, "boards", nil, "Boards to search (comma separated)")
	flags.IntVar(&pageLimit, "pages", 0, "Last page to fetch, 0 for no limit")
	flags.Float64Var(&rpm, "rpm", 0, "Requests per minute")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "Consecutive failures of one page before the run aborts")
	flags.StringVarP(&outputFile, "output", "o", "", "Output file path (default <start>_<end>_<boards>.<ext>)")
	flags.StringVar(&format, "format", "", "Output format: csv, json, dual, sqlite, or index")
	flags.StringSliceVar(&stripCols, "strip", nil, "Columns removed before export")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.StringSliceVar(&esAddresses, "es-address", nil, "Elasticsearch node addresses")
	flags.StringVar(&indexName, "index", "", "Elasticsearch index name")

	rootCmd.AddCommand(scrapeCmd, scrapeMonthCmd, scrapeYearCmd, importCSVCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadConfig layers defaults, the YAML file, the environment, and changed
// flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if flags.Changed("boards") {
		cfg.Boards = boards
	}
	if flags.Changed("pages") {
		cfg.PageLimit = pageLimit
	}
	if flags.Changed("rpm") {
		cfg.RequestsPerMinute = rpm
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = maxAttempts
	}
	if flags.Changed("output") {
		cfg.OutputFile = outputFile
	}
	if flags.Changed("format") {
		cfg.OutputFormat = strings.ToLower(format)
	}
	if flags.Changed("strip") {
		cfg.StripColumns = stripCols
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("es-address") {
		cfg.Index.Addresses = esAddresses
	}
	if flags.Changed("index") {
		cfg.Index.Name = indexName
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func printSummary(result *scraper.Result, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Status == models.StatusAborted {
		fmt.Println("Scrape aborted")
	} else {
		fmt.Println("Scrape complete")
	}

	fmt.Printf("  Run:           %s\n", result.RunID)
	fmt.Printf("  Pages:         %d (last requested %d)\n", result.PageCount, result.LastPage)
	fmt.Printf("  Rows:          %d x %d columns\n", result.RowCount, result.ColumnCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if result.AbortReason != nil {
		fmt.Printf("  Abort reason:  %v\n", result.AbortReason)
	}
	rowsPerSec := 0.0
	if duration.Seconds() > 0 {
		rowsPerSec = float64(result.RowCount) / duration.Seconds()
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Rows/sec:      %.2f\n", rowsPerSec)
	switch {
	case result.Export == nil:
	case result.Export.Skipped:
		fmt.Printf("  Output:        skipped (empty dataset)\n")
	default:
		fmt.Printf("  Output:        %s (%s, %d rows)\n", result.Export.Target, result.Export.Mode, result.Export.Rows)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
