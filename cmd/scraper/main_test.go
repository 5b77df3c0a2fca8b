package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/models"
	"github.com/aluiziolira/go-scrape-plebs/pipeline"
)

func TestLoadConfigLayering(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "scraper.yaml")
	if err := os.WriteFile(yamlPath, []byte("page_limit: 9\nrequests_per_min: 2\noutput_format: sqlite\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SCRAPER_BOARDS=pol,tv\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("SCRAPER_BOARDS") })
	t.Setenv("SCRAPER_REQUESTS_PER_MIN", "12")

	configPath, envFile = yamlPath, envPath
	t.Cleanup(func() { configPath, envFile = "", ".env" })

	if err := scrapeCmd.ParseFlags([]string{"--pages", "3"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(scrapeCmd)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.PageLimit != 3 {
		t.Fatalf("page limit = %d, flag should win", cfg.PageLimit)
	}
	if cfg.RequestsPerMinute != 12 {
		t.Fatalf("rpm = %v, environment should override yaml", cfg.RequestsPerMinute)
	}
	if cfg.OutputFormat != config.ModeSQLite {
		t.Fatalf("format = %q, want yaml value", cfg.OutputFormat)
	}
	if !reflect.DeepEqual(cfg.Boards, []string{"pol", "tv"}) {
		t.Fatalf("boards = %v, want dotenv value", cfg.Boards)
	}
}

func TestLoadConfigMissingEnvFile(t *testing.T) {
	envFile = filepath.Join(t.TempDir(), "absent.env")
	t.Cleanup(func() { envFile = ".env" })

	if _, err := loadConfig(importCSVCmd); err != nil {
		t.Fatalf("missing dotenv file should be ignored: %v", err)
	}
}

func TestDayConfig(t *testing.T) {
	base := config.DefaultConfig()
	day := time.Date(2016, time.February, 29, 0, 0, 0, 0, time.UTC)

	cfg := dayConfig(base, day)
	if cfg.StartDate != "2016-02-29" || cfg.EndDate != "2016-03-01" {
		t.Fatalf("range = %s..%s", cfg.StartDate, cfg.EndDate)
	}
	if cfg.OutputFile != "" {
		t.Fatalf("default output should stay derived, got %q", cfg.OutputFile)
	}
	if base.StartDate != "" {
		t.Fatalf("base config was mutated")
	}

	base.OutputFile = "out/pol.csv"
	if got := dayConfig(base, day).OutputFile; got != "out/pol_2016-02-29.csv" {
		t.Fatalf("output = %q", got)
	}
}

func TestTrimFraction(t *testing.T) {
	acc := pipeline.NewAccumulator(nil)
	acc.Merge([]models.Row{
		{"publish_date": "2016-05-05 10:00:00.123", "title": "a"},
		{"publish_date": "2016-05-05 11:00:00", "title": "b.c"},
		{"publish_date": models.Sentinel, "title": "d"},
	})
	ds := acc.Dataset()

	if got := trimFraction(ds, "publish_date"); got != 1 {
		t.Fatalf("trimmed = %d, want 1", got)
	}
	if ds.Rows()[0]["publish_date"] != "2016-05-05 10:00:00" {
		t.Fatalf("value = %v", ds.Rows()[0]["publish_date"])
	}
	if ds.Rows()[1]["title"] != "b.c" {
		t.Fatalf("other columns must not change")
	}
	if trimFraction(ds, "missing") != 0 {
		t.Fatalf("unknown column should be a no-op")
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func TestSignalContextQuietOnNormalExit(t *testing.T) {
	logs := captureLogs(t)

	ctx, stop := signalContext()
	stop()
	stop()

	if ctx.Err() == nil {
		t.Fatalf("context should be done after stop")
	}
	if strings.Contains(logs.String(), "shutdown signal") {
		t.Fatalf("normal exit logged a shutdown: %s", logs.String())
	}
}

func TestSignalContextLogsOnSignal(t *testing.T) {
	logs := captureLogs(t)

	ctx, stop := signalContext()
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send signal: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("signal did not cancel the context")
	}
	stop()

	if !strings.Contains(logs.String(), "shutdown signal received") {
		t.Fatalf("signal was not logged: %q", logs.String())
	}
}
