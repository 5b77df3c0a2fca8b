package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/indexer"
	"github.com/aluiziolira/go-scrape-plebs/models"
)

type stubIndexer struct {
	rows []models.Row
	err  error
}

func (s *stubIndexer) Index(_ context.Context, rows []models.Row) (*indexer.Report, error) {
	s.rows = rows
	report := &indexer.Report{Index: "dataframe", Created: true, Submitted: len(rows), Indexed: len(rows), Lines: 2 * len(rows)}
	if s.err != nil {
		report.Indexed = 0
	}
	return report, s.err
}

func exportConfig(t *testing.T, format string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StartDate = "2016-05-05"
	cfg.EndDate = "2016-05-06"
	cfg.OutputFormat = format
	cfg.OutputFile = filepath.Join(t.TempDir(), "export."+format)
	return cfg
}

func TestExporterWritesFileFormats(t *testing.T) {
	for _, format := range []string{config.ModeCSV, config.ModeJSON, config.ModeDual, config.ModeSQLite} {
		t.Run(format, func(t *testing.T) {
			cfg := exportConfig(t, format)
			result, err := NewExporter(cfg, nil).Export(context.Background(), sampleDataset())
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if result.Rows != 4 || result.Columns != 4 || result.Target != cfg.OutputFile {
				t.Fatalf("unexpected result: %+v", result)
			}
			if info, err := os.Stat(cfg.OutputFile); err != nil || info.Size() == 0 {
				t.Fatalf("output file missing or empty: %v", err)
			}
		})
	}
}

func TestExporterSkipsEmptyDataset(t *testing.T) {
	cfg := exportConfig(t, config.ModeCSV)
	result, err := NewExporter(cfg, nil).Export(context.Background(), NewDataset())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("empty dataset should be skipped")
	}
	if _, err := os.Stat(cfg.OutputFile); !os.IsNotExist(err) {
		t.Fatalf("no file should be created, stat err = %v", err)
	}
}

func TestExporterIndexMode(t *testing.T) {
	cfg := exportConfig(t, config.ModeIndex)
	idx := &stubIndexer{}

	result, err := NewExporter(cfg, idx).Export(context.Background(), sampleDataset())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(idx.rows) != 4 {
		t.Fatalf("indexer received %d rows, want 4", len(idx.rows))
	}
	if result.Target != cfg.Index.Name || result.Rows != 4 || result.Index == nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, row := range idx.rows {
		if _, ok := row["media"]; ok {
			t.Fatalf("stripped column reached the indexer: %v", row)
		}
	}
}

func TestExporterIndexFailure(t *testing.T) {
	cfg := exportConfig(t, config.ModeIndex)
	bulkErr := &indexer.BulkWriteError{Index: "dataframe", Submitted: 4, Status: 413}

	result, err := NewExporter(cfg, &stubIndexer{err: bulkErr}).Export(context.Background(), sampleDataset())
	var target *indexer.BulkWriteError
	if !errors.As(err, &target) {
		t.Fatalf("err = %v, want *indexer.BulkWriteError", err)
	}
	if result.Rows != 0 {
		t.Fatalf("rows = %d, want 0", result.Rows)
	}
}

func TestExporterIndexWithoutIndexer(t *testing.T) {
	cfg := exportConfig(t, config.ModeIndex)
	_, err := NewExporter(cfg, nil).Export(context.Background(), sampleDataset())
	if !errors.Is(err, ErrNoIndexer) {
		t.Fatalf("err = %v, want ErrNoIndexer", err)
	}
}

func TestNewOutputWriterRejectsUnknownFormat(t *testing.T) {
	if _, err := NewOutputWriter("parquet", filepath.Join(t.TempDir(), "x"), "posts"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
