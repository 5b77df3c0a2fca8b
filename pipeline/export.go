package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/indexer"
	"github.com/aluiziolira/go-scrape-plebs/models"
)

// ErrNoIndexer is returned for index exports without an indexer.
var ErrNoIndexer = errors.New("pipeline: index export requires an indexer")

// DocumentIndexer submits rows to a search index.
type DocumentIndexer interface {
	Index(ctx context.Context, rows []models.Row) (*indexer.Report, error)
}

// ExportResult describes what the exporter wrote.
type ExportResult struct {
	Mode    string
	Target  string
	Rows    int
	Columns int
	Skipped bool
	Index   *indexer.Report
}

// Exporter writes a finished dataset to the configured target.
type Exporter struct {
	cfg     *config.Config
	indexer DocumentIndexer
}

// NewExporter builds an exporter. idx may be nil unless the output format is
// index.
func NewExporter(cfg *config.Config, idx DocumentIndexer) *Exporter {
	return &Exporter{cfg: cfg, indexer: idx}
}

// NewOutputWriter opens the file writer for a file-based format.
func NewOutputWriter(format, filename, table string) (OutputWriter, error) {
	switch format {
	case config.ModeJSON:
		return NewJSONWriter(filename)
	case config.ModeCSV:
		return NewCSVWriter(filename)
	case config.ModeDual:
		return NewDualWriter(filename, DualJSONName(filename))
	case config.ModeSQLite:
		return NewSQLiteWriter(filename, table)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Export writes ds once. An empty dataset is skipped.
func (e *Exporter) Export(ctx context.Context, ds *Dataset) (*ExportResult, error) {
	result := &ExportResult{
		Mode:    e.cfg.OutputFormat,
		Columns: len(ds.Columns()),
	}
	if e.cfg.OutputFormat == config.ModeIndex {
		result.Target = e.cfg.Index.Name
	} else {
		result.Target = e.cfg.ResolveOutputFile()
	}

	if ds.Len() == 0 {
		result.Skipped = true
		slog.Warn("nothing to export", slog.String("mode", result.Mode), slog.String("target", result.Target))
		return result, nil
	}

	var err error
	if e.cfg.OutputFormat == config.ModeIndex {
		err = e.exportIndex(ctx, ds, result)
	} else {
		err = e.exportFile(ctx, ds, result)
	}
	if err != nil {
		slog.Error("export failed",
			slog.String("mode", result.Mode),
			slog.String("target", result.Target),
			slog.Int("rows_written", result.Rows),
			slog.Any("error", err),
		)
		return result, err
	}

	slog.Info("export finished",
		slog.String("mode", result.Mode),
		slog.String("target", result.Target),
		slog.Int("rows", result.Rows),
		slog.Int("columns", result.Columns),
	)
	return result, nil
}

func (e *Exporter) exportFile(ctx context.Context, ds *Dataset, result *ExportResult) (err error) {
	writer, err := NewOutputWriter(e.cfg.OutputFormat, result.Target, e.cfg.SQLiteTable)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", cerr)
		}
	}()

	if sw, ok := writer.(*SQLiteWriter); ok {
		err = sw.WriteContext(ctx, ds)
	} else {
		err = writer.Write(ds)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", result.Target, err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("validate %s: %w", result.Target, err)
	}
	result.Rows = ds.Len()
	return nil
}

func (e *Exporter) exportIndex(ctx context.Context, ds *Dataset, result *ExportResult) error {
	if e.indexer == nil {
		return ErrNoIndexer
	}
	report, err := e.indexer.Index(ctx, ds.Rows())
	result.Index = report
	if report != nil {
		result.Rows = report.Indexed
		if report.Created {
			slog.Info("index created", slog.String("index", report.Index))
		}
	}
	return err
}
