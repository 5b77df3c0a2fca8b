// Package pipeline accumulates normalized rows into a rectangular dataset and
// writes that dataset to its export targets.
package pipeline

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/aluiziolira/go-scrape-plebs/models"
	"github.com/aluiziolira/go-scrape-plebs/parser"
)

// Dataset is the ordered set of rows collected by one run. Every row holds a
// value for every registered column.
type Dataset struct {
	columns []string
	known   map[string]struct{}
	rows    []models.Row
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{known: make(map[string]struct{})}
}

// Columns returns a copy of the column registry in first-seen order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// Rows returns the rows in arrival order. Callers must not modify them.
func (d *Dataset) Rows() []models.Row {
	return d.rows
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// HasColumn reports whether name is registered.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.known[name]
	return ok
}

// Record returns row i as text in column order.
func (d *Dataset) Record(i int) []string {
	row := d.rows[i]
	record := make([]string, len(d.columns))
	for j, col := range d.columns {
		record[j] = parser.FormatValue(row[col])
	}
	return record
}

// Accumulator owns a Dataset for the lifetime of a run and merges page
// batches into it.
type Accumulator struct {
	dataset *Dataset
	strip   []string

	stripped map[string]struct{}
	metrics  metrics
}

// NewAccumulator builds an accumulator that drops stripColumns, and their
// flattened children, from every row.
func NewAccumulator(stripColumns []string) *Accumulator {
	strip := make([]string, 0, len(stripColumns))
	for _, col := range stripColumns {
		if col = strings.TrimSpace(col); col != "" {
			strip = append(strip, col)
		}
	}
	return &Accumulator{
		dataset:  NewDataset(),
		strip:    strip,
		stripped: make(map[string]struct{}),
	}
}

// Dataset returns the accumulated dataset.
func (a *Accumulator) Dataset() *Dataset {
	return a.dataset
}

// Merge appends rows in order, widening the column registry to the union of
// all columns seen so far and filling every gap with models.Sentinel.
func (a *Accumulator) Merge(rows []models.Row) {
	if len(rows) == 0 {
		return
	}
	ds := a.dataset

	incoming := make([]models.Row, 0, len(rows))
	fresh := make(map[string]struct{})
	for _, row := range rows {
		if row == nil {
			continue
		}
		row = a.stripRow(row)
		for col := range row {
			if !ds.HasColumn(col) {
				fresh[col] = struct{}{}
			}
		}
		incoming = append(incoming, row)
	}

	if len(fresh) > 0 {
		added := make([]string, 0, len(fresh))
		for col := range fresh {
			added = append(added, col)
		}
		sort.Strings(added)
		for _, col := range added {
			ds.columns = append(ds.columns, col)
			ds.known[col] = struct{}{}
		}
		for _, existing := range ds.rows {
			for _, col := range added {
				existing[col] = models.Sentinel
			}
		}
	}

	for _, row := range incoming {
		if len(row) < len(ds.columns) {
			for _, col := range ds.columns {
				if _, ok := row[col]; !ok {
					row[col] = models.Sentinel
				}
			}
		}
		ds.rows = append(ds.rows, row)
	}

	a.metrics.addBatch(len(incoming))
}

// GetMetrics returns a snapshot of the internal counters.
func (a *Accumulator) GetMetrics() map[string]interface{} {
	snapshot := a.metrics.snapshot()
	snapshot["columns"] = len(a.dataset.columns)
	return snapshot
}

func (a *Accumulator) stripRow(row models.Row) models.Row {
	out := row.Clone()
	if len(a.strip) == 0 {
		return out
	}
	for col := range out {
		for _, name := range a.strip {
			if col == name || strings.HasPrefix(col, name+parser.Separator) {
				delete(out, col)
				if _, seen := a.stripped[col]; !seen {
					a.stripped[col] = struct{}{}
					a.metrics.addStripped()
					slog.Debug("stripping column", slog.String("column", col))
				}
				break
			}
		}
	}
	return out
}

type metrics struct {
	processed int64
	batches   int64
	stripped  int64
}

func (m *metrics) addBatch(rows int) {
	m.processed += int64(rows)
	m.batches++
}

func (m *metrics) addStripped() {
	m.stripped++
}

func (m *metrics) snapshot() map[string]interface{} {
	return map[string]interface{}{
		"processed_rows":   m.processed,
		"merged_batches":   m.batches,
		"stripped_columns": m.stripped,
	}
}
