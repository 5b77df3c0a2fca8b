package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteWriter stores a dataset as one table with a TEXT column per dataset
// column. The table is replaced on every write.
type SQLiteWriter struct {
	db    *sql.DB
	path  string
	table string
}

// NewSQLiteWriter opens (or creates) the database file.
func NewSQLiteWriter(filename, table string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", filename, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return &SQLiteWriter{db: db, path: filename, table: table}, nil
}

// Write recreates the table and inserts every row in one transaction.
func (sw *SQLiteWriter) Write(ds *Dataset) error {
	return sw.WriteContext(context.Background(), ds)
}

// WriteContext is Write bound to ctx.
func (sw *SQLiteWriter) WriteContext(ctx context.Context, ds *Dataset) error {
	columns := ds.Columns()
	if len(columns) == 0 {
		return nil
	}

	tx, err := sw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	table := quoteIdent(sw.table)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop table %s: %w", sw.table, err)
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = quoteIdent(col) + " TEXT"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", sw.table, err)
	}

	names := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, col := range columns {
		names[i] = quoteIdent(col)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for i := 0; i < ds.Len(); i++ {
		for j, value := range ds.Record(i) {
			args[j] = value
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	return sw.db.Close()
}

// Validate ensures the table exists.
func (sw *SQLiteWriter) Validate() error {
	var name string
	err := sw.db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", sw.table).Scan(&name)
	if err != nil {
		return fmt.Errorf("table %s missing in %s: %w", sw.table, sw.path, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
