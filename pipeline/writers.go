package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-plebs/models"
)

// OutputWriter defines the interface for dataset file output.
type OutputWriter interface {
	Write(ds *Dataset) error
	Close() error
	Validate() error
}

// CSVWriter writes a dataset as a header row followed by one record per row.
// A writer is owned by a single export and is not safe for concurrent use.
type CSVWriter struct {
	file *os.File
	out  *csv.Writer
}

// NewCSVWriter creates the output file.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	return &CSVWriter{file: f, out: csv.NewWriter(f)}, nil
}

// Write emits the header and every row in column order.
func (cw *CSVWriter) Write(ds *Dataset) error {
	if err := cw.out.Write(ds.Columns()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := 0; i < ds.Len(); i++ {
		if err := cw.out.Write(ds.Record(i)); err != nil {
			return fmt.Errorf("write csv record %d: %w", i, err)
		}
	}
	cw.out.Flush()
	if err := cw.out.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes any buffered record and closes the file.
func (cw *CSVWriter) Close() error {
	cw.out.Flush()
	return errors.Join(cw.out.Error(), cw.file.Close())
}

// Validate reports an error when nothing reached the file.
func (cw *CSVWriter) Validate() error {
	return checkNonEmpty(cw.file.Name())
}

// JSONWriter writes one JSON document per row (JSONL).
type JSONWriter struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewJSONWriter creates the output file.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buf := bufio.NewWriter(f)
	return &JSONWriter{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write appends rows in JSONL format.
func (jw *JSONWriter) Write(ds *Dataset) error {
	for i, row := range ds.Rows() {
		if err := jw.enc.Encode(row); err != nil {
			return fmt.Errorf("encode json record %d: %w", i, err)
		}
	}

	if err := jw.buf.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes the buffer and closes the file.
func (jw *JSONWriter) Close() error {
	return errors.Join(jw.buf.Flush(), jw.file.Close())
}

// Validate reports an error when nothing reached the file.
func (jw *JSONWriter) Validate() error {
	return checkNonEmpty(jw.file.Name())
}

// ReadCSV loads a CSV file with a header row into a dataset. Empty cells
// become models.Sentinel.
func ReadCSV(filename string, stripColumns []string) (*Dataset, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("csv header is empty")
	}

	acc := NewAccumulator(stripColumns)
	batch := make([]models.Row, 0, 256)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := make(models.Row, len(header))
		for i, col := range header {
			// pandas writes its row index under an empty header
			if col == "" {
				continue
			}
			value := ""
			if i < len(record) {
				value = strings.TrimSpace(record[i])
			}
			if value == "" {
				value = models.Sentinel
			}
			row[col] = value
		}
		batch = append(batch, row)
		if len(batch) == cap(batch) {
			acc.Merge(batch)
			batch = make([]models.Row, 0, 256)
		}
	}
	acc.Merge(batch)
	return acc.Dataset(), nil
}

func checkNonEmpty(filename string) error {
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filename, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", filename)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
