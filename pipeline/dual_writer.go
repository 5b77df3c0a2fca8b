package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// DualJSONName derives the JSONL file name that accompanies a CSV file.
func DualJSONName(csvFilename string) string {
	return strings.TrimSuffix(csvFilename, ".csv") + ".jsonl"
}

type namedWriter struct {
	label string
	OutputWriter
}

// DualWriter exports the same dataset as CSV and as JSONL.
type DualWriter struct {
	targets []namedWriter
}

// NewDualWriter opens both files. Nothing is left open on failure.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("csv side: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("json side: %w", err)
	}
	return &DualWriter{targets: []namedWriter{
		{label: "csv", OutputWriter: csvWriter},
		{label: "json", OutputWriter: jsonWriter},
	}}, nil
}

// Write stops at the first side that fails.
func (dw *DualWriter) Write(ds *Dataset) error {
	for _, t := range dw.targets {
		if err := t.Write(ds); err != nil {
			return fmt.Errorf("%s side: %w", t.label, err)
		}
	}
	return nil
}

// Close closes every side and joins their errors.
func (dw *DualWriter) Close() error {
	return dw.each(func(w OutputWriter) error { return w.Close() })
}

// Validate checks every side and joins their errors.
func (dw *DualWriter) Validate() error {
	return dw.each(func(w OutputWriter) error { return w.Validate() })
}

func (dw *DualWriter) each(fn func(OutputWriter) error) error {
	var errs []error
	for _, t := range dw.targets {
		if err := fn(t.OutputWriter); err != nil {
			errs = append(errs, fmt.Errorf("%s side: %w", t.label, err))
		}
	}
	return errors.Join(errs...)
}
