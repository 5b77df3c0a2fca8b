// Package parser decodes archive search pages and flattens their posts into
// rows.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aluiziolira/go-scrape-plebs/models"
)

// Separator joins nested object keys into a column name.
const Separator = "."

const (
	envelopeKey = "0"
	postsKey    = "posts"
	errorKey    = "error"
)

// ErrNoMorePages reports that the archive has no results past this page.
var ErrNoMorePages = errors.New("no more pages")

// ParseError indicates a response body that is not the expected envelope.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse " + e.URL + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DecodePage extracts the posts array from a search response body.
func DecodePage(req models.PageRequest, body []byte) (*models.RawPage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var top map[string]json.RawMessage
	if err := dec.Decode(&top); err != nil {
		return nil, &ParseError{URL: req.URL(), Reason: "body is not a JSON object", Err: err}
	}

	rawEnvelope, ok := top[envelopeKey]
	if !ok {
		if apiErr, ok := top[errorKey]; ok {
			return nil, fmt.Errorf("%w: %s", ErrNoMorePages, bytes.Trim(apiErr, `"`))
		}
		return nil, &ParseError{URL: req.URL(), Reason: fmt.Sprintf("missing %q envelope", envelopeKey)}
	}

	var envelope map[string]json.RawMessage
	if err := decodeNumbers(rawEnvelope, &envelope); err != nil {
		return nil, &ParseError{URL: req.URL(), Reason: "envelope is not an object", Err: err}
	}
	rawPosts, ok := envelope[postsKey]
	if !ok {
		return nil, &ParseError{URL: req.URL(), Reason: fmt.Sprintf("missing %q array", postsKey)}
	}

	var items []any
	if err := decodeNumbers(rawPosts, &items); err != nil {
		return nil, &ParseError{URL: req.URL(), Reason: "posts is not an array", Err: err}
	}
	if len(items) == 0 {
		return nil, ErrNoMorePages
	}

	page := &models.RawPage{Request: req, Posts: make([]map[string]any, 0, len(items))}
	for _, item := range items {
		if post, ok := item.(map[string]any); ok {
			page.Posts = append(page.Posts, post)
		}
	}
	return page, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Normalize flattens every post of page into a row. It never adds columns a
// post does not carry.
func Normalize(page *models.RawPage) []models.Row {
	if page == nil {
		return nil
	}
	rows := make([]models.Row, 0, len(page.Posts))
	for _, post := range page.Posts {
		rows = append(rows, Flatten(post))
	}
	return rows
}

// Flatten turns a nested JSON object into a single-level row. Nested keys are
// joined with Separator, arrays are kept as their JSON text, and nulls become
// models.Sentinel. When a literal key such as "a.b" and a nested path a -> b
// name the same column, the value reached through fewer objects wins; equal
// depths resolve in sorted key order, the last one written winning.
func Flatten(record map[string]any) models.Row {
	f := flattener{row: make(models.Row, len(record)), depth: make(map[string]int, len(record))}
	f.walk("", 1, record)
	return f.row
}

type flattener struct {
	row   models.Row
	depth map[string]int
}

func (f *flattener) walk(prefix string, depth int, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + Separator + k
		}
		switch v := obj[k].(type) {
		case map[string]any:
			f.walk(name, depth+1, v)
		case []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				f.put(name, depth, fmt.Sprint(v))
				continue
			}
			f.put(name, depth, string(encoded))
		case nil:
			f.put(name, depth, models.Sentinel)
		default:
			f.put(name, depth, v)
		}
	}
}

func (f *flattener) put(name string, depth int, v any) {
	if seen, ok := f.depth[name]; ok && seen < depth {
		return
	}
	f.depth[name] = depth
	f.row[name] = v
}

// Columns returns the sorted column names of row.
func Columns(row models.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// FormatValue renders a row value as text for flat outputs.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return models.Sentinel
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(val)
	}
}
