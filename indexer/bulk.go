package indexer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aluiziolira/go-scrape-plebs/models"
)

type actionMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type,omitempty"`
}

type action struct {
	Index actionMeta `json:"index"`
}

// EncodeBulk writes the newline-delimited bulk body for rows: an index
// directive line followed by the document line, once per row, in row order.
// It returns the number of lines written.
func EncodeBulk(w io.Writer, index, kind string, rows []models.Row) (int, error) {
	directive, err := json.Marshal(action{Index: actionMeta{Index: index, Type: kind}})
	if err != nil {
		return 0, fmt.Errorf("encode directive: %w", err)
	}

	bw := bufio.NewWriter(w)
	lines := 0
	for i, row := range rows {
		doc, err := json.Marshal(row)
		if err != nil {
			return lines, fmt.Errorf("encode document %d: %w", i, err)
		}
		bw.Write(directive)
		bw.WriteByte('\n')
		bw.Write(doc)
		bw.WriteByte('\n')
		lines += 2
	}
	if err := bw.Flush(); err != nil {
		return lines, fmt.Errorf("flush bulk body: %w", err)
	}
	return lines, nil
}

// CreateIndexBody builds the settings and mappings sent when the index does
// not exist yet. An empty kind produces a typeless mapping.
func CreateIndexBody(kind, dateColumn, dateFormat string) map[string]any {
	properties := map[string]any{}
	if dateColumn != "" {
		properties[dateColumn] = map[string]any{"type": "date", "format": dateFormat}
	}
	mapping := map[string]any{"properties": properties}

	var mappings map[string]any
	if kind != "" {
		mappings = map[string]any{kind: mapping}
	} else {
		mappings = mapping
	}

	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": mappings,
	}
}

type bulkResponse struct {
	Took   int                   `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	Index  string     `json:"_index"`
	ID     string     `json:"_id"`
	Status int        `json:"status"`
	Error  *errorBody `json:"error"`
}

type errorBody struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

// reason extracts type and reason from an error response body. Older
// servers report the error as a plain string.
func (r errorResponse) reason() (string, string) {
	var body errorBody
	if err := json.Unmarshal(r.Error, &body); err == nil {
		return body.Type, body.Reason
	}
	var text string
	if err := json.Unmarshal(r.Error, &text); err == nil {
		return "", text
	}
	return "", string(r.Error)
}

// failures lists items with an error or a non-2xx status.
func (r bulkResponse) failures() []ItemFailure {
	var out []ItemFailure
	for i, item := range r.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < 300 {
				continue
			}
			failure := ItemFailure{Position: i, Status: result.Status}
			if result.Error != nil {
				failure.Type = result.Error.Type
				failure.Reason = result.Error.Reason
			}
			out = append(out, failure)
		}
	}
	return out
}
