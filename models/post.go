// Package models defines data structures for the scraper.
package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Sentinel fills a column a record has no value for.
const Sentinel = "No Info"

// PageRequest identifies one page of an archive search.
type PageRequest struct {
	BaseURL string
	Boards  []string
	Start   string
	End     string
	Page    int
}

// NewPageRequest copies boards so the request stays immutable.
func NewPageRequest(baseURL string, boards []string, start, end string, page int) PageRequest {
	return PageRequest{
		BaseURL: baseURL,
		Boards:  append([]string(nil), boards...),
		Start:   start,
		End:     end,
		Page:    page,
	}
}

// Next returns the request for the following page.
func (r PageRequest) Next() PageRequest {
	return NewPageRequest(r.BaseURL, r.Boards, r.Start, r.End, r.Page+1)
}

// URL derives the search URL. Parameters always appear in the order
// boards, start, end, page.
func (r PageRequest) URL() string {
	sep := "?"
	if strings.Contains(r.BaseURL, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(r.BaseURL)
	b.WriteString(sep)
	b.WriteString("boards=")
	b.WriteString(url.QueryEscape(strings.Join(r.Boards, ".")))
	b.WriteString("&start=")
	b.WriteString(url.QueryEscape(r.Start))
	b.WriteString("&end=")
	b.WriteString(url.QueryEscape(r.End))
	b.WriteString("&page=")
	b.WriteString(strconv.Itoa(r.Page))
	return b.String()
}

func (r PageRequest) String() string {
	return fmt.Sprintf("%s %s..%s page %d", strings.Join(r.Boards, "."), r.Start, r.End, r.Page)
}

// RawPage is the decoded posts array of one page.
type RawPage struct {
	Request PageRequest
	Posts   []map[string]any
}

// Row is one flattened record. Values are string, json.Number, bool, or
// Sentinel.
type Row map[string]any

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
