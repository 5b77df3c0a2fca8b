package parser

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/aluiziolira/go-scrape-plebs/models"
)

var testRequest = models.NewPageRequest("http://archive.test/_/api/chan/search/", []string{"pol"}, "2016-05-05", "2016-05-06", 1)

const samplePage = `{"0":{"posts":[
 {"num":"1001","timestamp":1462406400,"comment":"first","board":{"name":"Politically Incorrect","shortname":"pol"},"media":null,"capcode":"N","poster_country":null},
 {"num":"1002","timestamp":1462406460,"comment":"second","board":{"name":"Politically Incorrect","shortname":"pol"},"media":{"media_filename":"a.png","media_w":"640"},"tags":["x","y"],"sticky":false}
]}}`

func TestDecodePage(t *testing.T) {
	page, err := DecodePage(testRequest, []byte(samplePage))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Posts) != 2 {
		t.Fatalf("posts = %d, want 2", len(page.Posts))
	}
	if page.Request.Page != 1 {
		t.Fatalf("request not carried through: %+v", page.Request)
	}
	if _, ok := page.Posts[0]["timestamp"].(json.Number); !ok {
		t.Fatalf("timestamp should decode as json.Number, got %T", page.Posts[0]["timestamp"])
	}
}

func TestDecodePageErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		exhausted bool
	}{
		{name: "not json", body: "<html>rate limited</html>"},
		{name: "array body", body: `[1,2]`},
		{name: "missing envelope", body: `{"1":{"posts":[]}}`},
		{name: "missing posts", body: `{"0":{"threads":[]}}`},
		{name: "posts not array", body: `{"0":{"posts":{}}}`},
		{name: "api error", body: `{"error":"No results found."}`, exhausted: true},
		{name: "empty posts", body: `{"0":{"posts":[]}}`, exhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePage(testRequest, []byte(tt.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.exhausted {
				if !errors.Is(err, ErrNoMorePages) {
					t.Fatalf("expected ErrNoMorePages, got %v", err)
				}
				return
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %T %v", err, err)
			}
			if parseErr.URL != testRequest.URL() {
				t.Fatalf("parse error url = %q", parseErr.URL)
			}
		})
	}
}

func TestNormalizeFlattensNestedRecords(t *testing.T) {
	page, err := DecodePage(testRequest, []byte(samplePage))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rows := Normalize(page)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	first, second := rows[0], rows[1]
	if first["board.shortname"] != "pol" {
		t.Fatalf("board.shortname = %v", first["board.shortname"])
	}
	if first["media"] != models.Sentinel || first["poster_country"] != models.Sentinel {
		t.Fatalf("nulls should become the sentinel: %v", first)
	}
	if _, ok := first["tags"]; ok {
		t.Fatalf("normalizer must not invent columns: %v", first)
	}
	if second["media.media_filename"] != "a.png" {
		t.Fatalf("media.media_filename = %v", second["media.media_filename"])
	}
	if _, ok := second["media"]; ok {
		t.Fatalf("nested object should not keep its parent key")
	}
	if second["tags"] != `["x","y"]` {
		t.Fatalf("tags = %v", second["tags"])
	}
	if FormatValue(second["timestamp"]) != "1462406460" {
		t.Fatalf("timestamp = %v", FormatValue(second["timestamp"]))
	}
	if second["sticky"] != false {
		t.Fatalf("sticky = %v", second["sticky"])
	}
}

func TestFlattenKeyCollisions(t *testing.T) {
	tests := []struct {
		name     string
		record   map[string]any
		expected models.Row
	}{
		{
			name:     "literal key beats nested path",
			record:   map[string]any{"a.b": "literal", "a": map[string]any{"b": "nested"}},
			expected: models.Row{"a.b": "literal"},
		},
		{
			name:     "shallower literal beats deeper nesting",
			record:   map[string]any{"a": map[string]any{"b": map[string]any{"c": "deep"}}, "a.b.c": "top"},
			expected: models.Row{"a.b.c": "top"},
		},
		{
			name:     "equal depth resolves in key order",
			record:   map[string]any{"a": map[string]any{"b.c": "first"}, "a.b": map[string]any{"c": "second"}},
			expected: models.Row{"a.b.c": "second"},
		},
		{
			name:     "no collision keeps both",
			record:   map[string]any{"a.b": "literal", "a": map[string]any{"c": "nested"}},
			expected: models.Row{"a.b": "literal", "a.c": "nested"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				if got := Flatten(tt.record); !reflect.DeepEqual(got, tt.expected) {
					t.Fatalf("Flatten() = %v, want %v", got, tt.expected)
				}
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	page, err := DecodePage(testRequest, []byte(samplePage))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	first := Normalize(page)
	second := Normalize(page)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalize not idempotent:\n%v\n%v", first, second)
	}
	if !reflect.DeepEqual(page.Posts[1]["media"], map[string]any{"media_filename": "a.png", "media_w": "640"}) {
		t.Fatalf("normalize mutated the raw page: %v", page.Posts[1]["media"])
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: models.Sentinel},
		{in: "text", want: "text"},
		{in: json.Number("42"), want: "42"},
		{in: true, want: "true"},
		{in: 3.5, want: "3.5"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Fatalf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColumnsSorted(t *testing.T) {
	got := Columns(models.Row{"b": 1, "a": 2, "c.d": 3})
	want := []string{"a", "b", "c.d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
}
