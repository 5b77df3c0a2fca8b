// Package indexer submits datasets to an Elasticsearch-compatible store
// through the bulk API, creating the target index on first use.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/models"
)

const knownIndexCacheSize = 128

// Report summarises one Index call.
type Report struct {
	Index     string
	Created   bool
	Submitted int
	Indexed   int
	Lines     int
	Took      int
}

// Client wraps the Elasticsearch client for one target index.
type Client struct {
	es    *elasticsearch.Client
	cfg   config.IndexConfig
	known *lru.Cache[string, struct{}]
}

// Option customises a Client.
type Option func(*elasticsearch.Config)

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *elasticsearch.Config) {
		c.Transport = rt
	}
}

// New builds a client for cfg.
func New(cfg config.IndexConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		// a bulk batch is submitted at most once per run
		DisableRetry: true,
	}
	for _, opt := range opts {
		opt(&esCfg)
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	known, err := lru.New[string, struct{}](knownIndexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}

	return &Client{es: es, cfg: cfg, known: known}, nil
}

// IndexName returns the target index.
func (c *Client) IndexName() string {
	return c.cfg.Name
}

// Index ensures the target index exists and submits rows as one bulk batch.
func (c *Client) Index(ctx context.Context, rows []models.Row) (*Report, error) {
	created, err := c.EnsureIndex(ctx)
	if err != nil {
		return nil, err
	}
	report, err := c.Bulk(ctx, rows)
	if report != nil {
		report.Created = created
	}
	return report, err
}

// EnsureIndex creates the target index when the store does not have it. A
// successful check is cached, so the store sees at most one existence check
// and one creation request per index for the client's lifetime.
func (c *Client) EnsureIndex(ctx context.Context) (bool, error) {
	name := c.cfg.Name
	if c.known.Contains(name) {
		return false, nil
	}

	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, &IndexCreationError{Index: name, Err: fmt.Errorf("check existence: %w", err)}
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		c.known.Add(name, struct{}{})
		return false, nil
	case http.StatusNotFound:
	default:
		return false, &IndexCreationError{Index: name, Status: res.StatusCode, Reason: "unexpected status from existence check"}
	}

	body, err := json.Marshal(CreateIndexBody(c.cfg.DocumentKind, c.cfg.DateColumn, c.cfg.DateFormat))
	if err != nil {
		return false, &IndexCreationError{Index: name, Err: err}
	}

	slog.Info("creating index", slog.String("index", name), slog.String("date_column", c.cfg.DateColumn))
	createOpts := []func(*esapi.IndicesCreateRequest){
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
		c.es.Indices.Create.WithContext(ctx),
	}
	if c.cfg.DocumentKind != "" {
		// 7.x only accepts a typed mapping with this flag.
		createOpts = append(createOpts, c.es.Indices.Create.WithIncludeTypeName(true))
	}
	res, err = c.es.Indices.Create(name, createOpts...)
	if err != nil {
		return false, &IndexCreationError{Index: name, Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		var errResp errorResponse
		if err := json.NewDecoder(res.Body).Decode(&errResp); err != nil {
			return false, &IndexCreationError{Index: name, Status: res.StatusCode, Err: fmt.Errorf("decode error body: %w", err)}
		}
		errType, reason := errResp.reason()
		if errType == "resource_already_exists_exception" {
			c.known.Add(name, struct{}{})
			return false, nil
		}
		if errType != "" {
			reason = errType + ": " + reason
		}
		return false, &IndexCreationError{Index: name, Status: res.StatusCode, Reason: reason}
	}

	c.known.Add(name, struct{}{})
	return true, nil
}

// Bulk submits rows in a single bulk request. Per-document failures are
// returned as *BulkWriteError alongside the report.
func (c *Client) Bulk(ctx context.Context, rows []models.Row) (*Report, error) {
	name := c.cfg.Name
	report := &Report{Index: name, Submitted: len(rows)}
	if len(rows) == 0 {
		return report, nil
	}

	var buf bytes.Buffer
	lines, err := EncodeBulk(&buf, name, c.cfg.DocumentKind, rows)
	if err != nil {
		return report, &BulkWriteError{Index: name, Submitted: len(rows), Err: err}
	}
	report.Lines = lines

	res, err := c.es.Bulk(&buf, c.es.Bulk.WithContext(ctx))
	if err != nil {
		return report, &BulkWriteError{Index: name, Submitted: len(rows), Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		reason := string(raw)
		var errResp errorResponse
		if err := json.Unmarshal(raw, &errResp); err == nil && len(errResp.Error) > 0 {
			errType, msg := errResp.reason()
			reason = errType + ": " + msg
		}
		return report, &BulkWriteError{Index: name, Submitted: len(rows), Status: res.StatusCode, Err: errors.New(reason)}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return report, &BulkWriteError{Index: name, Submitted: len(rows), Status: res.StatusCode, Err: fmt.Errorf("decode bulk response: %w", err)}
	}
	report.Took = parsed.Took

	failures := parsed.failures()
	report.Indexed = len(parsed.Items) - len(failures)
	if len(failures) > 0 || parsed.Errors {
		return report, &BulkWriteError{
			Index:     name,
			Submitted: len(rows),
			Indexed:   report.Indexed,
			Status:    res.StatusCode,
			Items:     failures,
		}
	}
	return report, nil
}
