package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/models"
	"github.com/aluiziolira/go-scrape-plebs/parser"
)

const (
	ctxBody   = "body"
	ctxStatus = "status"
)

// Fetcher issues exactly one GET per page through a synchronous colly
// collector. It never retries.
type Fetcher struct {
	collector *colly.Collector
	metrics   *Metrics
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	// every status reaches OnResponse; Fetch decides what counts as 2xx
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put(ctxStatus, r.StatusCode)
		}
	})

	return &Fetcher{collector: collector, metrics: metrics}, nil
}

// WithTransport replaces the HTTP transport used by the collector.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch downloads and decodes one page. Failures are *TransportError,
// *ParseError, or ErrNoMorePages. The request itself is not interrupted by
// ctx; it ends on success or on the request timeout.
func (f *Fetcher) Fetch(ctx context.Context, req models.PageRequest) (*models.RawPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := req.URL()
	cctx := colly.NewContext()
	hdr := http.Header{}
	hdr.Set("Accept", "application/json")

	start := time.Now()
	err := f.collector.Request(http.MethodGet, target, nil, cctx, hdr)
	f.metrics.ObserveDuration(time.Since(start))

	status, _ := cctx.GetAny(ctxStatus).(int)
	if err != nil {
		return nil, newTransportError(target, err, status)
	}
	if status < 200 || status >= 300 {
		return nil, newTransportError(target, nil, status)
	}

	body, _ := cctx.GetAny(ctxBody).([]byte)
	return parser.DecodePage(req, body)
}
