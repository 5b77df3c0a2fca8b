package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-scrape-plebs/parser"
)

// ErrNoMorePages reports that the archive has no results past the current
// page. It ends a run as completed.
var ErrNoMorePages = parser.ErrNoMorePages

// ParseError is returned when a response is not the expected JSON envelope.
type ParseError = parser.ParseError

// ErrorKind labels a transport failure in logs and metrics.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection"
	KindForbidden   ErrorKind = "forbidden"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindHTTPStatus  ErrorKind = "http_status"
	KindOther       ErrorKind = "other"
)

// TransportError indicates the request for a page did not produce a 2xx
// response.
type TransportError struct {
	URL        string
	StatusCode int
	Kind       ErrorKind
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(url string, err error, status int) *TransportError {
	if err == nil {
		err = fmt.Errorf("http status %d", status)
	}
	return &TransportError{URL: url, StatusCode: status, Kind: classifyError(err, status), Err: err}
}

// ErrorCategory labels err for logs, metrics, and ScraperResult.ErrorsByType.
func ErrorCategory(err error) string {
	if err == nil {
		return "unknown"
	}
	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return string(transportErr.Kind)
	}
	return string(classifyError(err, 0))
}

func classifyError(err error, statusCode int) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	switch {
	case statusCode == http.StatusForbidden:
		return KindForbidden
	case statusCode == http.StatusNotFound:
		return KindNotFound
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode != 0 && (statusCode < 200 || statusCode >= 300):
		return KindHTTPStatus
	}
	return KindOther
}
