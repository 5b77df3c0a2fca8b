package scraper

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces requests at a fixed interval. The first Wait returns
// immediately; every later Wait returns no sooner than one interval after the
// previous one.
type Pacer struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewPacer builds a pacer for the given interval. A zero interval disables
// pacing.
func NewPacer(interval time.Duration) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait blocks until the next request may be issued or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Decision is the retrier's verdict on a failed fetch.
type Decision int

const (
	// DecisionRetry means cool down and fetch the same page again.
	DecisionRetry Decision = iota + 1
	// DecisionAbort means stop the run with the dataset as it is.
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Retrier decides between retrying the same page and aborting the run. A
// page may fail at most maxAttempts consecutive times; a success resets the
// streak.
type Retrier struct {
	maxAttempts int
	cooldown    time.Duration
	metrics     *Metrics

	page         int
	streak       int
	totalRetries int
}

// NewRetrier builds a retrier. maxAttempts below 1 is treated as 1.
func NewRetrier(maxAttempts int, cooldown time.Duration, metrics *Metrics) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		metrics:     metrics,
	}
}

// Failure records a failed fetch of page and returns the next step.
func (r *Retrier) Failure(page int) Decision {
	if page != r.page {
		r.page = page
		r.streak = 0
	}
	r.streak++
	if r.streak >= r.maxAttempts {
		return DecisionAbort
	}
	r.totalRetries++
	r.metrics.IncRetries()
	return DecisionRetry
}

// Success clears the failure streak.
func (r *Retrier) Success() {
	r.streak = 0
}

// Attempts returns the current consecutive failure count.
func (r *Retrier) Attempts() int {
	return r.streak
}

// Cooldown returns the pause before a retry.
func (r *Retrier) Cooldown() time.Duration {
	return r.cooldown
}

// TotalRetries returns the number of retries scheduled so far.
func (r *Retrier) TotalRetries() int {
	return r.totalRetries
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
