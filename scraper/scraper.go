package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-plebs/config"
	"github.com/aluiziolira/go-scrape-plebs/models"
	"github.com/aluiziolira/go-scrape-plebs/parser"
	"github.com/aluiziolira/go-scrape-plebs/pipeline"
)

// RunState is a step of the run state machine.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateFetching  RunState = "fetching"
	StateBackoff   RunState = "backoff"
	StateCompleted RunState = "completed"
	StateAborted   RunState = "aborted"
)

// PageFetcher fetches a single page without retrying.
type PageFetcher interface {
	Fetch(ctx context.Context, req models.PageRequest) (*models.RawPage, error)
}

// Exporter persists the final dataset.
type Exporter interface {
	Export(ctx context.Context, ds *pipeline.Dataset) (*pipeline.ExportResult, error)
}

// Result is the outcome of one run. Dataset is always set, also for aborted
// runs and failed exports.
type Result struct {
	models.ScraperResult
	States  []RunState
	Dataset *pipeline.Dataset
	Export  *pipeline.ExportResult
}

// Scraper drives one run: pages are fetched, normalized, and merged strictly
// one after another, then the dataset is exported once.
type Scraper struct {
	cfg     *config.Config
	fetcher PageFetcher
	pacer   *Pacer
	retry   *Retrier
	acc     *pipeline.Accumulator
	Metrics *Metrics

	runID  string
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
	states []RunState
	used   bool
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithFetcher replaces the colly-backed fetcher.
func WithFetcher(f PageFetcher) Option {
	return func(s *Scraper) {
		s.fetcher = f
	}
}

// WithMetrics shares a metrics bundle across runs.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) {
		s.Metrics = m
	}
}

// NewScraper builds a scraper for a single run of cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runID := uuid.NewString()
	s := &Scraper{
		cfg:   cfg,
		pacer: NewPacer(cfg.Interval()),
		acc:   pipeline.NewAccumulator(cfg.StripColumns),
		runID: runID,
		logger: slog.Default().With(
			slog.String("run_id", runID),
			slog.String("boards", cfg.JoinedBoards()),
			slog.String("start", cfg.StartDate),
			slog.String("end", cfg.EndDate),
		),
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Metrics == nil {
		s.Metrics = NewMetrics()
	}
	s.retry = NewRetrier(cfg.MaxAttempts, cfg.RetryCooldown, s.Metrics)

	if s.fetcher == nil {
		fetcher, err := NewFetcher(cfg, s.Metrics)
		if err != nil {
			return nil, err
		}
		s.fetcher = fetcher
	}
	return s, nil
}

// RunID identifies this run in logs.
func (s *Scraper) RunID() string {
	return s.runID
}

// Fetcher returns the page fetcher in use.
func (s *Scraper) Fetcher() PageFetcher {
	return s.fetcher
}

// Run executes the run and hands the dataset to exp (when non-nil). The
// returned error is the export error; fetch failures end the run as
// StatusAborted and are reported in the result.
func (s *Scraper) Run(ctx context.Context, exp Exporter) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.used {
		return nil, errors.New("scraper: Run called twice")
	}
	s.used = true

	result := &Result{
		ScraperResult: models.ScraperResult{
			RunID:        s.runID,
			Status:       models.StatusCompleted,
			StartTime:    time.Now(),
			ErrorsByType: make(map[string]int),
		},
	}

	s.logger.Info("run started",
		slog.Int("page_limit", s.cfg.PageLimit),
		slog.Duration("interval", s.pacer.Interval()),
	)

	s.loop(ctx, result)

	ds := s.acc.Dataset()
	result.Dataset = ds
	result.RowCount = ds.Len()
	result.ColumnCount = len(ds.Columns())
	result.RetryCount = s.retry.TotalRetries()
	result.EndTime = time.Now()
	result.States = append([]RunState(nil), s.states...)
	s.Metrics.IncRun(string(result.Status))

	if result.Status == models.StatusAborted {
		s.logger.Warn("run aborted",
			slog.Int("page", result.LastPage),
			slog.Int("rows", result.RowCount),
			slog.Any("reason", result.AbortReason),
		)
	} else {
		s.logger.Info("run completed",
			slog.Int("pages", result.PageCount),
			slog.Int("rows", result.RowCount),
			slog.Int("columns", result.ColumnCount),
		)
	}

	if exp == nil {
		return result, nil
	}

	exportCtx := ctx
	if ctx.Err() != nil {
		exportCtx = context.WithoutCancel(ctx)
	}
	exported, err := exp.Export(exportCtx, ds)
	result.Export = exported
	if exported != nil {
		s.Metrics.AddExported(exported.Mode, exported.Rows)
	}
	if err != nil {
		return result, fmt.Errorf("export: %w", err)
	}
	return result, nil
}

func (s *Scraper) loop(ctx context.Context, result *Result) {
	req := models.NewPageRequest(s.cfg.BaseURL, s.cfg.Boards, s.cfg.StartDate, s.cfg.EndDate, 1)
	s.transition(StateIdle)

	abort := func(reason error) {
		result.Status = models.StatusAborted
		result.AbortReason = reason
		s.transition(StateAborted)
	}

	for {
		if s.cfg.PageLimit > 0 && req.Page > s.cfg.PageLimit {
			s.transition(StateCompleted)
			return
		}
		if err := ctx.Err(); err != nil {
			abort(fmt.Errorf("cancelled before page %d: %w", req.Page, err))
			return
		}
		if err := s.pacer.Wait(ctx); err != nil {
			abort(fmt.Errorf("cancelled while pacing page %d: %w", req.Page, err))
			return
		}

		s.transition(StateFetching)
		result.RequestCount++
		result.LastPage = req.Page
		page, err := s.fetcher.Fetch(ctx, req)

		if err == nil {
			rows := parser.Normalize(page)
			s.acc.Merge(rows)
			s.retry.Success()
			result.PageCount++
			s.Metrics.IncRequest("success")
			s.Metrics.AddPage(len(rows))
			s.logger.Info("downloaded page",
				slog.Int("page", req.Page),
				slog.Int("rows", len(rows)),
				slog.Int("total_rows", s.acc.Dataset().Len()),
				slog.Int("columns", len(s.acc.Dataset().Columns())),
			)
			req = req.Next()
			s.transition(StateIdle)
			continue
		}

		if errors.Is(err, ErrNoMorePages) {
			s.Metrics.IncRequest("exhausted")
			s.logger.Info("archive exhausted", slog.Int("page", req.Page), slog.String("detail", err.Error()))
			s.transition(StateCompleted)
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			abort(fmt.Errorf("cancelled at page %d: %w", req.Page, err))
			return
		}

		category := ErrorCategory(err)
		s.Metrics.IncRequest("failure")
		s.Metrics.IncError(category)
		result.ErrorsByType[category]++

		decision := s.retry.Failure(req.Page)
		failure := models.PageFailure{
			Page:     req.Page,
			Attempt:  s.retry.Attempts(),
			URL:      req.URL(),
			Category: category,
			Err:      err,
		}
		result.Failures = append(result.Failures, failure)
		s.logger.Error("page fetch failed",
			slog.Int("page", req.Page),
			slog.Int("attempt", failure.Attempt),
			slog.String("url", failure.URL),
			slog.String("category", category),
			slog.String("decision", decision.String()),
			slog.Any("error", err),
		)

		if decision == DecisionAbort {
			abort(fmt.Errorf("page %d failed %d consecutive times: %w", req.Page, failure.Attempt, err))
			return
		}

		s.transition(StateBackoff)
		if err := s.sleep(ctx, s.retry.Cooldown()); err != nil {
			abort(fmt.Errorf("cancelled during backoff on page %d: %w", req.Page, err))
			return
		}
	}
}

func (s *Scraper) transition(to RunState) {
	s.states = append(s.states, to)
	s.logger.Debug("state", slog.String("to", string(to)))
}
