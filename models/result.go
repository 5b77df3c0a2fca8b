package models

import "time"

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"
)

// PageFailure records one failed fetch attempt.
type PageFailure struct {
	Page     int
	Attempt  int
	URL      string
	Category string
	Err      error
}

// ScraperResult holds the overall result of a scraping run.
type ScraperResult struct {
	RunID        string
	Status       RunStatus
	AbortReason  error
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	LastPage     int
	RowCount     int
	ColumnCount  int
	RequestCount int
	RetryCount   int
	Failures     []PageFailure
	ErrorsByType map[string]int
}
