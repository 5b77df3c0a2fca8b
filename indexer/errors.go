package indexer

import (
	"fmt"
	"strings"
)

// IndexCreationError indicates the store refused to create the target index.
type IndexCreationError struct {
	Index  string
	Status int
	Reason string
	Err    error
}

func (e *IndexCreationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "create index %s", e.Index)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IndexCreationError) Unwrap() error {
	return e.Err
}

// ItemFailure describes one document the bulk request did not index.
type ItemFailure struct {
	Position int // zero-based row position within the batch
	Status   int
	Type     string
	Reason   string
}

// BulkWriteError reports a bulk submission that did not index every
// document. Documents counted in Indexed remain written.
type BulkWriteError struct {
	Index     string
	Submitted int
	Indexed   int
	Status    int
	Items     []ItemFailure
	Err       error
}

func (e *BulkWriteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bulk write to %s: %d of %d documents failed", e.Index, e.Submitted-e.Indexed, e.Submitted)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if len(e.Items) > 0 {
		first := e.Items[0]
		fmt.Fprintf(&b, "; first failure at row %d: %s: %s", first.Position, first.Type, first.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *BulkWriteError) Unwrap() error {
	return e.Err
}
