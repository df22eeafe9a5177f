// Package scrapeerr is the typed error carried across orchestrator package
// boundaries so callers can distinguish failure kinds without string
// matching.
package scrapeerr

import (
	"fmt"
)

// Kind mirrors orchestrator.FailureKind without importing it, keeping this
// package leaf-level and dependency-free.
type Kind string

// Error is returned by Scrape on any terminal, non-success outcome.
type Error struct {
	Kind     Kind
	Attempts int
	TraceID  string
	Cause    error
}

// New builds an Error wrapping cause, or no cause if nil.
func New(kind Kind, attempts int, traceID string, cause error) *Error {
	return &Error{Kind: kind, Attempts: attempts, TraceID: traceID, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scrape failed: kind=%s attempts=%d trace_id=%s: %v", e.Kind, e.Attempts, e.TraceID, e.Cause)
	}
	return fmt.Sprintf("scrape failed: kind=%s attempts=%d trace_id=%s", e.Kind, e.Attempts, e.TraceID)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
