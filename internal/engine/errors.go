package engine

import (
	"errors"
	"fmt"
)

// ErrSourceMissing reports absent tree or source input, fatal for the file
// before any scheduling begins.
var ErrSourceMissing = errors.New("source missing")

// AnalyzerError is fatal to the current file's pipeline: remaining batches
// are abandoned and a terminal error event is emitted. Line is the failed
// batch's progress line, the last safe point for a caller deciding whether
// to re-run.
type AnalyzerError struct {
	Seq  int
	Line int
	Err  error
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("analyzer failure on batch %d (line %d): %v", e.Seq, e.Line, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }

// StoreWriteError is fatal to the current file's pipeline. Nothing is
// retried here; already-committed state is left as-is, and idempotent
// upserts make re-runs safe.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("graph store write (%s): %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// OrderingViolation is an internal invariant failure: a defect, not a
// recoverable condition. The pipeline aborts loudly rather than silently
// continuing.
type OrderingViolation struct {
	Seq    int
	Next   int
	Reason string
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("ordering violation: %s (seq=%d next=%d)", e.Reason, e.Seq, e.Next)
}
