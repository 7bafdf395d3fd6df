package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

// ErrStorageUnavailable marks connection-level failures the orchestrator
// may retry with backoff.
var ErrStorageUnavailable = errors.New("warehouse unavailable")

// ErrConcurrentRun means another non-stale run already holds the source.
var ErrConcurrentRun = errors.New("pipeline already in progress for source")

// ErrCursorRegression guards the monotonic-checkpoint invariant.
var ErrCursorRegression = errors.New("checkpoint cursor would move backwards")

// LoadError is a per-batch failure carrying the natural key of the record
// the engine rejected.
type LoadError struct {
	NaturalKey string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failed at %s: %v", e.NaturalKey, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// classify maps a driver error to the pipeline taxonomy: connection-level
// trouble is retryable, anything else is a LoadError pinned to the record.
func classify(err error, naturalKey string) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &LoadError{NaturalKey: naturalKey, Err: err}
}
