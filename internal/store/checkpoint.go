package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rpaops/orcsync/internal/clock"
	"github.com/rpaops/orcsync/pkg/models"
)

// CheckpointStore persists one progress row per source. The in-progress
// status acts as an advisory guard against overlapping scheduler triggers;
// a guard older than staleAfter is reclaimable, accepting duplicate (but
// idempotent) work over a wedged source.
type CheckpointStore struct {
	db         *sql.DB
	clock      clock.Clock
	staleAfter time.Duration
	history    time.Duration

	selectSQL  string
	insertSQL  string
	acquireSQL string
	commitSQL  string
	deleteSQL  string
}

func NewCheckpointStore(db *sql.DB, d Dialect, clk clock.Clock, staleAfter, history time.Duration) *CheckpointStore {
	if clk == nil {
		clk = clock.System{}
	}
	p := d.Placeholder
	return &CheckpointStore{
		db:         db,
		clock:      clk,
		staleAfter: staleAfter,
		history:    history,
		selectSQL: fmt.Sprintf(
			"SELECT last_cursor, status, updated_at FROM %s WHERE source = %s",
			TableCheckpoints, p(1)),
		insertSQL: fmt.Sprintf(
			"INSERT INTO %s (source, last_cursor, status, updated_at) VALUES (%s, %s, %s, %s)",
			TableCheckpoints, p(1), p(2), p(3), p(4)),
		acquireSQL: fmt.Sprintf(
			"UPDATE %s SET status = %s, updated_at = %s WHERE source = %s AND (status <> %s OR updated_at < %s)",
			TableCheckpoints, p(1), p(2), p(3), p(4), p(5)),
		commitSQL: fmt.Sprintf(
			"UPDATE %s SET last_cursor = %s, status = %s, updated_at = %s WHERE source = %s",
			TableCheckpoints, p(1), p(2), p(3), p(4)),
		deleteSQL: fmt.Sprintf(
			"DELETE FROM %s WHERE source = %s",
			TableCheckpoints, p(1)),
	}
}

// Acquire flips the source to in-progress and returns the checkpoint to
// resume from. A missing row yields the sentinel beginning-of-history
// checkpoint; a fresh in-progress row yields ErrConcurrentRun.
func (s *CheckpointStore) Acquire(ctx context.Context, source string) (models.Checkpoint, error) {
	now := s.clock.Now()
	staleBefore := now.Add(-s.staleAfter).Unix()

	// Single guarded update: wins against a finished run or a stale guard.
	res, err := s.db.ExecContext(ctx, s.acquireSQL,
		string(models.RunInProgress), now.Unix(), source, string(models.RunInProgress), staleBefore)
	if err != nil {
		return models.Checkpoint{}, classify(err, source)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Checkpoint{}, classify(err, source)
	}

	if affected == 1 {
		cp, err := s.Get(ctx, source)
		if err != nil {
			return models.Checkpoint{}, err
		}
		cp.Status = models.RunInProgress
		return cp, nil
	}

	// Lost the guard: either no row yet, or another run is active.
	_, err = s.Get(ctx, source)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		sentinel := models.Cursor{Watermark: now.Add(-s.history)}.Encode()
		if _, err := s.db.ExecContext(ctx, s.insertSQL,
			source, sentinel, string(models.RunInProgress), now.Unix()); err != nil {
			// Duplicate key: a competing run inserted first.
			return models.Checkpoint{}, fmt.Errorf("%w: %s", ErrConcurrentRun, source)
		}
		return models.Checkpoint{
			Source:    source,
			Cursor:    sentinel,
			Status:    models.RunInProgress,
			UpdatedAt: now,
		}, nil
	case err != nil:
		return models.Checkpoint{}, err
	default:
		return models.Checkpoint{}, fmt.Errorf("%w: %s", ErrConcurrentRun, source)
	}
}

// Commit atomically records a new cursor and run status. The cursor may
// never move backwards, only forward or stay put.
func (s *CheckpointStore) Commit(ctx context.Context, source, cursor string, status models.RunStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, source)
	}
	defer tx.Rollback()

	var stored string
	var prevStatus string
	var updatedAt int64
	if err := tx.QueryRowContext(ctx, s.selectSQL, source).Scan(&stored, &prevStatus, &updatedAt); err != nil {
		return classify(err, source)
	}

	// An unchanged cursor is a pure status change; skipping the ordering
	// check here lets a failed run release the guard even when the stored
	// cursor turns out to be unreadable.
	if cursor != stored {
		next, err := models.ParseCursor(cursor)
		if err != nil {
			return err
		}
		prev, err := models.ParseCursor(stored)
		if err != nil {
			return err
		}
		if models.CompareCursors(next, prev) < 0 {
			return fmt.Errorf("%w: %s -> %s", ErrCursorRegression, stored, cursor)
		}
	}

	if _, err := tx.ExecContext(ctx, s.commitSQL,
		cursor, string(status), s.clock.Now().Unix(), source); err != nil {
		return classify(err, source)
	}
	if err := tx.Commit(); err != nil {
		return classify(err, source)
	}
	return nil
}

// Get reads the stored checkpoint; sql.ErrNoRows passes through when the
// source has never run.
func (s *CheckpointStore) Get(ctx context.Context, source string) (models.Checkpoint, error) {
	var cp models.Checkpoint
	var status string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, s.selectSQL, source).Scan(&cp.Cursor, &status, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Checkpoint{}, err
		}
		return models.Checkpoint{}, classify(err, source)
	}
	cp.Source = source
	cp.Status = models.RunStatus(status)
	cp.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return cp, nil
}

// Reset drops the checkpoint so the next run re-extracts the full history
// window.
func (s *CheckpointStore) Reset(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteSQL, source); err != nil {
		return classify(err, source)
	}
	return nil
}
