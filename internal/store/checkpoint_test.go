package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/rpaops/orcsync/internal/clock"
	"github.com/rpaops/orcsync/pkg/models"
)

func testDB(t *testing.T) (*sql.DB, Dialect) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := DialectFor("sqlite")
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(context.Background(), db, d))
	return db, d
}

func TestAcquireFirstRunGetsSentinel(t *testing.T) {
	db, d := testDB(t)
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)

	cp, err := s.Acquire(context.Background(), "queue_items")
	require.NoError(t, err)
	assert.Equal(t, models.RunInProgress, cp.Status)

	cur, err := models.ParseCursor(cp.Cursor)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*24*time.Hour), cur.Watermark)
	assert.Zero(t, cur.FolderID)
	assert.Zero(t, cur.Skip)
}

func TestAcquireRefusesActiveRun(t *testing.T) {
	db, d := testDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)

	_, err := s.Acquire(context.Background(), "jobs")
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), "jobs")
	require.ErrorIs(t, err, ErrConcurrentRun)
}

func TestAcquireReclaimsStaleGuard(t *testing.T) {
	db, d := testDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)

	first, err := s.Acquire(context.Background(), "jobs")
	require.NoError(t, err)

	// Crashed runs never flip the status back; the guard goes stale and a
	// later trigger takes over at the same cursor.
	clk.Advance(2*time.Hour + time.Minute)
	second, err := s.Acquire(context.Background(), "jobs")
	require.NoError(t, err)
	assert.Equal(t, first.Cursor, second.Cursor)
}

func TestAcquireAfterFinishedRun(t *testing.T) {
	db, d := testDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	cp, err := s.Acquire(ctx, "queue_items")
	require.NoError(t, err)

	done := models.Cursor{Watermark: clk.Now()}
	require.NoError(t, s.Commit(ctx, "queue_items", done.Encode(), models.RunSucceeded))

	clk.Advance(time.Minute)
	next, err := s.Acquire(ctx, "queue_items")
	require.NoError(t, err)
	assert.Equal(t, done.Encode(), next.Cursor)
	assert.NotEqual(t, cp.Cursor, next.Cursor)
}

func TestCommitRejectsRegression(t *testing.T) {
	db, d := testDB(t)
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	_, err := s.Acquire(ctx, "queue_items")
	require.NoError(t, err)

	forward := models.Cursor{Watermark: now.Add(-time.Hour), FolderID: 10, Skip: 200}
	require.NoError(t, s.Commit(ctx, "queue_items", forward.Encode(), models.RunInProgress))

	backward := models.Cursor{Watermark: now.Add(-time.Hour), FolderID: 10, Skip: 100}
	err = s.Commit(ctx, "queue_items", backward.Encode(), models.RunInProgress)
	require.ErrorIs(t, err, ErrCursorRegression)

	// The stored cursor is untouched by the rejected commit.
	cp, err := s.Get(ctx, "queue_items")
	require.NoError(t, err)
	assert.Equal(t, forward.Encode(), cp.Cursor)
}

func TestCommitSameCursorChangesStatus(t *testing.T) {
	db, d := testDB(t)
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	cp, err := s.Acquire(ctx, "jobs")
	require.NoError(t, err)

	// A failed run re-commits the cursor it started from.
	require.NoError(t, s.Commit(ctx, "jobs", cp.Cursor, models.RunFailed))
	got, err := s.Get(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, cp.Cursor, got.Cursor)
}

func TestCommitReleasesGuardOverCorruptCursor(t *testing.T) {
	db, d := testDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	_, err := s.Acquire(ctx, "queue_items")
	require.NoError(t, err)

	// Corrupt the stored cursor behind the store's back.
	_, err = db.ExecContext(ctx,
		"UPDATE extraction_checkpoints SET last_cursor = ? WHERE source = ?", "garbage", "queue_items")
	require.NoError(t, err)

	// Re-committing the unchanged string is a pure status change, so the
	// failing run can still drop the in-progress guard.
	require.NoError(t, s.Commit(ctx, "queue_items", "garbage", models.RunFailed))
	cp, err := s.Get(ctx, "queue_items")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, cp.Status)

	// Moving anywhere else still demands parsable cursors.
	err = s.Commit(ctx, "queue_items", models.Cursor{Watermark: clk.Now()}.Encode(), models.RunSucceeded)
	require.Error(t, err)
}

func TestResetDropsCheckpoint(t *testing.T) {
	db, d := testDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	s := NewCheckpointStore(db, d, clk, 2*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	_, err := s.Acquire(ctx, "queue_items")
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "queue_items"))

	_, err = s.Get(ctx, "queue_items")
	require.ErrorIs(t, err, sql.ErrNoRows)
}
