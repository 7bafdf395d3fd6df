package etl

import (
	"context"
	"time"

	"github.com/rpaops/orcsync/pkg/models"
)

// Page is one fetched slice of a source. Next is only meaningful when Done
// is false; a finished source reports Done with the last cursor unchanged.
type Page struct {
	Records []models.RawRecord
	Next    models.Cursor
	Done    bool
}

// Extractor produces pages of raw records between the cursor and the run's
// upper window bound. Pagination is sequential: each call's cursor comes
// from the previous page.
type Extractor interface {
	FetchPage(ctx context.Context, cur models.Cursor, until time.Time, pageSize int) (Page, error)
}

// Transformer maps one raw record into its normalized form. It is pure;
// now is the snapshot instant used for live SLA-breach evaluation.
type Transformer interface {
	Transform(raw models.RawRecord, now time.Time) (models.Record, error)
}

// Loader upserts one batch atomically: either every record becomes durably
// visible or none do.
type Loader interface {
	Upsert(ctx context.Context, batch []models.Record) (models.LoadResult, error)
}

// CheckpointStore persists per-source extraction progress.
type CheckpointStore interface {
	// Acquire marks the source in-progress and returns the checkpoint to
	// resume from. It fails with ErrConcurrentRun while another non-stale
	// run holds the source.
	Acquire(ctx context.Context, source string) (models.Checkpoint, error)
	// Commit atomically records a new cursor and status. Cursors must never
	// move backwards.
	Commit(ctx context.Context, source, cursor string, status models.RunStatus) error
}

// PageArchiver lands raw vendor pages before transformation, for replay and
// diagnostics. Archiving is best-effort and never fails a run.
type PageArchiver interface {
	ArchivePage(ctx context.Context, source, runID string, records []models.RawRecord) error
}
