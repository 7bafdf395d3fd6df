package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rpaops/orcsync/internal/clock"
	"github.com/rpaops/orcsync/pkg/models"
)

// Loader upserts normalized records into the warehouse. Each batch runs in
// one transaction: a failure rolls the whole batch back, so a retried batch
// is safe to reapply verbatim. On conflict every mutable column is
// overwritten; first_seen_at is set on insert and never touched again.
type Loader struct {
	db    *sql.DB
	clock clock.Clock

	upsertQueueItem string
	upsertJob       string
}

func NewLoader(db *sql.DB, d Dialect, clk clock.Clock) *Loader {
	if clk == nil {
		clk = clock.System{}
	}
	immutable := []string{"first_seen_at"}
	return &Loader{
		db:              db,
		clock:           clk,
		upsertQueueItem: d.Upsert(TableQueueItems, columnNames(queueItemColumns), queueItemKey, immutable),
		upsertJob:       d.Upsert(TableJobs, columnNames(jobColumns), jobKey, immutable),
	}
}

func (l *Loader) Upsert(ctx context.Context, batch []models.Record) (models.LoadResult, error) {
	if len(batch) == 0 {
		return models.LoadResult{}, nil
	}
	now := l.clock.Now()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return models.LoadResult{}, classify(err, "")
	}

	for _, rec := range batch {
		var stmt string
		var args []interface{}
		switch r := rec.(type) {
		case models.QueueItem:
			stmt, args = l.upsertQueueItem, queueItemArgs(r, now)
		case models.Job:
			stmt, args = l.upsertJob, jobArgs(r, now)
		default:
			tx.Rollback()
			return models.LoadResult{}, &LoadError{
				NaturalKey: rec.NaturalKey(),
				Err:        fmt.Errorf("unsupported record type %T", rec),
			}
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			tx.Rollback()
			return models.LoadResult{}, classify(err, rec.NaturalKey())
		}
	}

	if err := tx.Commit(); err != nil {
		return models.LoadResult{}, classify(err, "")
	}
	return models.LoadResult{Upserted: len(batch)}, nil
}

// queueItemArgs matches queueItemColumns order.
func queueItemArgs(q models.QueueItem, now time.Time) []interface{} {
	return []interface{}{
		q.VendorID,
		q.SourceSystem,
		q.QueueDefinitionID,
		q.FolderID,
		q.Key,
		q.Status,
		q.Reference,
		q.Priority,
		q.DeferDate,
		q.StartProcessing,
		q.EndProcessing,
		q.SecondsPrevAttempts,
		q.RetryNumber,
		q.CreationTime,
		q.OrgUnitID,
		q.WaitingDurationSecs,
		q.RunDurationSecs,
		q.SLADeadline,
		q.IsBreached,
		now, // first_seen_at, insert only
		now, // updated_at
	}
}

// jobArgs matches jobColumns order.
func jobArgs(j models.Job, now time.Time) []interface{} {
	return []interface{}{
		j.VendorKey,
		j.SourceSystem,
		j.FolderID,
		j.FolderKey,
		j.State,
		j.SubState,
		j.JobPriority,
		j.Source,
		j.SourceType,
		j.StartTime,
		j.EndTime,
		j.CreationTime,
		j.LastModificationTime,
		j.ReleaseName,
		j.Type,
		j.HostMachineName,
		j.RuntimeType,
		j.Reference,
		j.ProcessType,
		j.ErrorCode,
		j.Info,
		j.OrgUnitID,
		j.OrgUnitFQN,
		j.RunDurationSecs,
		j.SLADeadline,
		j.IsBreached,
		now, // first_seen_at, insert only
		now, // updated_at
	}
}
