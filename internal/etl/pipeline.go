// Package etl drives the extraction pipeline: checkpoint acquisition,
// page-by-page fetch/transform/load, per-page checkpoint commits and the
// run summary handed back to the scheduler.
package etl

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rpaops/orcsync/internal/clock"
	"github.com/rpaops/orcsync/internal/store"
	"github.com/rpaops/orcsync/pkg/logger"
	"github.com/rpaops/orcsync/pkg/models"
)

// State names one step of the pipeline lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateFetching     State = "fetching"
	StateTransforming State = "transforming"
	StateLoading      State = "loading"
	StateCommitting   State = "committing"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// RetryPolicy bounds the orchestrator-level retries of an unavailable
// warehouse.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Pipeline runs one source end to end. Pages are processed strictly in
// sequence; the checkpoint only ever advances after the page's batch has
// durably committed, so a failed or cancelled run resumes from the last
// committed page.
type Pipeline struct {
	Source      string
	Extractor   Extractor
	Transformer Transformer
	Loader      Loader
	Checkpoints CheckpointStore
	Archive     PageArchiver // optional
	Clock       clock.Clock

	PageSize     int
	StorageRetry RetryPolicy

	// WindowFrom/WindowTo override the incremental window for ad-hoc
	// replays. An overridden window never advances the checkpoint cursor.
	WindowFrom time.Time
	WindowTo   time.Time

	// DryRun fetches and transforms but neither loads nor moves cursors.
	DryRun bool

	state State
}

// Run executes the pipeline once and always returns a RunSummary, also on
// failure. Safe to invoke repeatedly: loading is idempotent and the
// checkpoint guard rejects overlapping runs.
func (p *Pipeline) Run(ctx context.Context) (models.RunSummary, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	start := clk.Now()
	summary := models.RunSummary{RunID: uuid.NewString(), Source: p.Source}
	p.state = StateIdle

	cp, err := p.Checkpoints.Acquire(ctx, p.Source)
	if err != nil {
		summary.Status = models.RunFailed
		summary.Error = err.Error()
		summary.Duration = clk.Now().Sub(start)
		return summary, err
	}
	acquired, err := models.ParseCursor(cp.Cursor)
	if err != nil {
		// The stored cursor is the only string Commit will accept here.
		return p.fail(ctx, clk, start, &summary, cp.Cursor, err)
	}

	cur := acquired
	advance := p.WindowFrom.IsZero() && !p.DryRun
	if !p.WindowFrom.IsZero() {
		cur = models.Cursor{Watermark: p.WindowFrom.UTC()}
	}
	until := p.WindowTo
	if until.IsZero() {
		until = clk.Now()
	}
	summary.WindowFrom = cur.Watermark
	summary.WindowTo = until
	lastCommitted := acquired

	logger.Infof("pipeline %s starting: run %s, window %s -> %s, page size %d",
		p.Source, summary.RunID, cur.Watermark.Format(time.RFC3339), until.Format(time.RFC3339), pageSize)

	for {
		// Cancellation is cooperative, checked between pages.
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, clk, start, &summary, lastCommitted.Encode(), err)
		}

		p.state = StateFetching
		page, err := p.Extractor.FetchPage(ctx, cur, until, pageSize)
		if err != nil {
			return p.fail(ctx, clk, start, &summary, lastCommitted.Encode(), err)
		}
		summary.RecordsFetched += len(page.Records)

		if p.Archive != nil && len(page.Records) > 0 {
			if err := p.Archive.ArchivePage(ctx, p.Source, summary.RunID, page.Records); err != nil {
				logger.Warnf("%s: raw archive write failed: %v", p.Source, err)
			}
		}

		p.state = StateTransforming
		now := clk.Now()
		batch := make([]models.Record, 0, len(page.Records))
		for _, raw := range page.Records {
			rec, err := p.Transformer.Transform(raw, now)
			if err != nil {
				var vErr *ValidationError
				if errors.As(err, &vErr) {
					summary.RecordsFailed++
					logger.Warnf("%s: skipping record: %v", p.Source, err)
					continue
				}
				return p.fail(ctx, clk, start, &summary, lastCommitted.Encode(), err)
			}
			batch = append(batch, rec)
		}

		p.state = StateLoading
		if p.DryRun {
			logger.Infof("%s: dry run, would load %d records", p.Source, len(batch))
		} else if len(batch) > 0 {
			res, err := p.loadBatch(ctx, batch)
			if err != nil {
				return p.fail(ctx, clk, start, &summary, lastCommitted.Encode(), err)
			}
			summary.RecordsLoaded += res.Upserted
		}

		p.state = StateCommitting
		if page.Done {
			final := lastCommitted
			if advance {
				final = models.Cursor{Watermark: until}
			}
			if err := p.Checkpoints.Commit(ctx, p.Source, final.Encode(), models.RunSucceeded); err != nil {
				return p.fail(ctx, clk, start, &summary, lastCommitted.Encode(), err)
			}
			break
		}
		if advance {
			if err := p.Checkpoints.Commit(ctx, p.Source, page.Next.Encode(), models.RunInProgress); err != nil {
				return p.fail(ctx, clk, start, &summary, lastCommitted.Encode(), err)
			}
			lastCommitted = page.Next
		}
		cur = page.Next
	}

	p.state = StateSucceeded
	summary.Status = models.RunSucceeded
	summary.Duration = clk.Now().Sub(start)
	logger.Infof("pipeline %s succeeded: fetched %d, loaded %d, skipped %d in %s",
		p.Source, summary.RecordsFetched, summary.RecordsLoaded, summary.RecordsFailed, summary.Duration)
	return summary, nil
}

// State reports the pipeline's current lifecycle step.
func (p *Pipeline) CurrentState() State {
	if p.state == "" {
		return StateIdle
	}
	return p.state
}

// loadBatch applies the batch with a tiered recovery ladder: an
// unavailable warehouse is retried with backoff, a rejected batch is
// retried exactly once with identical contents, anything else is fatal.
func (p *Pipeline) loadBatch(ctx context.Context, batch []models.Record) (models.LoadResult, error) {
	res, err := p.Loader.Upsert(ctx, batch)
	if err == nil {
		return res, nil
	}

	if errors.Is(err, store.ErrStorageUnavailable) {
		policy := p.StorageRetry
		if policy.Attempts <= 0 {
			policy.Attempts = 3
		}
		if policy.BaseDelay <= 0 {
			policy.BaseDelay = 500 * time.Millisecond
		}
		if policy.MaxDelay <= 0 {
			policy.MaxDelay = 10 * time.Second
		}
		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = policy.BaseDelay
		expo.MaxInterval = policy.MaxDelay
		expo.MaxElapsedTime = 0

		op := func() error {
			r, e := p.Loader.Upsert(ctx, batch)
			if e == nil {
				res = r
				return nil
			}
			if errors.Is(e, store.ErrStorageUnavailable) {
				logger.Warnf("%s: warehouse unavailable, retrying batch: %v", p.Source, e)
				return e
			}
			return backoff.Permanent(e)
		}
		err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.Attempts-1)), ctx))
		return res, err
	}

	var loadErr *store.LoadError
	if errors.As(err, &loadErr) {
		logger.Warnf("%s: batch rejected at %s, retrying once", p.Source, loadErr.NaturalKey)
		return p.Loader.Upsert(ctx, batch)
	}
	return res, err
}

func (p *Pipeline) fail(ctx context.Context, clk clock.Clock, start time.Time, summary *models.RunSummary, lastCommitted string, cause error) (models.RunSummary, error) {
	p.state = StateFailed
	summary.Status = models.RunFailed
	summary.Error = cause.Error()
	summary.Duration = clk.Now().Sub(start)

	// The status write must go through even when the run context is the
	// reason we are failing.
	commitCtx := context.WithoutCancel(ctx)
	if err := p.Checkpoints.Commit(commitCtx, p.Source, lastCommitted, models.RunFailed); err != nil {
		logger.Errorf("%s: could not record failed checkpoint: %v", p.Source, err)
	}
	logger.Errorf("pipeline %s failed after %s: %v", p.Source, summary.Duration, cause)
	return *summary, cause
}
