package etl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpaops/orcsync/internal/clock"
	"github.com/rpaops/orcsync/internal/store"
	"github.com/rpaops/orcsync/pkg/models"
)

type fakeExtractor struct {
	pages []Page
	calls int
}

func (e *fakeExtractor) FetchPage(ctx context.Context, cur models.Cursor, until time.Time, pageSize int) (Page, error) {
	if e.calls >= len(e.pages) {
		return Page{Next: cur, Done: true}, nil
	}
	p := e.pages[e.calls]
	e.calls++
	if p.Done {
		p.Next = cur
	}
	return p, nil
}

type fakeLoader struct {
	failures []error
	calls    int
	loaded   int
}

func (l *fakeLoader) Upsert(ctx context.Context, batch []models.Record) (models.LoadResult, error) {
	l.calls++
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		if err != nil {
			return models.LoadResult{}, err
		}
	}
	l.loaded += len(batch)
	return models.LoadResult{Upserted: len(batch)}, nil
}

type commitCall struct {
	cursor string
	status models.RunStatus
}

type fakeCheckpoints struct {
	cp         models.Checkpoint
	acquireErr error
	commits    []commitCall
}

func (c *fakeCheckpoints) Acquire(ctx context.Context, source string) (models.Checkpoint, error) {
	if c.acquireErr != nil {
		return models.Checkpoint{}, c.acquireErr
	}
	return c.cp, nil
}

func (c *fakeCheckpoints) Commit(ctx context.Context, source, cursor string, status models.RunStatus) error {
	c.commits = append(c.commits, commitCall{cursor: cursor, status: status})
	c.cp.Cursor = cursor
	c.cp.Status = status
	return nil
}

func rawPage(start, n int) []models.RawRecord {
	recs := make([]models.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, models.RawRecord{
			"Id":           float64(start + i),
			"CreationTime": "2026-05-01T08:00:00Z",
		})
	}
	return recs
}

func testPipeline(clk clock.Clock, ex Extractor, ld Loader, cps CheckpointStore) *Pipeline {
	return &Pipeline{
		Source:       "queue_items",
		Extractor:    ex,
		Transformer:  &QueueItemTransformer{SourceSystem: "uipath", SLA: slaRules(24 * time.Hour)},
		Loader:       ld,
		Checkpoints:  cps,
		Clock:        clk,
		PageSize:     50,
		StorageRetry: RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func TestPipelineRunHappyPath(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	wm := fixed.Add(-24 * time.Hour)

	next1 := models.Cursor{Watermark: wm, FolderID: 10, Skip: 50}
	next2 := models.Cursor{Watermark: wm, FolderID: 20}
	ex := &fakeExtractor{pages: []Page{
		{Records: rawPage(1, 50), Next: next1},
		{Records: rawPage(51, 50), Next: next2},
		{Records: rawPage(101, 20), Done: true},
	}}
	ld := &fakeLoader{}
	cps := &fakeCheckpoints{cp: models.Checkpoint{
		Source: "queue_items",
		Cursor: models.Cursor{Watermark: wm}.Encode(),
	}}

	p := testPipeline(clk, ex, ld, cps)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, summary.Status)
	assert.Equal(t, 120, summary.RecordsFetched)
	assert.Equal(t, 120, summary.RecordsLoaded)
	assert.Equal(t, 0, summary.RecordsFailed)
	assert.Equal(t, StateSucceeded, p.CurrentState())

	// Two page commits, then the final commit moves the watermark to the
	// window's upper bound.
	require.Len(t, cps.commits, 3)
	assert.Equal(t, commitCall{next1.Encode(), models.RunInProgress}, cps.commits[0])
	assert.Equal(t, commitCall{next2.Encode(), models.RunInProgress}, cps.commits[1])
	assert.Equal(t, commitCall{models.Cursor{Watermark: fixed}.Encode(), models.RunSucceeded}, cps.commits[2])
}

func TestPipelineRetriesRejectedBatchOnce(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	wm := fixed.Add(-24 * time.Hour)

	// Three pages of 50, 50 and 20; the second page's load is rejected
	// once, then the identical batch goes through.
	next1 := models.Cursor{Watermark: wm, Skip: 50}
	next2 := models.Cursor{Watermark: wm, Skip: 100}
	ex := &fakeExtractor{pages: []Page{
		{Records: rawPage(1, 50), Next: next1},
		{Records: rawPage(51, 50), Next: next2},
		{Records: rawPage(101, 20), Done: true},
	}}
	ld := &fakeLoader{failures: []error{
		nil,
		&store.LoadError{NaturalKey: "queue_items/uipath/51", Err: errors.New("constraint violation")},
	}}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: models.Cursor{Watermark: wm}.Encode()}}

	summary, err := testPipeline(clk, ex, ld, cps).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunSucceeded, summary.Status)
	assert.Equal(t, 120, summary.RecordsFetched)
	assert.Equal(t, 120, summary.RecordsLoaded)
	assert.Equal(t, 4, ld.calls) // page 1, page 2 rejected, page 2 retried, page 3

	// Page 3's cursor was committed before the final watermark advance.
	require.Len(t, cps.commits, 3)
	assert.Equal(t, commitCall{next2.Encode(), models.RunInProgress}, cps.commits[1])
	assert.Equal(t, commitCall{models.Cursor{Watermark: fixed}.Encode(), models.RunSucceeded}, cps.commits[2])
}

func TestPipelineRejectedBatchTwiceIsFatal(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	wm := fixed.Add(-24 * time.Hour)

	loadErr := &store.LoadError{NaturalKey: "queue_items/uipath/1", Err: errors.New("constraint violation")}
	ex := &fakeExtractor{pages: []Page{{Records: rawPage(1, 10), Done: true}}}
	ld := &fakeLoader{failures: []error{loadErr, loadErr}}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: models.Cursor{Watermark: wm}.Encode()}}

	p := testPipeline(clk, ex, ld, cps)
	summary, err := p.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, models.RunFailed, summary.Status)
	assert.Equal(t, StateFailed, p.CurrentState())
	assert.Equal(t, 2, ld.calls)

	// The failure still releases the guard at the last committed cursor.
	require.Len(t, cps.commits, 1)
	assert.Equal(t, commitCall{models.Cursor{Watermark: wm}.Encode(), models.RunFailed}, cps.commits[0])
}

func TestPipelineRetriesUnavailableStorage(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	wm := fixed.Add(-24 * time.Hour)

	ex := &fakeExtractor{pages: []Page{{Records: rawPage(1, 10), Done: true}}}
	ld := &fakeLoader{failures: []error{
		fmt.Errorf("%w: connection refused", store.ErrStorageUnavailable),
		fmt.Errorf("%w: connection refused", store.ErrStorageUnavailable),
	}}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: models.Cursor{Watermark: wm}.Encode()}}

	summary, err := testPipeline(clk, ex, ld, cps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.RecordsLoaded)
	assert.Equal(t, 3, ld.calls)
}

func TestPipelineCountsSkippedRecords(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	wm := fixed.Add(-24 * time.Hour)

	recs := rawPage(1, 3)
	delete(recs[1], "CreationTime")
	ex := &fakeExtractor{pages: []Page{{Records: recs, Done: true}}}
	ld := &fakeLoader{}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: models.Cursor{Watermark: wm}.Encode()}}

	summary, err := testPipeline(clk, ex, ld, cps).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.RecordsFetched)
	assert.Equal(t, 2, summary.RecordsLoaded)
	assert.Equal(t, 1, summary.RecordsFailed)
	assert.Equal(t, models.RunSucceeded, summary.Status)
}

func TestPipelineCancellation(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	wm := fixed.Add(-24 * time.Hour)

	ex := &fakeExtractor{pages: []Page{{Records: rawPage(1, 10), Done: true}}}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: models.Cursor{Watermark: wm}.Encode()}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := testPipeline(clk, ex, &fakeLoader{}, cps).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunFailed, summary.Status)
	assert.Equal(t, 0, ex.calls)

	// Failed status is recorded despite the dead run context.
	require.Len(t, cps.commits, 1)
	assert.Equal(t, models.RunFailed, cps.commits[0].status)
}

func TestPipelineCorruptCheckpointFailsFast(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	ex := &fakeExtractor{}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: "garbage"}}

	summary, err := testPipeline(clk, ex, &fakeLoader{}, cps).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, summary.Status)
	assert.Equal(t, 0, ex.calls)

	// The guard is released with the stored string as-is, the only cursor
	// the checkpoint store will accept against the corrupt row.
	require.Len(t, cps.commits, 1)
	assert.Equal(t, commitCall{"garbage", models.RunFailed}, cps.commits[0])
}

func TestPipelineConcurrentRunRefused(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC))
	cps := &fakeCheckpoints{acquireErr: fmt.Errorf("%w: queue_items", store.ErrConcurrentRun)}

	summary, err := testPipeline(clk, &fakeExtractor{}, &fakeLoader{}, cps).Run(context.Background())
	require.ErrorIs(t, err, store.ErrConcurrentRun)
	assert.Equal(t, models.RunFailed, summary.Status)
	assert.Empty(t, cps.commits)
}

func TestPipelineWindowOverrideDoesNotAdvance(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	stored := models.Cursor{Watermark: fixed.Add(-time.Hour)}

	ex := &fakeExtractor{pages: []Page{
		{Records: rawPage(1, 50), Next: models.Cursor{Watermark: fixed.Add(-72 * time.Hour), Skip: 50}},
		{Records: rawPage(51, 10), Done: true},
	}}
	ld := &fakeLoader{}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: stored.Encode()}}

	p := testPipeline(clk, ex, ld, cps)
	p.WindowFrom = fixed.Add(-72 * time.Hour)
	p.WindowTo = fixed.Add(-48 * time.Hour)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, summary.RecordsLoaded)
	assert.Equal(t, p.WindowFrom, summary.WindowFrom)
	assert.Equal(t, p.WindowTo, summary.WindowTo)

	// A replay releases the guard but leaves the stored cursor untouched.
	require.Len(t, cps.commits, 1)
	assert.Equal(t, commitCall{stored.Encode(), models.RunSucceeded}, cps.commits[0])
}

// keyedExtractor serves pages by cursor position, so a resumed run lands on
// exactly the page the failed run stopped at.
type keyedExtractor struct {
	pages    map[string]Page
	failures map[string]error
}

func (e *keyedExtractor) FetchPage(ctx context.Context, cur models.Cursor, until time.Time, pageSize int) (Page, error) {
	k := cur.Encode()
	if err, ok := e.failures[k]; ok {
		delete(e.failures, k)
		return Page{}, err
	}
	p, ok := e.pages[k]
	if !ok {
		return Page{Next: cur, Done: true}, nil
	}
	if p.Done {
		p.Next = cur
	}
	return p, nil
}

func TestPipelineResumeMatchesUninterruptedRun(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	wm := fixed.Add(-24 * time.Hour)
	start := models.Cursor{Watermark: wm}
	mid := models.Cursor{Watermark: wm, Skip: 50}

	pages := map[string]Page{
		start.Encode(): {Records: rawPage(1, 50), Next: mid},
		mid.Encode():   {Records: rawPage(51, 30), Done: true},
	}

	ex := &keyedExtractor{
		pages:    pages,
		failures: map[string]error{mid.Encode(): errors.New("connection reset")},
	}
	ld := &fakeLoader{}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: start.Encode()}}

	// First run loads page one, commits its cursor, then dies on page two.
	_, err := testPipeline(clock.NewFakeClock(fixed), ex, ld, cps).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 50, ld.loaded)
	assert.Equal(t, mid.Encode(), cps.cp.Cursor)
	assert.Equal(t, models.RunFailed, cps.cp.Status)

	// The retriggered run picks up at the committed page; together the two
	// runs load every record exactly once.
	summary, err := testPipeline(clock.NewFakeClock(fixed.Add(time.Minute)), ex, ld, cps).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, summary.RecordsLoaded)
	assert.Equal(t, 80, ld.loaded)
}

func TestPipelineDryRunLoadsNothing(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(fixed)
	stored := models.Cursor{Watermark: fixed.Add(-24 * time.Hour)}

	ex := &fakeExtractor{pages: []Page{{Records: rawPage(1, 10), Done: true}}}
	ld := &fakeLoader{}
	cps := &fakeCheckpoints{cp: models.Checkpoint{Cursor: stored.Encode()}}

	p := testPipeline(clk, ex, ld, cps)
	p.DryRun = true

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.RecordsFetched)
	assert.Equal(t, 0, summary.RecordsLoaded)
	assert.Equal(t, 0, ld.calls)

	require.Len(t, cps.commits, 1)
	assert.Equal(t, commitCall{stored.Encode(), models.RunSucceeded}, cps.commits[0])
}
