package models

import "time"

// RunSummary is handed back to the scheduler after every pipeline
// execution. It is never mutated after the run finishes.
type RunSummary struct {
	RunID          string
	Source         string
	WindowFrom     time.Time
	WindowTo       time.Time
	RecordsFetched int
	RecordsLoaded  int
	RecordsFailed  int
	Duration       time.Duration
	Status         RunStatus
	Error          string
}
