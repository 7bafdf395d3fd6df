package models

import "time"

// RunStatus is the lifecycle state recorded on a checkpoint row.
type RunStatus string

const (
	RunInProgress RunStatus = "in-progress"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
)

// Checkpoint is the persisted extraction progress marker for one source.
// The cursor only advances after a fully committed load.
type Checkpoint struct {
	Source    string
	Cursor    string
	Status    RunStatus
	UpdatedAt time.Time
}
