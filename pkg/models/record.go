// Package models holds the shared data types exchanged between the
// extraction client, the transformer and the warehouse loaders.
package models

import (
	"fmt"
	"time"
)

// RawRecord is the vendor-native shape of one Orchestrator entity, exactly
// as decoded from an OData page. It is transient: produced by the client,
// consumed by the transformer, never stored in the warehouse.
type RawRecord map[string]interface{}

// Record is any normalized row the loader can upsert. The natural key is
// the vendor identifier plus the source system, so re-extracting the same
// entity updates the stored row instead of duplicating it.
type Record interface {
	NaturalKey() string
}

// QueueItem is a normalized Orchestrator queue item.
type QueueItem struct {
	VendorID            int64
	SourceSystem        string
	QueueDefinitionID   int64
	FolderID            int64
	Key                 string
	Status              string
	Reference           string
	Priority            string
	DeferDate           *time.Time
	StartProcessing     *time.Time
	EndProcessing       *time.Time
	SecondsPrevAttempts int64
	RetryNumber         int64
	CreationTime        time.Time
	OrgUnitID           int64
	WaitingDurationSecs *int64
	RunDurationSecs     *int64
	SLADeadline         time.Time
	IsBreached          bool
}

func (q QueueItem) NaturalKey() string {
	return fmt.Sprintf("queue_items/%s/%d", q.SourceSystem, q.VendorID)
}

// Job is a normalized Orchestrator job execution.
type Job struct {
	VendorKey            string
	SourceSystem         string
	FolderID             int64
	FolderKey            string
	State                string
	SubState             string
	JobPriority          string
	Source               string
	SourceType           string
	StartTime            *time.Time
	EndTime              *time.Time
	CreationTime         time.Time
	LastModificationTime *time.Time
	ReleaseName          string
	Type                 string
	HostMachineName      string
	RuntimeType          string
	Reference            string
	ProcessType          string
	ErrorCode            string
	Info                 string
	OrgUnitID            int64
	OrgUnitFQN           string
	RunDurationSecs      *int64
	SLADeadline          time.Time
	IsBreached           bool
}

func (j Job) NaturalKey() string {
	return fmt.Sprintf("jobs/%s/%s", j.SourceSystem, j.VendorKey)
}

// LoadResult summarizes one committed upsert batch.
type LoadResult struct {
	Upserted int
}
