package etl

import (
	"time"

	"github.com/rpaops/orcsync/internal/config"
	"github.com/rpaops/orcsync/pkg/models"
	"github.com/rpaops/orcsync/pkg/utils"
)

// QueueItemTransformer normalizes raw queue items: required-field
// validation, timestamp parsing, derived waiting/run durations and the SLA
// deadline/breach snapshot. Breach state for still-open items is evaluated
// against the supplied now, so every re-extraction refreshes it.
type QueueItemTransformer struct {
	SourceSystem string
	SLA          config.Rules
}

func (t *QueueItemTransformer) Transform(raw models.RawRecord, now time.Time) (models.Record, error) {
	id, err := requiredInt64(raw, "Id")
	if err != nil {
		return nil, err
	}
	creation, err := requiredTime(raw, "CreationTime")
	if err != nil {
		return nil, err
	}
	deferDate, err := optionalTime(raw, "DeferDate")
	if err != nil {
		return nil, err
	}
	start, err := optionalTime(raw, "StartProcessing")
	if err != nil {
		return nil, err
	}
	end, err := optionalTime(raw, "EndProcessing")
	if err != nil {
		return nil, err
	}

	queueDefID := looseInt64(raw, "QueueDefinitionId")
	deadline := creation.Add(t.SLA.ForQueue(queueDefID))

	item := models.QueueItem{
		VendorID:            id,
		SourceSystem:        t.SourceSystem,
		QueueDefinitionID:   queueDefID,
		FolderID:            looseInt64(raw, "FolderId"),
		Key:                 utils.ToString(raw["Key"]),
		Status:              utils.ToString(raw["Status"]),
		Reference:           utils.ToString(raw["Reference"]),
		Priority:            utils.ToString(raw["Priority"]),
		DeferDate:           deferDate,
		StartProcessing:     start,
		EndProcessing:       end,
		SecondsPrevAttempts: looseInt64(raw, "SecondsInPreviousAttempts"),
		RetryNumber:         looseInt64(raw, "RetryNumber"),
		CreationTime:        creation,
		OrgUnitID:           looseInt64(raw, "OrganizationUnitId"),
		WaitingDurationSecs: durationSecs(&creation, start),
		RunDurationSecs:     durationSecs(start, end),
		SLADeadline:         deadline,
		IsBreached:          breached(deadline, end, now),
	}
	return item, nil
}

// JobTransformer normalizes raw job executions. The job Key uuid is the
// natural key; SLA rules match on the release (process) name.
type JobTransformer struct {
	SourceSystem string
	SLA          config.Rules
}

func (t *JobTransformer) Transform(raw models.RawRecord, now time.Time) (models.Record, error) {
	key := utils.ToString(raw["Key"])
	if key == "" {
		return nil, &ValidationError{Field: "Key", Reason: "is missing"}
	}
	creation, err := requiredTime(raw, "CreationTime")
	if err != nil {
		return nil, err
	}
	start, err := optionalTime(raw, "StartTime")
	if err != nil {
		return nil, err
	}
	end, err := optionalTime(raw, "EndTime")
	if err != nil {
		return nil, err
	}
	lastMod, err := optionalTime(raw, "LastModificationTime")
	if err != nil {
		return nil, err
	}

	release := utils.ToString(raw["ReleaseName"])
	deadline := creation.Add(t.SLA.ForProcess(release))

	job := models.Job{
		VendorKey:            key,
		SourceSystem:         t.SourceSystem,
		FolderID:             looseInt64(raw, "FolderId"),
		FolderKey:            utils.ToString(raw["FolderKey"]),
		State:                utils.ToString(raw["State"]),
		SubState:             utils.ToString(raw["SubState"]),
		JobPriority:          utils.ToString(raw["JobPriority"]),
		Source:               utils.ToString(raw["Source"]),
		SourceType:           utils.ToString(raw["SourceType"]),
		StartTime:            start,
		EndTime:              end,
		CreationTime:         creation,
		LastModificationTime: lastMod,
		ReleaseName:          release,
		Type:                 utils.ToString(raw["Type"]),
		HostMachineName:      utils.ToString(raw["HostMachineName"]),
		RuntimeType:          utils.ToString(raw["RuntimeType"]),
		Reference:            utils.ToString(raw["Reference"]),
		ProcessType:          utils.ToString(raw["ProcessType"]),
		ErrorCode:            utils.ToString(raw["ErrorCode"]),
		Info:                 utils.ToString(raw["Info"]),
		OrgUnitID:            looseInt64(raw, "OrganizationUnitId"),
		OrgUnitFQN:           utils.ToString(raw["OrganizationUnitFullyQualifiedName"]),
		RunDurationSecs:      durationSecs(start, end),
		SLADeadline:          deadline,
		IsBreached:           breached(deadline, end, now),
	}
	return job, nil
}

// breached is the SLA snapshot rule: completed work compares its end time
// against the deadline, open work compares the current instant.
func breached(deadline time.Time, end *time.Time, now time.Time) bool {
	if end != nil {
		return end.After(deadline)
	}
	return now.After(deadline)
}

func durationSecs(from, to *time.Time) *int64 {
	if from == nil || to == nil {
		return nil
	}
	secs := int64(to.Sub(*from) / time.Second)
	return &secs
}

func requiredInt64(raw models.RawRecord, field string) (int64, error) {
	val, ok := raw[field]
	if !ok || val == nil {
		return 0, &ValidationError{Field: field, Reason: "is missing"}
	}
	n, err := utils.ToInt64(val)
	if err != nil {
		return 0, &ValidationError{Field: field, Reason: "is not numeric"}
	}
	return n, nil
}

func requiredTime(raw models.RawRecord, field string) (time.Time, error) {
	val, ok := raw[field]
	if !ok || val == nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "is missing"}
	}
	t, err := utils.ParseTime(val)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "is not a parsable timestamp"}
	}
	return t, nil
}

func optionalTime(raw models.RawRecord, field string) (*time.Time, error) {
	val, ok := raw[field]
	if !ok || val == nil {
		return nil, nil
	}
	t, err := utils.ParseTime(val)
	if err != nil {
		return nil, &ValidationError{Field: field, Reason: "is not a parsable timestamp"}
	}
	return &t, nil
}

// looseInt64 reads a numeric field leniently; vendor payloads leave plenty
// of these null.
func looseInt64(raw models.RawRecord, field string) int64 {
	val, ok := raw[field]
	if !ok || val == nil {
		return 0
	}
	n, err := utils.ToInt64(val)
	if err != nil {
		return 0
	}
	return n
}
