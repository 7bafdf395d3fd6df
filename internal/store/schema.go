package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	TableQueueItems  = "queue_items"
	TableJobs        = "jobs"
	TableCheckpoints = "extraction_checkpoints"
)

type column struct {
	name string
	typ  ColType
}

var queueItemColumns = []column{
	{"vendor_id", ColBigInt},
	{"source_system", ColKeyText},
	{"queue_definition_id", ColBigInt},
	{"folder_id", ColBigInt},
	{"item_key", ColText},
	{"status", ColKeyText},
	{"reference", ColText},
	{"priority", ColKeyText},
	{"defer_date", ColTime},
	{"start_processing", ColTime},
	{"end_processing", ColTime},
	{"seconds_prev_attempts", ColBigInt},
	{"retry_number", ColBigInt},
	{"creation_time", ColTime},
	{"org_unit_id", ColBigInt},
	{"waiting_duration_secs", ColBigInt},
	{"run_duration_secs", ColBigInt},
	{"sla_deadline", ColTime},
	{"is_breached", ColBool},
	{"first_seen_at", ColTime},
	{"updated_at", ColTime},
}

var queueItemKey = []string{"vendor_id", "source_system"}

var jobColumns = []column{
	{"job_key", ColKeyText},
	{"source_system", ColKeyText},
	{"folder_id", ColBigInt},
	{"folder_key", ColText},
	{"state", ColKeyText},
	{"sub_state", ColText},
	{"job_priority", ColKeyText},
	{"job_source", ColText},
	{"source_type", ColText},
	{"start_time", ColTime},
	{"end_time", ColTime},
	{"creation_time", ColTime},
	{"last_modification_time", ColTime},
	{"release_name", ColText},
	{"job_type", ColText},
	{"host_machine_name", ColText},
	{"runtime_type", ColText},
	{"reference", ColText},
	{"process_type", ColText},
	{"error_code", ColText},
	{"info", ColText},
	{"org_unit_id", ColBigInt},
	{"org_unit_fqn", ColText},
	{"run_duration_secs", ColBigInt},
	{"sla_deadline", ColTime},
	{"is_breached", ColBool},
	{"first_seen_at", ColTime},
	{"updated_at", ColTime},
}

var jobKey = []string{"job_key", "source_system"}

var checkpointColumns = []column{
	{"source", ColKeyText},
	{"last_cursor", ColText},
	{"status", ColKeyText},
	{"updated_at", ColBigInt}, // unix seconds, comparable across dialects
}

// EnsureSchema creates the warehouse tables when missing. It mirrors the
// vendor schema plus the derived SLA and audit columns.
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	ddl := []string{
		tableDDL(d, TableQueueItems, queueItemColumns, queueItemKey),
		tableDDL(d, TableJobs, jobColumns, jobKey),
		tableDDL(d, TableCheckpoints, checkpointColumns, []string{"source"}),
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

func tableDDL(d Dialect, table string, cols []column, pk []string) string {
	parts := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s %s", c.name, d.TypeName(c.typ)))
	}
	parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pk, ", ")))
	return d.CreateTable(table, strings.Join(parts, ", "))
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}
