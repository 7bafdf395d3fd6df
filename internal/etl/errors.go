package etl

import "fmt"

// ValidationError rejects a single raw record at the transform boundary.
// The pipeline skips and counts the record; it never aborts the batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: field %s %s", e.Field, e.Reason)
}
