// Package clock abstracts wall time so SLA snapshots and checkpoint
// staleness can be tested deterministically.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// System reads the real wall clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }
