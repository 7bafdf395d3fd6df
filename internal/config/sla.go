package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rules maps queues and processes to their SLA duration. Deadline
// computation is creation time plus the matched duration; the most specific
// rule wins (queue over process over default).
type Rules struct {
	Default   time.Duration
	ByQueue   map[int64]time.Duration
	ByProcess map[string]time.Duration
}

// ForQueue returns the SLA duration for a queue definition.
func (r Rules) ForQueue(queueDefinitionID int64) time.Duration {
	if d, ok := r.ByQueue[queueDefinitionID]; ok {
		return d
	}
	return r.Default
}

// ForProcess returns the SLA duration for a release / process name.
func (r Rules) ForProcess(name string) time.Duration {
	if d, ok := r.ByProcess[name]; ok {
		return d
	}
	return r.Default
}

// ParseRules parses the default SLA duration plus an override list of the
// form "queue:123=4h,process:InvoiceLoader=8h".
func ParseRules(def, overrides string) (Rules, error) {
	d, err := time.ParseDuration(def)
	if err != nil {
		return Rules{}, fmt.Errorf("invalid SLA_DEFAULT %q: %w", def, err)
	}
	rules := Rules{
		Default:   d,
		ByQueue:   make(map[int64]time.Duration),
		ByProcess: make(map[string]time.Duration),
	}
	if overrides == "" {
		return rules, nil
	}
	for _, entry := range strings.Split(overrides, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		keyVal := strings.SplitN(entry, "=", 2)
		if len(keyVal) != 2 {
			return Rules{}, fmt.Errorf("invalid SLA override %q", entry)
		}
		dur, err := time.ParseDuration(keyVal[1])
		if err != nil {
			return Rules{}, fmt.Errorf("invalid SLA override duration %q: %w", entry, err)
		}
		kindName := strings.SplitN(keyVal[0], ":", 2)
		if len(kindName) != 2 {
			return Rules{}, fmt.Errorf("invalid SLA override key %q", keyVal[0])
		}
		switch kindName[0] {
		case "queue":
			id, err := strconv.ParseInt(kindName[1], 10, 64)
			if err != nil {
				return Rules{}, fmt.Errorf("invalid SLA override queue id %q: %w", entry, err)
			}
			rules.ByQueue[id] = dur
		case "process":
			rules.ByProcess[kindName[1]] = dur
		default:
			return Rules{}, fmt.Errorf("unknown SLA override kind %q", kindName[0])
		}
	}
	return rules, nil
}
