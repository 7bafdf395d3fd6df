// Package utils holds the loose-type coercion helpers used at the raw
// record boundary. OData payloads decode into untyped maps, so every field
// read goes through these.
package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ToInt64 converts the usual JSON number shapes to int64.
func ToInt64(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", val)
	}
}

// ToString renders any scalar as a string; nil becomes "".
func ToString(val interface{}) string {
	if val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", val)
}

// ParseTime parses the timestamp shapes the Orchestrator API emits.
// Vendor timestamps are ISO 8601, usually with a trailing Z and optional
// fractional seconds.
func ParseTime(val interface{}) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		formats := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		}
		for _, f := range formats {
			if t, err := time.Parse(f, v); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse datetime: %s", v)
	case []byte:
		return ParseTime(string(v))
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", val)
	}
}
