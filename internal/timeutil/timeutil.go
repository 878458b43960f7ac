// Package timeutil parses and formats session timestamps in a single
// reference frame (UTC). Session logs mix RFC 3339, nanosecond, and
// zone-less ISO 8601 variants, so parsing tries each in turn.
package timeutil

import (
	"strings"
	"time"
)

// Parse returns the UTC instant for an ISO 8601 timestamp string.
// Returns the zero time for empty or unparseable input.
func Parse(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Format renders an instant as RFC 3339 in UTC.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// NowISO returns the current instant as RFC 3339 UTC.
func NowISO() string {
	return Format(time.Now())
}
