package stream

import (
	"time"
)

// sunwaveLayout is the datetime format the API uses for created_on.
const sunwaveLayout = "01/02/2006 03:04:05 PM"

// isoLayout renders normalised datetimes with a numeric offset.
const isoLayout = "2006-01-02T15:04:05-07:00"

// NormalizeDatetime rewrites a Sunwave datetime to ISO-8601 UTC. Empty and
// unparsable values are returned unchanged.
func NormalizeDatetime(value string) string {
	if value == "" {
		return value
	}
	t, err := time.ParseInLocation(sunwaveLayout, value, time.UTC)
	if err != nil {
		return value
	}
	return t.Format(isoLayout)
}

// NormalizeField returns a PostProcess func normalising field in place.
func NormalizeField(field string) func(Record) Record {
	return func(r Record) Record {
		if s, ok := r[field].(string); ok {
			r[field] = NormalizeDatetime(s)
		}
		return r
	}
}

// ParseTime parses a bookmark or replication-key value. Accepted forms are
// RFC 3339, a bare date, and the Sunwave datetime format.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, DateLayout, sunwaveLayout} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NextBookmark returns the largest replication-key value among records if it
// is greater than current. The second return value is false when the
// bookmark does not move; a bookmark never decreases.
func NextBookmark(current string, records []Record, key string) (string, bool) {
	best := current
	moved := false

	for _, r := range records {
		raw, ok := r[key].(string)
		if !ok || raw == "" {
			continue
		}
		if greater(raw, best) {
			best = raw
			moved = true
		}
	}

	if !moved {
		return current, false
	}
	if t, ok := ParseTime(best); ok {
		best = t.UTC().Format(time.RFC3339)
	}
	return best, best != current
}

// greater compares as times when both values parse. A datetime always beats
// an unparsable value; two unparsable values compare as strings.
func greater(a, b string) bool {
	if b == "" {
		return true
	}
	ta, okA := ParseTime(a)
	tb, okB := ParseTime(b)
	switch {
	case okA && okB:
		return ta.After(tb)
	case okA != okB:
		return okA
	default:
		return a > b
	}
}
