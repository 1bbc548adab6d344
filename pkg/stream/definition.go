// Package stream describes Sunwave extraction entities as data.
//
// A Definition is static for the whole run. Streams either run on their own
// (roots) or as children of a parent stream, in which case every parent
// record that carries the linking fields yields one child work unit. All
// functions in this package are pure: they compute paths, contexts and
// bookmarks but never perform I/O.
package stream

import (
	"time"
)

// Record is one decoded JSON object emitted by a stream.
type Record = map[string]any

// Window selects how the {start} and {end} placeholders are computed.
type Window int

const (
	// WindowNone means the path has no date range.
	WindowNone Window = iota

	// WindowBookmark starts at the stream bookmark, or the configured start
	// date on the first run.
	WindowBookmark

	// WindowStartDate always starts at the configured start date.
	WindowStartDate
)

// DateLayout formats {start} and {end}.
const DateLayout = "2006-01-02"

// Definition is the declarative description of one stream.
type Definition struct {
	Name           string
	PathTemplate   string
	PrimaryKeys    []string
	ReplicationKey string

	// Parent names the stream whose records drive this one.
	Parent string

	// ChildKeys are the record fields copied into each child context.
	ChildKeys []string

	// Partitions are static placeholder maps; each one is paginated to
	// exhaustion before the next.
	Partitions []Context

	Window Window

	// RecordsKey names the array holding records when the response is a
	// mapping. Empty means a mapping is itself a single record.
	RecordsKey string

	// SchemaRef is the definition name in the schema document.
	SchemaRef string

	// PostProcess rewrites a record before emission. Returning nil drops it.
	PostProcess func(Record) Record
}

// IsChild reports whether the stream runs under a parent.
func (d *Definition) IsChild() bool {
	return d.Parent != ""
}

// Incremental reports whether the stream tracks a bookmark.
func (d *Definition) Incremental() bool {
	return d.ReplicationKey != ""
}

// PathFor resolves the definition's path template against ctx.
func (d *Definition) PathFor(ctx Context) (string, error) {
	return ResolvePath(d.PathTemplate, ctx)
}

// WindowContext computes {start} and {end} for the definition. The start is
// the bookmark for WindowBookmark streams when one exists.
func (d *Definition) WindowContext(bookmark string, startDate, now time.Time) Context {
	switch d.Window {
	case WindowBookmark:
		start := startDate
		if t, ok := ParseTime(bookmark); ok {
			start = t
		}
		return Context{"start": start.UTC().Format(DateLayout), "end": now.UTC().Format(DateLayout)}
	case WindowStartDate:
		return Context{"start": startDate.UTC().Format(DateLayout), "end": now.UTC().Format(DateLayout)}
	default:
		return nil
	}
}

// WorkUnits returns one context per static partition merged over base, or
// base alone when the stream is not partitioned.
func (d *Definition) WorkUnits(base Context) []Context {
	if len(d.Partitions) == 0 {
		return []Context{MergeContext(base)}
	}

	units := make([]Context, 0, len(d.Partitions))
	for _, p := range d.Partitions {
		units = append(units, MergeContext(base, p))
	}
	return units
}

// Process applies PostProcess when set.
func (d *Definition) Process(r Record) Record {
	if d.PostProcess == nil {
		return r
	}
	return d.PostProcess(r)
}
