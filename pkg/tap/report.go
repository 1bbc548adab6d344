package tap

import (
	"errors"
	"fmt"
	"strings"
)

// StreamResult summarises one stream of a run.
type StreamResult struct {
	Stream  string
	Records int
	Pages   int
	Skipped int

	// Err is the fatal error that ended the stream, if any.
	Err error
}

// Report is the outcome of Run. Streams are in catalog order.
type Report struct {
	Streams []StreamResult
	State   map[string]string
}

// Failed lists the streams that ended with a fatal error.
func (r *Report) Failed() []string {
	var out []string
	for _, s := range r.Streams {
		if s.Err != nil {
			out = append(out, s.Stream)
		}
	}
	return out
}

// Err joins the stream errors, or returns nil when every stream succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Streams {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", s.Stream, s.Err))
		}
	}
	return errors.Join(errs...)
}

// Result returns the result for name.
func (r *Report) Result(name string) (StreamResult, bool) {
	for _, s := range r.Streams {
		if s.Stream == name {
			return s, true
		}
	}
	return StreamResult{}, false
}

// String renders a one-line summary per stream.
func (r *Report) String() string {
	var b strings.Builder
	for _, s := range r.Streams {
		status := "ok"
		if s.Err != nil {
			status = "failed: " + s.Err.Error()
		}
		fmt.Fprintf(&b, "%s: %d records, %d pages, %d skipped, %s\n", s.Stream, s.Records, s.Pages, s.Skipped, status)
	}
	return b.String()
}
