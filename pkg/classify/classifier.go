// Package classify decides whether a Sunwave response is usable.
//
// The API reports some application failures with HTTP 200 and an "error"
// field in the body, and occasionally returns non-JSON bodies under a 2xx
// status. Status codes alone are therefore not enough: every response body is
// inspected before its records are trusted.
package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sunwave_classifications_total",
	Help: "Response classifications by stream and outcome",
}, []string{"stream", "outcome"})

// ErrProtocolAmbiguity marks a successful HTTP status whose body is an error.
var ErrProtocolAmbiguity = errors.New("application error under success status")

// Outcome is the classification of one response.
type Outcome string

const (
	// Success means the body carries records.
	Success Outcome = "success"

	// Fatal aborts the stream's remaining pagination.
	Fatal Outcome = "fatal"

	// Skippable discards the page and lets pagination continue.
	Skippable Outcome = "skippable"
)

// Response is the part of an HTTP response the classifier looks at.
type Response struct {
	StatusCode int
	Status     string
	Path       string
	Body       []byte
}

// Result is returned by Classify. Value holds the decoded body on Success;
// Err is set for Fatal and Skippable.
type Result struct {
	Outcome Outcome
	Value   any
	Err     error
}

// ProtocolError describes an error payload (or unparsable body) received
// with a 2xx status.
type ProtocolError struct {
	Stream     string
	Path       string
	StatusCode int
	Status     string
	Body       string
	Skippable  bool
	Err        error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%d application error: %s for path: %s: %s",
		e.StatusCode, reason(e.StatusCode, e.Status), e.Path, e.Body)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrProtocolAmbiguity).
func (e *ProtocolError) Unwrap() error {
	return ErrProtocolAmbiguity
}

// Classifier inspects response bodies. The skip-list names streams whose
// application errors are logged and skipped instead of failing the stream.
type Classifier struct {
	skip   map[string]struct{}
	logger zerolog.Logger
}

// New creates a Classifier with the given skip-list.
func New(logger zerolog.Logger, skipList ...string) *Classifier {
	skip := make(map[string]struct{}, len(skipList))
	for _, name := range skipList {
		skip[name] = struct{}{}
	}
	return &Classifier{skip: skip, logger: logger}
}

// Skips reports whether stream is on the skip-list.
func (c *Classifier) Skips(stream string) bool {
	_, ok := c.skip[stream]
	return ok
}

// Classify decides the outcome of resp for stream. Non-2xx statuses are
// never reported as Success.
func (c *Classifier) Classify(resp Response, stream string) Result {
	res := c.classify(resp, stream)
	classificationsTotal.WithLabelValues(stream, string(res.Outcome)).Inc()
	return res
}

func (c *Classifier) classify(resp Response, stream string) Result {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			Outcome: Fatal,
			Err: fmt.Errorf("unexpected status %d %s for path: %s",
				resp.StatusCode, reason(resp.StatusCode, resp.Status), resp.Path),
		}
	}

	value, err := decode(resp.Body)
	if err != nil {
		// A 2xx body that is not JSON is itself the error signal.
		return Result{
			Outcome: Fatal,
			Err:     c.protocolError(resp, stream, false, fmt.Errorf("decode body: %w", err)),
		}
	}

	obj, ok := value.(map[string]any)
	if !ok || !truthy(obj["error"]) {
		return Result{Outcome: Success, Value: value}
	}

	if c.Skips(stream) {
		perr := c.protocolError(resp, stream, true, nil)
		c.logger.Warn().
			Str("stream", stream).
			Str("path", resp.Path).
			Int("status_code", resp.StatusCode).
			Str("body", string(resp.Body)).
			Msg("Ignoring application error for skip-listed stream")
		return Result{Outcome: Skippable, Err: perr}
	}

	return Result{Outcome: Fatal, Err: c.protocolError(resp, stream, false, nil)}
}

func (c *Classifier) protocolError(resp Response, stream string, skippable bool, err error) *ProtocolError {
	return &ProtocolError{
		Stream:     stream,
		Path:       resp.Path,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(resp.Body),
		Skippable:  skippable,
		Err:        err,
	}
}

// decode parses body keeping numbers as json.Number so identifiers survive
// untouched. Trailing data after the first value is an error.
func decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// truthy follows the usual dynamic-language notion of truth for JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func reason(code int, status string) string {
	if status != "" {
		return status
	}
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "unknown"
}
