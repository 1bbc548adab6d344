// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidLevel is returned by ParseLevel for unknown level names.
var ErrInvalidLevel = errors.New("invalid log level")

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	// Records go to stdout, so logs must never share it.
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Unknown levels fall back to info.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

var levels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel validates a level name from configuration.
func ParseLevel(s string) (LogLevel, error) {
	name := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	}
	if _, ok := levels[name]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return name, nil
}

func zerologLevel(level LogLevel) zerolog.Level {
	name, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return levels[name]
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// StreamLogger derives a logger for one stream work unit. partition is
// omitted when empty.
func StreamLogger(base zerolog.Logger, stream, partition string) zerolog.Logger {
	ctx := base.With().Str("stream", stream)
	if partition != "" {
		ctx = ctx.Str("partition", partition)
	}
	return ctx.Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request flow (path, query, attempt)
//   - Page and partition transitions
//   - Child work units started per parent record
//
// Info: Normal operation events
//   - Stream start/finish with record counts
//   - Bookmark advances
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts
//   - Skippable application errors on skip-listed streams
//   - Rate limit throttling (429, Retry-After)
//   - Missing schema refs
//
// Error: Error conditions requiring attention
//   - Fatal stream failures (protocol ambiguity, exhausted retries)
//   - Pagination loops
//   - Configuration errors
//
// Context Fields:
//   - stream: Stream name
//   - partition: Partition context (e.g., census_status=active)
//   - endpoint: Sunwave API path
//   - status_code: HTTP status code
//   - attempt: Retry attempt number
//   - error_class: Error classification (client, server, rate_limit, network)
//   - records: Records emitted
//   - bookmark: Replication bookmark
//
// Secrets (client_secret, signatures) are never logged.
