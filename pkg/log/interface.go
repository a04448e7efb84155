// Package log provides a structured logging interface for taxifare trials.
//
// The interface is slog-compatible so the process can swap handlers (JSON to
// stdout for the tuning service, rotating files for local runs) without the
// training code noticing.
//
// Example usage:
//
//	logger := log.NewLogger(handler).With(
//	    log.TrialIDKey, "7",
//	    log.ComponentKey, "trainer",
//	)
//	logger.Info("Epoch finished",
//	    log.EpochKey, 3,
//	    log.RMSEKey, 4.21,
//	)

package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. The interface supports chaining
// through With, which returns a logger whose fields are added to every record.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message. Recoverable failures such as a
	// dropped metric report are logged here.
	Warn(msg string, fields ...any)

	// Error logs an error-level message. If the first field is an error it is
	// recorded under the "error" key and its stack trace is attached.
	//
	// Example:
	//   logger.Error("Trial failed",
	//       err,
	//       log.EpochKey, 4,
	//   )
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
