package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// ParseLevel converts a flag value into a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// NewJSONHandler returns a JSON handler whose keys follow the Cloud Logging
// structured format, wrapped so error attributes carry their stack trace.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		// Replace attributes to convert to CloudLogging format.
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{
					Key:   "severity",
					Value: attr.Value,
				}
			case slog.MessageKey:
				attr = slog.Attr{
					Key:   "message",
					Value: attr.Value,
				}
			case slog.SourceKey:
				attr = slog.Attr{
					Key:   "logging.googleapis.com/sourceLocation",
					Value: attr.Value,
				}
			}
			return attr
		},
	}
	return WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops))
}

// SetupLogger builds the process logger writing JSON to stdout.
func SetupLogger(level string) (Logger, error) {
	return SetupLoggerWithFile(level, "")
}

// SetupLoggerWithFile builds the process logger.
// filename="": write to stdout
// filename="/dev/null": drop everything
// otherwise: write to a rotated file
func SetupLoggerWithFile(level, filename string) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var out io.Writer
	switch filename = strings.TrimSpace(filename); filename {
	case "":
		out = os.Stdout
	case os.DevNull:
		out = io.Discard
	default:
		out = &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    32, // megabytes
			MaxBackups: 8,
			MaxAge:     15, // days
			Compress:   true,
		}
	}

	handler := NewJSONHandler(out, lvl)
	slog.SetDefault(slog.New(handler))
	return NewLogger(handler), nil
}

// NewLogger adapts a slog handler to the Logger interface.
func NewLogger(handler slog.Handler) Logger {
	return &slogLogger{l: slog.New(handler)}
}

// Discard returns a logger that drops every record.
func Discard() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(LevelError + 4)}))}
}

type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, fields...) }

func (s *slogLogger) Info(msg string, fields ...any) { s.l.Info(msg, fields...) }

func (s *slogLogger) Warn(msg string, fields ...any) { s.l.Warn(msg, errFirst(fields)...) }

func (s *slogLogger) Error(msg string, fields ...any) { s.l.Error(msg, errFirst(fields)...) }

func (s *slogLogger) With(fields ...any) Logger {
	return &slogLogger{l: s.l.With(fields...)}
}

func (s *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, slog.Level(level))
}

// errFirst turns a leading bare error into the "error" attribute.
func errFirst(fields []any) []any {
	if len(fields) == 0 {
		return fields
	}
	if err, ok := fields[0].(error); ok {
		out := make([]any, 0, len(fields))
		out = append(out, ErrAttr(err))
		return append(out, fields[1:]...)
	}
	return fields
}
