package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func toZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelDebug:
		return zerolog.TraceLevel
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// New returns a slog logger writing colored console lines to stderr.
func New(level string) *slog.Logger {
	return NewWithWriter(level, zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// NewWithWriter backs slog with a zerolog logger on w. Pass a plain writer
// for JSON lines or a zerolog.ConsoleWriter for human output.
func NewWithWriter(level string, w io.Writer) *slog.Logger {
	zerologLogger := zerolog.New(w).Level(toZerologLevel(ParseLevel(level))).With().Timestamp().Logger()
	return slog.New(newZerologHandler(&zerologLogger))
}
