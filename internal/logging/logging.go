package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format names accepted by NewFormat.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New creates a console logger with provided level and format strings.
func New(level, format string) *slog.Logger {
	return NewFormat(os.Stderr, level, format)
}

// NewFormat builds a logger writing text or JSON records to w.
// Unknown formats fall back to text.
func NewFormat(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromString(level)}
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns logger, or a discarding logger when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
