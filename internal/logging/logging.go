package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init sets the default slog logger on stderr. When resultsOnStdout is true
// the handler emits JSON so log lines are machine-separable from exported
// rows; otherwise it uses the text handler for humans.
func Init(resultsOnStdout bool, level slog.Level) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, resultsOnStdout, level)))
}

// NewHandler returns a JSON or text handler writing to w. Every record
// carries service=sentinel.
func NewHandler(w io.Writer, json bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return h.WithAttrs([]slog.Attr{slog.String("service", "sentinel")})
}

// ParseLevel converts a string ("debug", "info", "warn", "error") to slog.Level.
// Unknown strings default to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
