// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	// LevelEnv selects the log level: DEBUG, INFO, WARN or ERROR.
	LevelEnv = "VPTEST_LOG"
	// FormatEnv selects the handler: "text" or "json".
	FormatEnv = "VPTEST_LOG_FORMAT"
)

// Level is shared by every logger built by Init so it can be changed later.
var Level = new(slog.LevelVar)

// ParseLevel maps a level name to a slog level. Unknown names yield WARN,
// which keeps the terminal quiet while tests run.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Init installs a logger writing to w. An empty level falls back to the
// VPTEST_LOG environment variable.
func Init(w io.Writer, level string) *slog.Logger {
	if level == "" {
		level = os.Getenv(LevelEnv)
	}
	Level.Set(ParseLevel(level))

	opts := &slog.HandlerOptions{Level: Level}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv(FormatEnv), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
