// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects level and output format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output io.Writer
}

// New returns a zerolog logger stamped with the worker id.
func New(opts Options, workerID string) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if workerID != "" {
		ctx = ctx.Str("worker_id", workerID)
	}
	return ctx.Logger()
}

// Logf writes a leveled, printf-style message. Levels follow the worker's
// activity vocabulary: "info", "success", "warning", "error", "debug".
func Logf(logger zerolog.Logger, level, format string, args ...any) {
	var ev *zerolog.Event
	switch level {
	case "error":
		ev = logger.Error()
	case "warning", "warn":
		ev = logger.Warn()
	case "debug":
		ev = logger.Debug()
	default:
		ev = logger.Info()
	}
	ev.Msgf(format, args...)
}
