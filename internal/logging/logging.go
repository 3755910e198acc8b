// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level   string
	File    string
	NoColor bool
	Output  io.Writer
}

// New returns a tint-formatted logger. When File is set, records are also
// written (uncoloured) to a size-rotated log file.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	noColor := opts.NoColor

	if path := strings.TrimSpace(opts.File); path != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
		noColor = true
	}

	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      ParseLevel(opts.Level),
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	}))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
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
