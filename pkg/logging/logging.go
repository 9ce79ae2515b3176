// Package logging configures the process-wide slog logger.
//
// Chatline logs through log/slog everywhere. Setup installs the default
// handler once at startup; everything else just calls slog.Info and friends.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// levels maps accepted level names to slog levels.
var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Options selects the level, output format, and destination of the default
// logger. Zero values mean info-level text logs on stdout.
type Options struct {
	Level  string
	Format string // "text" or "json"
	Output io.Writer
}

// Setup installs the process-wide slog handler. Call it once from main
// before anything logs. Unknown levels and formats are errors, not silent
// defaults.
func Setup(opts Options) error {
	level := slog.LevelInfo
	if name := strings.ToLower(strings.TrimSpace(opts.Level)); name != "" {
		l, ok := levels[name]
		if !ok {
			return fmt.Errorf("unknown log level %q (valid: %s)", opts.Level, LevelNames())
		}
		level = l
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, hopts)
	case "json":
		handler = slog.NewJSONHandler(out, hopts)
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", opts.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// LevelNames lists the accepted level names for flag help text.
func LevelNames() string {
	return "debug, info, warn, error"
}
