package log

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const timeFormat = "060102 15:04:05.000"

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "trace", "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", name)
	}
}

// Setup configures the default slog logger.
// All logs go to stderr, as stdout carries the status protocol stream.
func Setup(level slog.Level) {
	logHandler := tint.NewHandler(os.Stderr, &tint.Options{
		AddSource:  true,
		Level:      level,
		TimeFormat: timeFormat,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	slog.SetDefault(slog.New(logHandler))
	slog.SetLogLoggerLevel(level)
}
