// Package logging builds the slog logger used by the showledger binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/axonops/showledger/internal/config"
)

// Logger bundles a logger with its adjustable level and output.
type Logger struct {
	*slog.Logger
	Level  *slog.LevelVar
	closer io.Closer
}

// New creates a logger from the logging configuration. Output "stdout" and
// "stderr" select the process streams; any other value is a file path that is
// rotated by size.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	var w io.Writer
	var closer io.Closer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, closer = lj, lj
	}

	handler, err := NewHandler(w, cfg.Format, lv)
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: slog.New(handler), Level: lv, closer: closer}, nil
}

// NewHandler returns a handler writing to w in the named format.
func NewHandler(w io.Writer, format string, level slog.Leveler) (slog.Handler, error) {
	switch format {
	case "", "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "text":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "console":
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(w),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// Apply updates the level from a reloaded configuration.
func (l *Logger) Apply(cfg config.LoggingConfig) error {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	l.Level.Set(level)
	return nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
