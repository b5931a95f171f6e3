// Package logging builds the slog loggers used by the tablecache command.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ErrInvalidLevel is returned by [ParseLevel] for unknown level names.
var ErrInvalidLevel = errors.New("invalid log level")

// TimeFormat is time.TimeOnly plus milliseconds.
const TimeFormat = "15:04:05.000"

// New returns a tint logger writing to w at level. Color is only used when
// color is true.
func New(w io.Writer, level slog.Leveler, color bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:       level,
		TimeFormat:  TimeFormat,
		NoColor:     !color,
		ReplaceAttr: dropEmpty,
	}))
}

// NewTerminal returns a logger for f, colored when f is a terminal.
func NewTerminal(f *os.File, level slog.Leveler) *slog.Logger {
	return New(colorable.NewColorable(f), level, IsTerminal(f))
}

// IsTerminal reports whether f is a terminal (including Cygwin/MSYS ptys).
func IsTerminal(f *os.File) bool {
	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel parses debug, info, warn (or warning) and error,
// case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// dropEmpty removes zero-valued attributes so debug lines stay short.
func dropEmpty(_ []string, a slog.Attr) slog.Attr {
	switch v := a.Value.Any().(type) {
	case string:
		if v == "" {
			return slog.Attr{}
		}
	case nil:
		return slog.Attr{}
	}

	return a
}
