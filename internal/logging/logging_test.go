package logging_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/calvinalkan/tablecache/internal/logging"
)

func Test_ParseLevel_Accepts_Known_Names_When_Case_Differs(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}

	for in, want := range cases {
		got, err := logging.ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}

		if got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}

	_, err := logging.ParseLevel("loud")
	if !errors.Is(err, logging.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

func Test_New_Filters_Below_Level_And_Drops_Empty_Attrs_When_Logging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := logging.New(&buf, slog.LevelInfo, false)
	logger.Debug("hidden")
	logger.Info("switched", "from", "process-wide", "worker", "")

	out := buf.String()

	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %q", out)
	}

	if !strings.Contains(out, "switched") || !strings.Contains(out, "from=process-wide") {
		t.Fatalf("info line missing: %q", out)
	}

	if strings.Contains(out, "worker=") {
		t.Fatalf("empty attr not dropped: %q", out)
	}

	if strings.Contains(out, "\x1b[") {
		t.Fatalf("color codes written with color disabled: %q", out)
	}
}
