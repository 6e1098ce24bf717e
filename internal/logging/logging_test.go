package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/axonops/showledger/internal/config"
)

func TestNewHandler_Formats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"json", func(t *testing.T, out string) {
			var rec map[string]any
			if err := json.Unmarshal([]byte(out), &rec); err != nil {
				t.Fatalf("output is not JSON: %v (%q)", err, out)
			}
			if rec["msg"] != "rating set" || rec["show_id"] != float64(7) {
				t.Errorf("unexpected record: %v", rec)
			}
		}},
		{"text", func(t *testing.T, out string) {
			if !strings.Contains(out, "msg=\"rating set\"") || !strings.Contains(out, "show_id=7") {
				t.Errorf("unexpected text output: %q", out)
			}
		}},
		{"console", func(t *testing.T, out string) {
			if !strings.Contains(out, "rating set") || !strings.Contains(out, "show_id=7") {
				t.Errorf("unexpected console output: %q", out)
			}
			if strings.Contains(out, "\x1b[") {
				t.Errorf("expected no color codes for non-terminal writer: %q", out)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := NewHandler(&buf, tt.format, slog.LevelInfo)
			if err != nil {
				t.Fatalf("NewHandler: %v", err)
			}
			slog.New(h).Info("rating set", slog.Int64("show_id", 7))
			tt.check(t, buf.String())
		})
	}
}

func TestNewHandler_UnknownFormat(t *testing.T) {
	if _, err := NewHandler(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNew_FileOutputAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "showledger.log")
	l, err := New(config.LoggingConfig{Level: "warn", Format: "json", Output: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info("dropped")
	l.Warn("kept")

	if err := l.Apply(config.LoggingConfig{Level: "debug"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	l.Debug("now visible")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "now visible") {
		t.Errorf("missing records in %q", out)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "verbose"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestApply_InvalidLevelKeepsCurrent(t *testing.T) {
	l, err := New(config.LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Apply(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
	if l.Level.Level() != slog.LevelError {
		t.Errorf("level changed to %v", l.Level.Level())
	}
}
