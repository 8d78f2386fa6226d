package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFanoutWritesBothHandlers(t *testing.T) {
	var term bytes.Buffer
	path := filepath.Join(t.TempDir(), "hxtxn.log")

	logger, err := New(Options{Level: "debug", Terminal: &term, JSONPath: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("batch received", "groupKey", "g1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !strings.Contains(term.String(), "groupKey=g1") {
		t.Errorf("terminal output missing attr: %q", term.String())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &rec); err != nil {
		t.Fatalf("json log line: %v", err)
	}
	if rec["msg"] != "batch received" {
		t.Errorf("msg = %v", rec["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var term bytes.Buffer
	logger, err := New(Options{Level: "warn", Terminal: &term})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("hidden")
	if term.Len() != 0 {
		t.Errorf("info should be filtered at warn, got %q", term.String())
	}

	if err := logger.SetLevel("info"); err != nil {
		t.Fatal(err)
	}
	logger.Info("shown")
	if !strings.Contains(term.String(), "shown") {
		t.Error("level change did not take effect")
	}
}

func TestUnknownLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestContextLogger(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("missing logger should fall back to slog.Default")
	}

	l := Discard()
	ctx := WithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext did not return the stored logger")
	}
}
