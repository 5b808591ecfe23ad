package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "builder"))

	log.Debug(context.Background(), "model built", Int("intervals", 12), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "model built" || rec["component"] != "builder" || rec["error"] != "boom" {
		t.Fatalf("record = %v", rec)
	}
	if rec["intervals"] != float64(12) {
		t.Fatalf("intervals = %v, want 12", rec["intervals"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEnsureRunIDIsStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRunID returned empty id")
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id || RunIDFromContext(ctx2) != id {
		t.Fatalf("EnsureRunID changed id: %q -> %q", id, id2)
	}

	_, other := EnsureRunID(context.Background())
	if other == id {
		t.Fatalf("two fresh contexts share run id %q", id)
	}
}

func TestWithRunLoggerAnnotates(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})
	ctx := ContextWithRunID(context.Background(), "run-42")

	ctx, log := WithRunLogger(ctx, base)
	log.Info(ctx, "solve started")

	if !strings.Contains(buf.String(), `"run_id":"run-42"`) {
		t.Fatalf("log line %q lacks run_id", buf.String())
	}

	ctx = ContextWithLogger(ctx, log)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("LoggerFromContext returned nil")
	}
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("LoggerFromContext on bare context should be nil")
	}
}
