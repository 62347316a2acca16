package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, &buf
}

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(b, &entry); err != nil {
		t.Fatalf("invalid JSON log %q: %v", b, err)
	}
	return entry
}

func TestLogger_LevelFiltering(t *testing.T) {
	defer SetLevel("info")
	l, buf := newBufferLogger(t, "warn")

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn not logged")
	}

	buf.Reset()
	SetLevel("debug")
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel did not apply to existing logger")
	}
	if GetLevel() != "debug" {
		t.Errorf("GetLevel() = %q", GetLevel())
	}
}

func TestLogger_With(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	l.With("component", "sweeper").Info("tick", "expired", 3)

	entry := decodeLine(t, buf.Bytes())
	if entry["component"] != "sweeper" || entry["expired"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Config{Level: "info", Format: "text", Output: &buf})
	l.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestL_AnnotatesContext(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	ctx := WithLogger(context.Background(), l)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithActor(ctx, "ctak-01")

	L(ctx).Info("issued")
	entry := decodeLine(t, buf.Bytes())
	if entry["request_id"] != "req-1" || entry["actor"] != "ctak-01" {
		t.Errorf("entry = %v", entry)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Error("FromContext without logger should return Default()")
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("empty context has a request id")
	}
}

func TestSlog(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	Slog(l).Info("through slog", "secret", "hunter2")
	entry := decodeLine(t, buf.Bytes())
	if entry["secret"] != redactedValue {
		t.Errorf("secret = %v", entry["secret"])
	}
}
