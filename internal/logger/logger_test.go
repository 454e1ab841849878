package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestInitWriter_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	log := InitWriter(&buf, "chartd", slog.LevelInfo)
	log.Info("hello", "bars", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["service"] != "chartd" {
		t.Errorf("expected service=chartd, got %v", line["service"])
	}
	if line["bars"] != float64(3) {
		t.Errorf("expected bars=3, got %v", line["bars"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := SessionID(ctx); id != "" {
		t.Errorf("expected empty session id, got %q", id)
	}

	ctx = WithSessionID(ctx, "session-123")
	if id := SessionID(ctx); id != "session-123" {
		t.Errorf("expected 'session-123', got %q", id)
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("expected uuid, got %q: %v", a, err)
	}
	if a == b {
		t.Error("expected distinct session ids")
	}
}

func TestLogWithSession(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithSession(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no session id, got %v", attrs)
	}

	ctx = WithSessionID(ctx, "abc-123")
	if attrs := LogWithSession(ctx); len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with session id set")
	}
}
