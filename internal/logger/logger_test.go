package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "quiet", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q) error = %v", mode, err)
		}
		if l.SugaredLogger == nil {
			t.Errorf("New(%q) returned nil sugared logger", mode)
		}
	}
}

func TestRedaction(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("component", "test").Info("configured", "api_key", "abc123", "provider", "semantic_scholar", "NEO4J_PASSWORD", "pw")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v, want redacted", fields["api_key"])
	}
	if fields["NEO4J_PASSWORD"] != "[REDACTED]" {
		t.Errorf("NEO4J_PASSWORD = %v, want redacted", fields["NEO4J_PASSWORD"])
	}
	if fields["provider"] != "semantic_scholar" {
		t.Errorf("provider = %v, want semantic_scholar", fields["provider"])
	}
	if fields["component"] != "test" {
		t.Errorf("component = %v, want test", fields["component"])
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := Nop()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
	l.Warn("discarded", "dangling")
}
