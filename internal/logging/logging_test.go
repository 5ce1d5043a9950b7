package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLevelRejectsInvalid(t *testing.T) {
	if err := SetLevel("not-a-level"); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Level() != "debug" {
		t.Fatalf("expected level debug, got %s", Level())
	}
	// Restore default so other tests aren't affected by test ordering.
	if err := SetLevel("info"); err != nil {
		t.Fatalf("unexpected error restoring level: %v", err)
	}
}

func TestWithHelpersAttachFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	UseCore(core)
	defer UseCore(core) // keep deterministic for later tests in the package

	l := Logger()
	WithConnection(l, "c000001").Info("connected")
	WithCorrelation(l, 42, "plugins.discover").Info("dispatched")
	WithAddress(l, 0, -1).Info("resolved")

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["conn_id"] != "c000001" {
		t.Fatalf("expected conn_id field, got %v", fields)
	}
}
