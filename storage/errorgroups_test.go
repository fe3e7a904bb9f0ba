package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/lumenstack/logflow/logmodel"
)

func TestTruncateLeavesShortStringsUntouched(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("truncate = %q, want unchanged", got)
	}
}

func TestTruncateCutsOversizedStrings(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := truncate(long, 50)
	if len(got) != 50 {
		t.Fatalf("len(truncate(...)) = %d, want 50", len(got))
	}
}

func TestUpsertIsNoOpWithoutFingerprint(t *testing.T) {
	s := NewErrorGroupStore(nil)
	ev := logmodel.LogEvent{ProjectID: "proj-1", Fingerprint: ""}

	// A nil pool would panic if Upsert attempted to execute SQL; reaching
	// return nil without panicking proves the fingerprint guard runs first.
	if err := s.Upsert(context.Background(), ev); err != nil {
		t.Fatalf("expected no-op for empty fingerprint, got error: %v", err)
	}
}

func TestUpsertAllSkipsEventsWithoutFingerprint(t *testing.T) {
	s := NewErrorGroupStore(nil)
	events := []logmodel.LogEvent{
		{ProjectID: "proj-1", LogType: logmodel.LogTypeConsole, Fingerprint: ""},
		{ProjectID: "proj-1", LogType: logmodel.LogTypeNetwork, Fingerprint: ""},
	}

	// None of these events carry a fingerprint, so UpsertAll must never
	// reach the pool; a nil pool would panic otherwise.
	if err := s.UpsertAll(context.Background(), events); err != nil {
		t.Fatalf("expected no-op batch to succeed, got error: %v", err)
	}
}
