package mcp

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRecentTracker_RecordAndList(t *testing.T) {
	tracker := newRecentTracker(time.Hour)
	a, b := uuid.New(), uuid.New()

	if got := tracker.Recent("s1"); len(got) != 0 {
		t.Fatalf("expected no entries before Record, got %v", got)
	}

	tracker.Record("s1", a)
	tracker.Record("s1", b)

	got := tracker.Recent("s1")
	if len(got) != 2 || got[0] != b || got[1] != a {
		t.Fatalf("expected newest first [%s %s], got %v", b, a, got)
	}
}

func TestRecentTracker_SessionsAreIsolated(t *testing.T) {
	tracker := newRecentTracker(time.Hour)
	tracker.Record("s1", uuid.New())

	if got := tracker.Recent("s2"); len(got) != 0 {
		t.Fatalf("expected s2 to see nothing, got %v", got)
	}
}

func TestRecentTracker_EmptySessionIgnored(t *testing.T) {
	tracker := newRecentTracker(time.Hour)
	tracker.Record("", uuid.New())

	if len(tracker.entries) != 0 {
		t.Fatal("expected records without a session to be dropped")
	}
}

func TestRecentTracker_Expiry(t *testing.T) {
	now := time.Now()
	tracker := newRecentTracker(time.Minute)
	tracker.now = func() time.Time { return now }

	old := uuid.New()
	tracker.Record("s1", old)
	now = now.Add(2 * time.Minute)
	fresh := uuid.New()
	tracker.Record("s1", fresh)

	got := tracker.Recent("s1")
	if len(got) != 1 || got[0] != fresh {
		t.Fatalf("expected only the fresh entry, got %v", got)
	}
}

func TestRecentTracker_Forget(t *testing.T) {
	tracker := newRecentTracker(time.Hour)
	a, b := uuid.New(), uuid.New()
	tracker.Record("s1", a, b)
	tracker.Record("s2", a)

	tracker.Forget(a)

	if got := tracker.Recent("s1"); len(got) != 1 || got[0] != b {
		t.Fatalf("expected only %s in s1, got %v", b, got)
	}
	if got := tracker.Recent("s2"); len(got) != 0 {
		t.Fatalf("expected s2 empty, got %v", got)
	}
}

func TestRecentTracker_Bounded(t *testing.T) {
	tracker := newRecentTracker(time.Hour)
	for range maxRecentPerSession + 10 {
		tracker.Record("s1", uuid.New())
	}
	if got := len(tracker.Recent("s1")); got != maxRecentPerSession {
		t.Fatalf("expected %d entries, got %d", maxRecentPerSession, got)
	}
}

func TestRecentTracker_PurgeStale(t *testing.T) {
	now := time.Now()
	tracker := newRecentTracker(time.Minute)
	tracker.now = func() time.Time { return now }

	tracker.Record("old", uuid.New())
	now = now.Add(time.Hour)
	tracker.Record("new", uuid.New())

	tracker.mu.Lock()
	tracker.purgeStale(now)
	_, oldKept := tracker.entries["old"]
	_, newKept := tracker.entries["new"]
	tracker.mu.Unlock()

	if oldKept {
		t.Fatal("expected stale session to be purged")
	}
	if !newKept {
		t.Fatal("expected fresh session to survive purge")
	}
}
