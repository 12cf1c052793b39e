package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// recentTracker remembers which artifacts each MCP session generated so the
// session resource can list them. It is in-memory and per process; entries
// older than the window are dropped on read.
type recentTracker struct {
	mu      sync.Mutex
	entries map[string][]recentEntry
	window  time.Duration
	now     func() time.Time
}

type recentEntry struct {
	id uuid.UUID
	at time.Time
}

// maxRecentPerSession bounds one session's list.
const maxRecentPerSession = 100

func newRecentTracker(window time.Duration) *recentTracker {
	return &recentTracker{
		entries: make(map[string][]recentEntry),
		window:  window,
		now:     time.Now,
	}
}

// Record notes that sessionID produced ids.
func (t *recentTracker) Record(sessionID string, ids ...uuid.UUID) {
	if sessionID == "" || len(ids) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	list := t.entries[sessionID]
	for _, id := range ids {
		list = append(list, recentEntry{id: id, at: now})
	}
	if len(list) > maxRecentPerSession {
		list = list[len(list)-maxRecentPerSession:]
	}
	t.entries[sessionID] = list

	// Lazy cleanup once many sessions have come and gone.
	if len(t.entries) > 1000 {
		t.purgeStale(now)
	}
}

// Recent returns the session's ids inside the window, newest first.
func (t *recentTracker) Recent(sessionID string) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	list := t.entries[sessionID]
	out := make([]uuid.UUID, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if now.Sub(list[i].at) > t.window {
			break
		}
		out = append(out, list[i].id)
	}
	return out
}

// Forget drops id from every session, after a delete.
func (t *recentTracker) Forget(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sid, list := range t.entries {
		kept := list[:0]
		for _, e := range list {
			if e.id != id {
				kept = append(kept, e)
			}
		}
		t.entries[sid] = kept
	}
}

// purgeStale removes sessions whose newest entry is outside the window.
// Must be called with mu held.
func (t *recentTracker) purgeStale(now time.Time) {
	for sid, list := range t.entries {
		if len(list) == 0 || now.Sub(list[len(list)-1].at) > t.window {
			delete(t.entries, sid)
		}
	}
}
