package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemoryLimiter(rate, burst)
	m.now = clk.Now
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}
	})
	return m, clk
}

func allowN(t *testing.T, m *MemoryLimiter, key string, n int) int {
	t.Helper()
	allowed := 0
	for range n {
		ok, err := m.Allow(context.Background(), key)
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if ok {
			allowed++
		}
	}
	return allowed
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newTestLimiter(t, 2, 3)
	if got := allowN(t, m, "ip:10.0.0.1", 5); got != 3 {
		t.Fatalf("expected 3 allowed within burst, got %d", got)
	}
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, clk := newTestLimiter(t, 2, 2)
	allowN(t, m, "k", 2)
	if allowN(t, m, "k", 1) != 0 {
		t.Fatal("should be denied immediately after exhausting burst")
	}

	clk.Advance(500 * time.Millisecond) // one token at 2/s
	if got := allowN(t, m, "k", 2); got != 1 {
		t.Fatalf("expected exactly 1 refilled token, got %d", got)
	}

	clk.Advance(time.Hour)
	if got := allowN(t, m, "k", 5); got != 2 {
		t.Fatalf("refill must cap at burst 2, got %d", got)
	}
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m, _ := newTestLimiter(t, 1, 1)
	if allowN(t, m, "a", 2) != 1 {
		t.Fatal("expected one request for 'a'")
	}
	if allowN(t, m, "b", 1) != 1 {
		t.Fatal("key 'b' should be unaffected by 'a'")
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newTestLimiter(t, 1, 50)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for range 10 {
				if ok, _ := m.Allow(context.Background(), "shared"); ok {
					n++
				}
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 50 {
		t.Fatalf("expected exactly the burst of 50 with a frozen clock, got %d", total)
	}
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m, clk := newTestLimiter(t, 1, 1)
	allowN(t, m, "stale", 1)
	clk.Advance(5 * time.Minute)
	allowN(t, m, "recent", 1)

	clk.Advance(6 * time.Minute)
	m.evictStale()

	if m.Len() != 1 {
		t.Fatalf("expected only the recent bucket to survive, have %d", m.Len())
	}
	m.mu.Lock()
	_, ok := m.buckets["recent"]
	m.mu.Unlock()
	if !ok {
		t.Fatal("expected recent bucket to survive eviction")
	}
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	for range 100 {
		if ok, err := l.Allow(context.Background(), "k"); !ok || err != nil {
			t.Fatal("noop limiter must allow everything")
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}
