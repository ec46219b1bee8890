package packetcache

import (
	"testing"
	"time"
)

// TestDedupIdempotence exercises property #5: a second insert within TTL
// returns ErrNotTimedOut; after the TTL elapses a fresh insert succeeds.
func TestDedupIdempotence(t *testing.T) {
	c := New(20*time.Millisecond, false)
	x := []byte("frame bytes")

	if err := c.Insert(x); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := c.Insert(x); err != ErrNotTimedOut {
		t.Fatalf("second insert (within TTL) = %v, want ErrNotTimedOut", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := c.Insert(x); err != nil {
		t.Fatalf("insert after TTL elapsed: %v", err)
	}
}

func TestResetTimeoutExtendsWindow(t *testing.T) {
	c := New(30*time.Millisecond, true)
	x := []byte("frame bytes")

	if err := c.Insert(x); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := c.Insert(x); err != ErrNotTimedOut {
		t.Fatalf("second insert = %v, want ErrNotTimedOut", err)
	}
	// the second insert reset the timer; 20ms later we're still within the
	// refreshed 30ms window (40ms since last reset would not be, but 20ms is).
	time.Sleep(20 * time.Millisecond)
	if err := c.Insert(x); err != ErrNotTimedOut {
		t.Fatalf("third insert = %v, want ErrNotTimedOut (window was reset)", err)
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	c := New(10*time.Millisecond, false)
	if err := c.Insert([]byte("a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if len(c.Contents()) != 0 {
		t.Fatalf("expected empty cache after sweep")
	}
}

func TestContentsIsASnapshotClone(t *testing.T) {
	c := New(time.Minute, false)
	if err := c.Insert([]byte("a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	snap := c.Contents()
	snap["injected"] = time.Now()
	if _, ok := c.Contents()["injected"]; ok {
		t.Fatalf("mutating the snapshot must not affect the live cache")
	}
}
