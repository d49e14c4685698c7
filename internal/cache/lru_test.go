package cache

import (
	"context"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *clock) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a")
	}
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("a should survive, got %q %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	clk.t = clk.t.Add(30 * time.Second)
	c.Set("b", "2b")
	clk.t = clk.t.Add(45 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have expired")
	}
	if v, ok := c.Get("b"); !ok || v != "2b" {
		t.Fatalf("b was refreshed and should be live, got %q %v", v, ok)
	}
	clk.t = clk.t.Add(time.Hour)
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Size != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLRUNoTTL(t *testing.T) {
	c, clk := newTestCache(1, 0)
	c.Set("a", "1")
	clk.t = clk.t.Add(24 * time.Hour)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entries must not expire without a ttl")
	}
}

func TestDeletePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("f1|10|1", "x")
	c.Set("f1|12|2", "y")
	c.Set("f2|10|1", "z")
	if n := c.DeletePrefix("f1|"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("f2|10|1"); !ok {
		t.Fatal("unrelated key removed")
	}
	c.Delete("f2|10|1")
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}
}

func TestManagerSweep(t *testing.T) {
	c, clk := newTestCache(10, time.Second)
	c.Set("a", "1")
	m := NewManager()
	m.Register("tables", c)
	clk.t = clk.t.Add(time.Minute)
	if n := m.Sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}

	m.StartCleanup(context.Background(), time.Millisecond)
	m.Stop()
	m.Stop()
}
