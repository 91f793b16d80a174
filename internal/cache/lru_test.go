package cache

import (
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := NewLRUCache[[]string](4, time.Minute)

	c.Set("a", []string{"x", "y"})
	got, ok := c.Get("a")
	if !ok {
		t.Fatal("cached entry not found")
	}
	if len(got) != 2 || got[0] != "x" {
		t.Errorf("got %v, want [x y]", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("unknown key reported as present")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // refresh a, making b the eviction candidate
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache[int](4, 10*time.Millisecond)

	c.Set("a", 1)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry still returned")
	}
}

func TestCacheDeleteAndPurge(t *testing.T) {
	c := NewLRUCache[int](4, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	c.Delete("a") // deleting twice is a no-op

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after purge, want 0", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("purged entry still present")
	}
}
