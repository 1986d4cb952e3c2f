package cache

import (
	"fmt"
	"testing"

	"pisa/pkg/fingerprint"
)

func key(i int) fingerprint.Fingerprint {
	return fingerprint.New(fmt.Sprintf("key-%d", i)).Sum()
}

func TestCapacityEviction(t *testing.T) {
	c, err := New[int]("test", 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 1; i <= 5; i++ {
		c.Put(key(i), i)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 live entries, got %d", c.Len())
	}
	// Exactly the last C keys survive.
	for i := 1; i <= 2; i++ {
		if _, ok := c.Get(key(i)); ok {
			t.Fatalf("key %d should have been evicted", i)
		}
	}
	for i := 3; i <= 5; i++ {
		if v, ok := c.Get(key(i)); !ok || v != i {
			t.Fatalf("key %d should be present with value %d", i, i)
		}
	}
	s := c.Stats()
	if s.Evictions != 2 {
		t.Fatalf("expected 2 evictions, got %d", s.Evictions)
	}
	if s.Puts != 5 {
		t.Fatalf("expected 5 puts, got %d", s.Puts)
	}
}

func TestGetPromotesRecency(t *testing.T) {
	c, _ := New[int]("test", 2)
	c.Put(key(1), 1)
	c.Put(key(2), 2)
	// Touch key 1 so key 2 becomes least recently used.
	if _, ok := c.Get(key(1)); !ok {
		t.Fatal("key 1 missing")
	}
	c.Put(key(3), 3)
	if _, ok := c.Get(key(2)); ok {
		t.Fatal("key 2 should have been evicted after key 1 promotion")
	}
	if _, ok := c.Get(key(1)); !ok {
		t.Fatal("key 1 should have survived")
	}
}

func TestContainsDoesNotPromote(t *testing.T) {
	c, _ := New[int]("test", 2)
	c.Put(key(1), 1)
	c.Put(key(2), 2)
	if !c.Contains(key(1)) {
		t.Fatal("key 1 should be present")
	}
	// Contains must not have promoted key 1: inserting key 3 evicts it.
	c.Put(key(3), 3)
	if c.Contains(key(1)) {
		t.Fatal("Contains must not affect eviction order")
	}
	if !c.Contains(key(2)) || !c.Contains(key(3)) {
		t.Fatal("keys 2 and 3 should be present")
	}
}

func TestHitMissCounters(t *testing.T) {
	c, _ := New[string]("test", 2)
	fp := key(1)
	if _, ok := c.Get(fp); ok {
		t.Fatal("unexpected hit")
	}
	c.Put(fp, "v")
	if v, ok := c.Get(fp); !ok || v != "v" {
		t.Fatal("expected hit")
	}
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
}

func TestPutSameKeyKeepsSingleEntry(t *testing.T) {
	c, _ := New[int]("test", 3)
	c.Put(key(1), 1)
	c.Put(key(1), 2)
	if c.Len() != 1 {
		t.Fatalf("expected a single live entry per fingerprint, got %d", c.Len())
	}
	if v, _ := c.Get(key(1)); v != 2 {
		t.Fatalf("expected updated value 2, got %d", v)
	}
}

func TestDefaultCapacityAndPurge(t *testing.T) {
	c, err := New[int]("test", 0)
	if err != nil {
		t.Fatalf("new with default capacity: %v", err)
	}
	for i := 0; i < DefaultCapacity+5; i++ {
		c.Put(key(i), i)
	}
	if c.Len() != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, c.Len())
	}
	if got := len(c.Keys()); got != DefaultCapacity {
		t.Fatalf("Keys length %d", got)
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatal("purge must drop all entries")
	}
}
