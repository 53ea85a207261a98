package topics

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUCacheEvictsOldest(t *testing.T) {
	t.Parallel()

	c := newLRUCache(3, time.Minute)
	for i := 1; i <= 3; i++ {
		c.put(fmt.Sprintf("k%d", i), Info{TopicID: int64(i)})
	}

	// Обращение к k1 делает самой старой запись k2.
	if _, ok := c.get("k1"); !ok {
		t.Fatal("k1 should be cached")
	}
	c.put("k4", Info{TopicID: 4})

	if _, ok := c.get("k2"); ok {
		t.Fatal("k2 should have been evicted")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, ok := c.get(key); !ok {
			t.Fatalf("%s should still be cached", key)
		}
	}
	if got := c.size(); got != 3 {
		t.Fatalf("size() = %d, want 3", got)
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	c := newLRUCache(10, 30*time.Millisecond)
	c.put("k", Info{TopicID: 1})

	if _, ok := c.get("k"); !ok {
		t.Fatal("fresh entry should be readable")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Fatal("expired entry should be gone")
	}
	if got := c.size(); got != 0 {
		t.Fatalf("size() = %d after expiry read, want 0", got)
	}
}

func TestLRUCacheZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()

	c := newLRUCache(10, 0)
	c.put("k", Info{TopicID: 1})
	time.Sleep(10 * time.Millisecond)
	if _, ok := c.get("k"); !ok {
		t.Fatal("entry must not expire when TTL is disabled")
	}
}

func TestLRUCachePutUpdatesInPlace(t *testing.T) {
	t.Parallel()

	c := newLRUCache(2, time.Minute)
	c.put("k", Info{TopicID: 1})
	c.put("k", Info{TopicID: 2})

	got, ok := c.get("k")
	if !ok || got.TopicID != 2 {
		t.Fatalf("get(k) = (%+v, %v), want updated TopicID 2", got, ok)
	}
	if c.size() != 1 {
		t.Fatalf("size() = %d, want 1", c.size())
	}
}
