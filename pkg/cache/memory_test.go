package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(100, time.Minute)
	defer c.Close()

	if _, err := c.Get(ctx, "absent"); err != ErrMiss {
		t.Fatalf("Expected ErrMiss, got %v", err)
	}

	if err := c.Set(ctx, "key", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value" {
		t.Errorf("Expected %q, got %q", "value", val)
	}

	exists, err := c.Exists(ctx, "key")
	if err != nil || !exists {
		t.Errorf("Expected key to exist, got %v (err %v)", exists, err)
	}
}

func TestMemoryCachePerKeyTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(100, time.Minute)
	defer c.Close()

	if err := c.Set(ctx, "short", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, "long", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); err != ErrMiss {
		t.Fatalf("Expected short key to expire, got %v", err)
	}
	if _, err := c.Get(ctx, "long"); err != nil {
		t.Fatalf("Expected long key to survive, got %v", err)
	}
}

func TestMemoryCacheRemove(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(100, time.Minute)
	defer c.Close()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)

	if err := c.Remove(ctx, "a", "absent"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := c.Get(ctx, "a"); err != ErrMiss {
		t.Fatal("Expected a to be removed")
	}
	if _, err := c.Get(ctx, "b"); err != nil {
		t.Fatal("Expected b to remain")
	}
}

func TestMemoryCacheRemoveByPattern(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(100, time.Minute)
	defer c.Close()

	c.Set(ctx, "membership:role:u1:t1", []byte("1"), time.Minute)
	c.Set(ctx, "membership:role:u1:t2", []byte("2"), time.Minute)
	c.Set(ctx, "membership:role:u2:t1", []byte("3"), time.Minute)

	if err := c.RemoveByPattern(ctx, "membership:role:u1:*"); err != nil {
		t.Fatalf("RemoveByPattern failed: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Expected one surviving key, got %d", c.Len())
	}
	if _, err := c.Get(ctx, "membership:role:u2:t1"); err != nil {
		t.Fatal("Expected other user's key to survive")
	}
}

func TestMemoryCacheSweep(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(100, time.Minute)
	defer c.Close()

	c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	c.Set(ctx, "long", []byte("v"), time.Minute)

	time.Sleep(20 * time.Millisecond)

	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("Expected one swept entry, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Expected one live entry, got %d", c.Len())
	}
}

func TestMemoryCacheEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(16, time.Minute)
	defer c.Close()

	for i := 0; i < 32; i++ {
		c.Set(ctx, string(rune('a'+i)), []byte("v"), time.Minute)
	}
	if c.Len() > 16 {
		t.Fatalf("Expected the LRU to cap entries at 16, got %d", c.Len())
	}
}
