package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	c := NewRedisCacheWithClient(client)
	t.Cleanup(func() { c.Close() })
	return c, server
}

func TestRedisCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRedis(t)

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
}

func TestRedisCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, server := setupRedis(t)

	if err := c.Set(ctx, "key", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// miniredis advances TTLs manually.
	server.FastForward(2 * time.Minute)

	if _, err := c.Get(ctx, "key"); err != ErrMiss {
		t.Fatalf("Expected the key to expire, got %v", err)
	}
}

func TestRedisCacheRemove(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRedis(t)

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)

	if err := c.Remove(ctx, "a", "absent"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if exists, _ := c.Exists(ctx, "a"); exists {
		t.Fatal("Expected a to be removed")
	}
	if exists, _ := c.Exists(ctx, "b"); !exists {
		t.Fatal("Expected b to remain")
	}

	if err := c.Remove(ctx); err != nil {
		t.Fatalf("Remove with no keys failed: %v", err)
	}
}

func TestRedisCacheRemoveByPattern(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRedis(t)

	for _, key := range []string{
		"membership:role:u1:t1",
		"membership:resident:u1:t1",
		"membership:capability:u1:t1:curator",
		"system:permission:u1:system_admin",
	} {
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := c.RemoveByPattern(ctx, "membership:*:u1:*"); err != nil {
		t.Fatalf("RemoveByPattern failed: %v", err)
	}

	for _, key := range []string{
		"membership:role:u1:t1",
		"membership:resident:u1:t1",
	} {
		if exists, _ := c.Exists(ctx, key); exists {
			t.Errorf("Expected %s to be removed", key)
		}
	}
	if exists, _ := c.Exists(ctx, "system:permission:u1:system_admin"); !exists {
		t.Error("Expected non-matching key to survive")
	}
}

func TestRedisCachePing(t *testing.T) {
	ctx := context.Background()
	c, server := setupRedis(t)

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	server.Close()
	if err := c.Ping(ctx); err == nil {
		t.Fatal("Expected ping to fail after shutdown")
	}
}
