package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	for i := 0; i < 3; i++ {
		if !rl.Allow("caller:feed") {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}
	if rl.Allow("caller:feed") {
		t.Fatal("Expected the fourth request to be limited")
	}

	// Other callers have their own buckets.
	if !rl.Allow("caller:marketplace") {
		t.Fatal("Expected a different caller to be unaffected")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    100 * time.Millisecond,
		BurstSize:         0,
	})

	for i := 0; i < 10; i++ {
		rl.Allow("caller:feed")
	}
	if rl.Allow("caller:feed") {
		t.Fatal("Expected the bucket to be empty")
	}

	time.Sleep(150 * time.Millisecond)
	if !rl.Allow("caller:feed") {
		t.Fatal("Expected tokens to refill after the window")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
		BurstSize:         0,
	})

	rl.Allow("caller:feed")
	time.Sleep(50 * time.Millisecond)
	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if len(rl.buckets) != 0 {
		t.Fatalf("Expected idle buckets to be dropped, got %d", len(rl.buckets))
	}
}

func TestRateLimitHandler(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/access/check", nil)
	req.Header.Set(CallerIDHeader, "feed")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected a Retry-After header")
	}
}

func newDistributedLimiter(t *testing.T, config *RateLimitConfig) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDistributedRateLimiter(client, config, nil), server
}

func TestDistributedRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl, _ := newDistributedLimiter(t, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	})

	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "caller:feed")
		if err != nil || !allowed {
			t.Fatalf("Expected request %d allowed, got %v (err %v)", i+1, allowed, err)
		}
	}
	if allowed, _ := rl.Allow(ctx, "caller:feed"); allowed {
		t.Fatal("Expected the third request to be limited")
	}

	remaining, err := rl.Remaining(ctx, "caller:feed")
	if err != nil || remaining != 0 {
		t.Fatalf("Expected zero remaining, got %d (err %v)", remaining, err)
	}

	if err := rl.Reset(ctx, "caller:feed"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if allowed, _ := rl.Allow(ctx, "caller:feed"); !allowed {
		t.Fatal("Expected a fresh window after reset")
	}
}

func TestDistributedRateLimiterWindowExpiry(t *testing.T) {
	ctx := context.Background()
	rl, server := newDistributedLimiter(t, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	})

	rl.Allow(ctx, "caller:feed")
	if allowed, _ := rl.Allow(ctx, "caller:feed"); allowed {
		t.Fatal("Expected the window to be exhausted")
	}

	server.FastForward(2 * time.Minute)
	if allowed, _ := rl.Allow(ctx, "caller:feed"); !allowed {
		t.Fatal("Expected a fresh window after expiry")
	}
}

func TestDistributedRateLimiterFailsOpen(t *testing.T) {
	rl, server := newDistributedLimiter(t, nil)
	server.Close()

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/access/check", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected fail-open 200 with Redis down, got %d", rec.Code)
	}
}
