package observability

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *Logger {
	return NewLogger(ErrorLevel, &bytes.Buffer{})
}

func TestShutdownRunsRegisteredFuncs(t *testing.T) {
	sm := NewShutdownManager(testLogger(), nil, time.Second)

	var ran int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if atomic.LoadInt32(&ran) != 3 {
		t.Fatalf("Expected all cleanup funcs to run, got %d", ran)
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	sm := NewShutdownManager(testLogger(), nil, time.Second)

	failure := errors.New("flush failed")
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return failure })

	var otherRan int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.StoreInt32(&otherRan, 1)
		return nil
	})

	err := sm.Shutdown(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("Expected the cleanup error to surface, got %v", err)
	}
	if atomic.LoadInt32(&otherRan) != 1 {
		t.Fatal("Expected other cleanup funcs to run despite the failure")
	}
}

func TestShutdownTimeout(t *testing.T) {
	sm := NewShutdownManager(testLogger(), nil, time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := sm.Shutdown(ctx); err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestZeroTimeoutDefaults(t *testing.T) {
	sm := NewShutdownManager(testLogger(), nil, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Fatalf("Expected 30s default, got %v", sm.shutdownTimeout)
	}
}
