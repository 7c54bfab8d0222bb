package access

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/sraphaz/araponga/pkg/cache"
	"github.com/sraphaz/araponga/pkg/events"
)

func newRedisFixture(t *testing.T) *cache.RedisCache {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cacheService := cache.NewRedisCacheWithClient(client)
	t.Cleanup(func() { cacheService.Close() })
	return cacheService
}

// The full loop: a cached yes answer disappears the moment the revocation
// commits, without waiting for the TTL.
func TestRevocationInvalidatesCachedAnswer(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := newRedisFixture(t)
	bus := events.NewInProcessBus(nil, nil)
	NewInvalidator(cacheService).Register(bus)

	seedMembership(t, stores, "u1", "t1", RoleResident, VerificationGeo)

	capabilities := NewCapabilityService(stores, bus)
	grant, err := capabilities.Grant(ctx, "u1", "t1", CapabilityModerator, "admin-1", "")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	evaluator := NewEvaluator(stores, stores, stores, NewRules(nil), cacheService, time.Hour)
	allowed, err := evaluator.HasCapability(ctx, "u1", "t1", CapabilityModerator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if !allowed {
		t.Fatal("Expected capability before revocation")
	}
	if ok, _ := cacheService.Exists(ctx, CapabilityKey("u1", "t1", CapabilityModerator)); !ok {
		t.Fatal("Expected the answer to be cached")
	}

	if err := capabilities.Revoke(ctx, grant.ID, "admin-2", "policy violation"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	// Despite the one-hour TTL, the next check recomputes.
	allowed, err = evaluator.HasCapability(ctx, "u1", "t1", CapabilityModerator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected revocation to be visible immediately")
	}
}

// The same loop for system permissions: the check populates the permission
// key, the revocation removes it, and the next check recomputes to false.
func TestPermissionRevocationInvalidatesCachedAnswer(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := newRedisFixture(t)
	bus := events.NewInProcessBus(nil, nil)
	NewInvalidator(cacheService).Register(bus)

	permissions := NewPermissionService(stores, bus)
	grant, err := permissions.Grant(ctx, "admin-1", PermissionSystemAdmin, "root", "bootstrap")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	evaluator := NewEvaluator(stores, stores, stores, NewRules(nil), cacheService, time.Hour)
	allowed, err := evaluator.HasSystemPermission(ctx, "admin-1", PermissionSystemAdmin)
	if err != nil {
		t.Fatalf("HasSystemPermission failed: %v", err)
	}
	if !allowed {
		t.Fatal("Expected system permission before revocation")
	}
	key := SystemPermissionKey("admin-1", PermissionSystemAdmin)
	if ok, _ := cacheService.Exists(ctx, key); !ok {
		t.Fatal("Expected the answer to be cached under the permission key")
	}

	if err := permissions.Revoke(ctx, grant.ID, "root", "offboarding"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if ok, _ := cacheService.Exists(ctx, key); ok {
		t.Fatal("Expected the permission key to be removed on revocation")
	}
	allowed, err = evaluator.HasSystemPermission(ctx, "admin-1", PermissionSystemAdmin)
	if err != nil {
		t.Fatalf("HasSystemPermission failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected the revocation to be visible immediately")
	}
}

// A grant must also invalidate, or a cached negative answer would hide the
// new capability until TTL expiry.
func TestGrantInvalidatesCachedNegative(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := newRedisFixture(t)
	bus := events.NewInProcessBus(nil, nil)
	NewInvalidator(cacheService).Register(bus)

	seedMembership(t, stores, "u1", "t1", RoleResident, VerificationGeo)

	evaluator := NewEvaluator(stores, stores, stores, NewRules(nil), cacheService, time.Hour)
	allowed, err := evaluator.HasCapability(ctx, "u1", "t1", CapabilityCurator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected no capability before the grant")
	}

	if _, err := NewCapabilityService(stores, bus).Grant(ctx, "u1", "t1", CapabilityCurator, "admin-1", ""); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	allowed, err = evaluator.HasCapability(ctx, "u1", "t1", CapabilityCurator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if !allowed {
		t.Fatal("Expected the grant to be visible immediately")
	}
}

func TestMembershipRevocationClearsDerivedKeys(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := newRedisFixture(t)
	bus := events.NewInProcessBus(nil, nil)
	NewInvalidator(cacheService).Register(bus)

	seedMembership(t, stores, "u1", "t1", RoleResident, VerificationDocument)
	memberships := NewMembershipService(stores, bus)
	capabilities := NewCapabilityService(stores, bus)
	if _, err := capabilities.Grant(ctx, "u1", "t1", CapabilityCurator, "admin-1", ""); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	evaluator := NewEvaluator(stores, stores, stores, NewRules(nil), cacheService, time.Hour)
	if resident, _ := evaluator.IsResident(ctx, "u1", "t1"); !resident {
		t.Fatal("Expected verified resident before revocation")
	}
	if allowed, _ := evaluator.HasCapability(ctx, "u1", "t1", CapabilityCurator); !allowed {
		t.Fatal("Expected capability before revocation")
	}

	if err := memberships.RevokeMembership(ctx, "u1", "t1", "admin-2", "left town"); err != nil {
		t.Fatalf("RevokeMembership failed: %v", err)
	}

	if resident, _ := evaluator.IsResident(ctx, "u1", "t1"); resident {
		t.Fatal("Expected residency to end with the membership")
	}
	if allowed, _ := evaluator.HasCapability(ctx, "u1", "t1", CapabilityCurator); allowed {
		t.Fatal("Expected capabilities to end with the membership")
	}
	if role, _ := evaluator.GetRole(ctx, "u1", "t1"); role != nil {
		t.Fatalf("Expected no role after revocation, got %v", *role)
	}
}

// Handlers tolerate duplicate delivery: removing an already-removed key is a
// no-op, so replaying an event changes nothing.
func TestInvalidationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cacheService := newRedisFixture(t)
	invalidator := NewInvalidator(cacheService)

	if err := cacheService.Set(ctx, CapabilityKey("u1", "t1", CapabilityCurator), []byte("true"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	event := events.CapabilityRevokedEvent{
		MembershipID:   "m1",
		UserID:         "u1",
		TerritoryID:    "t1",
		CapabilityType: string(CapabilityCurator),
		RevokedAt:      time.Now(),
	}
	for i := 0; i < 3; i++ {
		if err := invalidator.OnCapabilityRevoked(ctx, event); err != nil {
			t.Fatalf("Delivery %d failed: %v", i+1, err)
		}
	}
	if ok, _ := cacheService.Exists(ctx, CapabilityKey("u1", "t1", CapabilityCurator)); ok {
		t.Fatal("Expected key to stay removed")
	}
}

func TestInvalidationSurvivesUnknownPayload(t *testing.T) {
	invalidator := NewInvalidator(newRedisFixture(t))

	// A payload of the wrong type is skipped, not crashed on.
	if err := invalidator.OnCapabilityRevoked(context.Background(), events.MembershipChangedEvent{}); err != nil {
		t.Fatalf("Expected mismatched payload to be skipped, got %v", err)
	}
}
