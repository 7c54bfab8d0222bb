package access

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sraphaz/araponga/pkg/cache"
)

// brokenCache fails every operation, simulating a cache backend outage.
type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) Exists(ctx context.Context, key string) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenCache) Remove(ctx context.Context, keys ...string) error {
	return errors.New("connection refused")
}
func (brokenCache) RemoveByPattern(ctx context.Context, pattern string) error {
	return errors.New("connection refused")
}
func (brokenCache) Ping(ctx context.Context) error { return errors.New("connection refused") }
func (brokenCache) Close() error                   { return nil }

func seedMembership(t *testing.T, stores *MemoryStores, userID, territoryID string, role Role, verification ResidencyVerification) *TerritoryMembership {
	t.Helper()
	m := &TerritoryMembership{
		RevocableGrant: RevocableGrant{
			ID:        "membership-" + userID + "-" + territoryID,
			GrantedAt: time.Now().UTC(),
		},
		UserID:       userID,
		TerritoryID:  territoryID,
		Role:         role,
		Verification: verification,
	}
	if err := stores.AddMembership(context.Background(), m); err != nil {
		t.Fatalf("Failed to seed membership: %v", err)
	}
	return m
}

func seedCapability(t *testing.T, stores *MemoryStores, membershipID string, capability CapabilityType) *MembershipCapability {
	t.Helper()
	c := &MembershipCapability{
		RevocableGrant: RevocableGrant{
			ID:        "grant-" + membershipID + "-" + string(capability),
			GrantedAt: time.Now().UTC(),
		},
		MembershipID: membershipID,
		Type:         capability,
	}
	if err := stores.AddCapability(context.Background(), c); err != nil {
		t.Fatalf("Failed to seed capability: %v", err)
	}
	return c
}

func newTestEvaluator(stores *MemoryStores, cacheService cache.Service) *Evaluator {
	return NewEvaluator(stores, stores, stores, NewRules(nil), cacheService, time.Minute)
}

func TestHasCapabilityCacheAside(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := cache.NewMemoryCache(100, time.Minute)
	defer cacheService.Close()

	m := seedMembership(t, stores, "u1", "t1", RoleResident, VerificationGeo)
	grant := seedCapability(t, stores, m.ID, CapabilityCurator)

	allowed, err := newTestEvaluator(stores, cacheService).HasCapability(ctx, "u1", "t1", CapabilityCurator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if !allowed {
		t.Fatal("Expected capability to be granted")
	}

	// The answer is now cached: revoking the grant directly in the store,
	// without an invalidation event, still serves the cached yes.
	grant.Revoke(time.Now(), "admin-1")
	if err := stores.UpdateCapability(ctx, grant); err != nil {
		t.Fatalf("Failed to revoke grant: %v", err)
	}

	allowed, err = newTestEvaluator(stores, cacheService).HasCapability(ctx, "u1", "t1", CapabilityCurator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if !allowed {
		t.Fatal("Expected the stale cached answer without invalidation")
	}

	// Removing the key forces recomputation against current facts.
	if err := cacheService.Remove(ctx, CapabilityKey("u1", "t1", CapabilityCurator)); err != nil {
		t.Fatalf("Failed to remove key: %v", err)
	}
	allowed, err = newTestEvaluator(stores, cacheService).HasCapability(ctx, "u1", "t1", CapabilityCurator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected recomputation to see the revocation")
	}
}

func TestHasCapabilityNoMembershipNotCached(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := cache.NewMemoryCache(100, time.Minute)
	defer cacheService.Close()

	allowed, err := newTestEvaluator(stores, cacheService).HasCapability(ctx, "ghost", "t1", CapabilityCurator)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected no capability without membership")
	}
	if cacheService.Len() != 0 {
		t.Fatalf("Expected no cache entry for an absent membership, got %d entries", cacheService.Len())
	}
}

func TestCacheFailureDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()

	seedMembership(t, stores, "u1", "t1", RoleResident, VerificationDocument)

	evaluator := newTestEvaluator(stores, brokenCache{})
	resident, err := evaluator.IsResident(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("Expected cache outage to degrade, got error: %v", err)
	}
	if !resident {
		t.Fatal("Expected resident answer from the fact store")
	}
}

func TestFactStoreFailurePropagates(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, user_id, territory_id").
		WillReturnError(errors.New("connection reset by peer"))

	stores := NewSQLStores(db)
	cacheService := cache.NewMemoryCache(100, time.Minute)
	defer cacheService.Close()

	evaluator := NewEvaluator(stores, stores, stores, NewRules(nil), cacheService, time.Minute)
	_, err = evaluator.IsResident(ctx, "u1", "t1")
	if err == nil {
		t.Fatal("Expected fact store failure to propagate")
	}
	if !IsUnavailable(err) {
		t.Fatalf("Expected Unavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet sqlmock expectations: %v", err)
	}
}

func TestGetRoleCachesAbsence(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := cache.NewMemoryCache(100, time.Minute)
	defer cacheService.Close()

	evaluator := newTestEvaluator(stores, cacheService)

	role, err := evaluator.GetRole(ctx, "ghost", "t1")
	if err != nil {
		t.Fatalf("GetRole failed: %v", err)
	}
	if role != nil {
		t.Fatalf("Expected nil role, got %v", *role)
	}

	// The absence is cached; a membership added behind the cache's back is
	// not visible until invalidation or TTL expiry.
	seedMembership(t, stores, "ghost", "t1", RoleVisitor, VerificationNone)
	role, err = evaluator.GetRole(ctx, "ghost", "t1")
	if err != nil {
		t.Fatalf("GetRole failed: %v", err)
	}
	if role != nil {
		t.Fatal("Expected the cached absence to be served")
	}
}

func TestGetRoleReturnsRole(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := cache.NewMemoryCache(100, time.Minute)
	defer cacheService.Close()

	seedMembership(t, stores, "u1", "t1", RoleResident, VerificationGeo)

	evaluator := newTestEvaluator(stores, cacheService)
	for i := 0; i < 2; i++ {
		role, err := evaluator.GetRole(ctx, "u1", "t1")
		if err != nil {
			t.Fatalf("GetRole failed: %v", err)
		}
		if role == nil || *role != RoleResident {
			t.Fatalf("Expected resident role, got %v", role)
		}
	}
}

func TestHasSystemPermission(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := cache.NewMemoryCache(100, time.Minute)
	defer cacheService.Close()

	if err := stores.AddPermission(ctx, &SystemPermission{
		RevocableGrant: RevocableGrant{ID: "p1", GrantedAt: time.Now().UTC()},
		UserID:         "admin-1",
		Type:           PermissionSystemAdmin,
	}); err != nil {
		t.Fatalf("Failed to seed permission: %v", err)
	}

	evaluator := newTestEvaluator(stores, cacheService)

	allowed, err := evaluator.HasSystemPermission(ctx, "admin-1", PermissionSystemAdmin)
	if err != nil {
		t.Fatalf("HasSystemPermission failed: %v", err)
	}
	if !allowed {
		t.Fatal("Expected system permission to be granted")
	}

	allowed, err = evaluator.HasSystemPermission(ctx, "user-2", PermissionSystemAdmin)
	if err != nil {
		t.Fatalf("HasSystemPermission failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected no permission for another user")
	}
}

func TestMarketplaceChecksUseResidency(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	cacheService := cache.NewMemoryCache(100, time.Minute)
	defer cacheService.Close()

	seedMembership(t, stores, "u1", "t1", RoleResident, VerificationGeo)
	seedMembership(t, stores, "u2", "t1", RoleVisitor, VerificationNone)

	evaluator := newTestEvaluator(stores, cacheService)

	allowed, err := evaluator.CanCreateStore(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("CanCreateStore failed: %v", err)
	}
	if !allowed {
		t.Fatal("Expected verified resident to create stores")
	}

	allowed, err = evaluator.CanCreateItem(ctx, "u2", "t1")
	if err != nil {
		t.Fatalf("CanCreateItem failed: %v", err)
	}
	if allowed {
		t.Fatal("Expected visitor to be denied")
	}
}
