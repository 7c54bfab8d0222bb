package access

import (
	"context"
	"sync"
)

// MemoryStores is a mutex-serialized, map-backed implementation of the three
// fact stores. It backs tests and single-node development; the SQL stores
// are the production path. One mutex covers all three maps so the
// one-active-grant-per-type check and the insert it guards are a single
// critical section.
type MemoryStores struct {
	mu           sync.RWMutex
	memberships  map[string]*TerritoryMembership
	capabilities map[string]*MembershipCapability
	permissions  map[string]*SystemPermission
}

// NewMemoryStores creates empty in-memory fact stores.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		memberships:  make(map[string]*TerritoryMembership),
		capabilities: make(map[string]*MembershipCapability),
		permissions:  make(map[string]*SystemPermission),
	}
}

// InTx runs fn against the same stores. The maps have no transaction
// concept; each operation is already serialized by the mutex.
func (s *MemoryStores) InTx(ctx context.Context, fn func(Stores) error) error {
	return fn(s)
}

// GetMembership returns the active membership for (user, territory), or nil.
func (s *MemoryStores) GetMembership(ctx context.Context, userID, territoryID string) (*TerritoryMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.UserID == userID && m.TerritoryID == territoryID && m.IsActive() {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

// GetMembershipByID returns the membership with the given id, or nil.
func (s *MemoryStores) GetMembershipByID(ctx context.Context, membershipID string) (*TerritoryMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipID]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

// AddMembership persists a new membership. A second active membership for
// the same (user, territory) is rejected with Conflict.
func (s *MemoryStores) AddMembership(ctx context.Context, m *TerritoryMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.memberships {
		if existing.UserID == m.UserID && existing.TerritoryID == m.TerritoryID && existing.IsActive() {
			return ConflictError("membership already exists for this territory")
		}
	}
	copied := *m
	s.memberships[m.ID] = &copied
	return nil
}

// UpdateMembership persists changes to an existing membership. A membership
// that is already revoked cannot be written again; two racing revokes
// serialize on the store lock and the loser gets Conflict.
func (s *MemoryStores) UpdateMembership(ctx context.Context, m *TerritoryMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.memberships[m.ID]
	if !ok {
		return NotFoundError("membership not found")
	}
	if existing.RevokedAt != nil {
		return ConflictError("membership already revoked")
	}
	copied := *m
	s.memberships[m.ID] = &copied
	return nil
}

// GetActiveCapabilities returns the active capability grants on a membership.
func (s *MemoryStores) GetActiveCapabilities(ctx context.Context, membershipID string) ([]MembershipCapability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var grants []MembershipCapability
	for _, c := range s.capabilities {
		if c.MembershipID == membershipID && c.IsActive() {
			grants = append(grants, *c)
		}
	}
	return grants, nil
}

// GetCapabilityByID returns the capability grant with the given id, or nil.
func (s *MemoryStores) GetCapabilityByID(ctx context.Context, grantID string) (*MembershipCapability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.capabilities[grantID]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

// AddCapability persists a new grant, enforcing one active grant per
// (membership, type) inside the store lock.
func (s *MemoryStores) AddCapability(ctx context.Context, c *MembershipCapability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.capabilities {
		if existing.MembershipID == c.MembershipID && existing.Type == c.Type && existing.IsActive() {
			return ConflictError("already has this active capability")
		}
	}
	copied := *c
	s.capabilities[c.ID] = &copied
	return nil
}

// UpdateCapability persists changes to an existing grant. An already-revoked
// grant cannot be written again, so concurrent revokes of the same grant
// resolve to one winner under the store lock.
func (s *MemoryStores) UpdateCapability(ctx context.Context, c *MembershipCapability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.capabilities[c.ID]
	if !ok {
		return NotFoundError("capability grant not found")
	}
	if existing.RevokedAt != nil {
		return ConflictError("capability grant already revoked")
	}
	copied := *c
	s.capabilities[c.ID] = &copied
	return nil
}

// GetActiveSystemPermission returns the user's active grant of the given
// type, or nil.
func (s *MemoryStores) GetActiveSystemPermission(ctx context.Context, userID string, permission PermissionType) (*SystemPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.UserID == userID && p.Type == permission && p.IsActive() {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

// GetPermissionByID returns the permission grant with the given id, or nil.
func (s *MemoryStores) GetPermissionByID(ctx context.Context, grantID string) (*SystemPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[grantID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

// AddPermission persists a new grant, enforcing one active grant per
// (user, type).
func (s *MemoryStores) AddPermission(ctx context.Context, p *SystemPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permissions {
		if existing.UserID == p.UserID && existing.Type == p.Type && existing.IsActive() {
			return ConflictError("already has this active permission")
		}
	}
	copied := *p
	s.permissions[p.ID] = &copied
	return nil
}

// UpdatePermission persists changes to an existing grant. Same rule as
// capabilities: a revoked grant is immutable.
func (s *MemoryStores) UpdatePermission(ctx context.Context, p *SystemPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.permissions[p.ID]
	if !ok {
		return NotFoundError("permission grant not found")
	}
	if existing.RevokedAt != nil {
		return ConflictError("permission grant already revoked")
	}
	copied := *p
	s.permissions[p.ID] = &copied
	return nil
}
