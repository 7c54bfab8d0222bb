package access

import (
	"context"
)

// MembershipStore is the fact store for territory memberships. Lookups
// return only active (non-revoked) records; absence is a nil result, not an
// error. Backend failures surface as Unavailable.
type MembershipStore interface {
	// GetMembership returns the active membership for (user, territory),
	// or nil when none exists.
	GetMembership(ctx context.Context, userID, territoryID string) (*TerritoryMembership, error)

	// GetMembershipByID returns the membership with the given id regardless
	// of revocation state, or nil when unknown.
	GetMembershipByID(ctx context.Context, membershipID string) (*TerritoryMembership, error)

	// AddMembership persists a new membership record.
	AddMembership(ctx context.Context, m *TerritoryMembership) error

	// UpdateMembership persists changes to an existing membership record.
	UpdateMembership(ctx context.Context, m *TerritoryMembership) error
}

// CapabilityStore is the fact store for membership capabilities.
type CapabilityStore interface {
	// GetActiveCapabilities returns the active capability grants on a
	// membership.
	GetActiveCapabilities(ctx context.Context, membershipID string) ([]MembershipCapability, error)

	// GetCapabilityByID returns the grant with the given id regardless of
	// revocation state, or nil when unknown.
	GetCapabilityByID(ctx context.Context, grantID string) (*MembershipCapability, error)

	// AddCapability persists a new grant. Adding a second active grant of
	// the same type on the same membership fails with Conflict; concurrent
	// attempts are serialized by the store so exactly one wins.
	AddCapability(ctx context.Context, c *MembershipCapability) error

	// UpdateCapability persists changes to an existing grant.
	UpdateCapability(ctx context.Context, c *MembershipCapability) error
}

// Stores bundles the three fact stores with a unit-of-work hook. InTx runs
// fn against a view of the stores whose writes become visible atomically;
// backends without transactions run fn directly.
type Stores interface {
	MembershipStore
	CapabilityStore
	PermissionStore

	InTx(ctx context.Context, fn func(Stores) error) error
}

// PermissionStore is the fact store for system permissions.
type PermissionStore interface {
	// GetActiveSystemPermission returns the active grant of the given type
	// for a user, or nil when none exists.
	GetActiveSystemPermission(ctx context.Context, userID string, permission PermissionType) (*SystemPermission, error)

	// GetPermissionByID returns the grant with the given id regardless of
	// revocation state, or nil when unknown.
	GetPermissionByID(ctx context.Context, grantID string) (*SystemPermission, error)

	// AddPermission persists a new grant with the same one-active-per-type
	// rule as capabilities.
	AddPermission(ctx context.Context, p *SystemPermission) error

	// UpdatePermission persists changes to an existing grant.
	UpdatePermission(ctx context.Context, p *SystemPermission) error
}
