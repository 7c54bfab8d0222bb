package access

import (
	"context"
)

// FlagMarketplaceEnabled is the territory-scoped kill switch consulted by the
// marketplace predicates.
const FlagMarketplaceEnabled = "marketplace_enabled"

// FlagOracle answers whether a feature flag is enabled for a territory.
// Implementations live outside this package; a nil oracle means every flag
// is enabled.
type FlagOracle interface {
	Enabled(ctx context.Context, territoryID, flag string) bool
}

// Rules composes membership state into the derived predicates consumed by
// the evaluator and by application services. All methods are deterministic
// and perform no I/O beyond the injected flag oracle.
type Rules struct {
	flags FlagOracle
}

// NewRules creates a rule engine backed by the given flag oracle.
func NewRules(flags FlagOracle) *Rules {
	return &Rules{flags: flags}
}

// IsVerifiedResident reports whether the membership is an active Resident
// with a verification level stronger than none/unverified. A nil or revoked
// membership carries no rights.
func (r *Rules) IsVerifiedResident(m *TerritoryMembership) bool {
	if m == nil || !m.IsActive() {
		return false
	}
	return m.Role == RoleResident && m.Verification.Verified()
}

// CanCreateStore reports whether the membership may open a marketplace
// store. Today this is the verified-resident rule gated by the marketplace
// flag; CanCreateItem shares it deliberately, so a divergence needs a
// product reason, not a copy-paste.
func (r *Rules) CanCreateStore(ctx context.Context, m *TerritoryMembership) bool {
	return r.canUseMarketplace(ctx, m)
}

// CanCreateItem reports whether the membership may list a marketplace item.
func (r *Rules) CanCreateItem(ctx context.Context, m *TerritoryMembership) bool {
	return r.canUseMarketplace(ctx, m)
}

func (r *Rules) canUseMarketplace(ctx context.Context, m *TerritoryMembership) bool {
	if !r.IsVerifiedResident(m) {
		return false
	}
	if r.flags == nil {
		return true
	}
	return r.flags.Enabled(ctx, m.TerritoryID, FlagMarketplaceEnabled)
}
