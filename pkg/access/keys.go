package access

import (
	"fmt"
)

// Cache keys are deterministic strings derived from the query shape, so an
// invalidation event can reconstruct the exact keys to remove without
// scanning. Every producer and every invalidator goes through these helpers;
// nothing else in the codebase formats a cache key by hand.

// SystemPermissionKey is the cache key for a (user, permission) check.
func SystemPermissionKey(userID string, permission PermissionType) string {
	return fmt.Sprintf("system:permission:%s:%s", userID, permission)
}

// RoleKey is the cache key for a (user, territory) role lookup.
func RoleKey(userID, territoryID string) string {
	return fmt.Sprintf("membership:role:%s:%s", userID, territoryID)
}

// ResidentKey is the cache key for a (user, territory) verified-resident check.
func ResidentKey(userID, territoryID string) string {
	return fmt.Sprintf("membership:resident:%s:%s", userID, territoryID)
}

// CapabilityKey is the cache key for a (user, territory, capability) check.
func CapabilityKey(userID, territoryID string, capability CapabilityType) string {
	return fmt.Sprintf("membership:capability:%s:%s:%s", userID, territoryID, capability)
}

// MembershipKeys returns every membership-derived key for a (user, territory)
// pair plus the capability keys for the given types. Invalidation handlers
// remove the full set: over-invalidation is a cheap miss, a stale hit is a
// correctness bug.
func MembershipKeys(userID, territoryID string, capabilities ...CapabilityType) []string {
	keys := []string{
		RoleKey(userID, territoryID),
		ResidentKey(userID, territoryID),
	}
	for _, c := range capabilities {
		keys = append(keys, CapabilityKey(userID, territoryID, c))
	}
	return keys
}

// KnownCapabilityTypes lists every capability type the platform issues.
// Handlers that cannot recover the revoked grant's type from the event
// invalidate across all of them.
func KnownCapabilityTypes() []CapabilityType {
	return []CapabilityType{CapabilityCurator, CapabilityModerator}
}
