package access

import (
	"time"
)

// Role represents a user's membership role within a territory
type Role string

const (
	RoleVisitor  Role = "visitor"
	RoleResident Role = "resident"
)

// ResidencyVerification represents how a resident's local presence was verified
type ResidencyVerification string

const (
	VerificationNone     ResidencyVerification = "none"
	VerificationPending  ResidencyVerification = "unverified"
	VerificationGeo      ResidencyVerification = "geo"
	VerificationDocument ResidencyVerification = "document"
)

// Verified reports whether the verification level is strong enough to back
// resident-only actions.
func (v ResidencyVerification) Verified() bool {
	return v == VerificationGeo || v == VerificationDocument
}

// CapabilityType represents an elevated, membership-scoped capability
type CapabilityType string

const (
	CapabilityCurator   CapabilityType = "curator"
	CapabilityModerator CapabilityType = "moderator"
)

// PermissionType represents a platform-wide, user-scoped permission
type PermissionType string

const (
	PermissionSystemAdmin PermissionType = "system_admin"
)

// RevocableGrant carries the shared active/revoked state machine used by
// capabilities, system permissions, and memberships. Revocation is one-way;
// a fresh grant is a new record.
type RevocableGrant struct {
	ID          string     `json:"id"`
	GrantedAt   time.Time  `json:"granted_at"`
	GrantedBy   string     `json:"granted_by,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RevokedBy   string     `json:"revoked_by,omitempty"`
	GrantReason string     `json:"reason,omitempty"`
}

// IsActive reports whether the grant has not been revoked.
func (g RevocableGrant) IsActive() bool {
	return g.RevokedAt == nil
}

// Revoke marks the grant revoked at the given time by the given actor.
// Calling Revoke on an already-revoked grant is the caller's bug; services
// guard it with a Conflict check first.
func (g *RevocableGrant) Revoke(at time.Time, by string) {
	t := at.UTC()
	g.RevokedAt = &t
	g.RevokedBy = by
}

// TerritoryMembership identifies a (user, territory) relationship.
// A revoked membership is treated as absent by the evaluator.
type TerritoryMembership struct {
	RevocableGrant
	UserID       string                `json:"user_id"`
	TerritoryID  string                `json:"territory_id"`
	Role         Role                  `json:"role"`
	Verification ResidencyVerification `json:"verification"`
	VerifiedAt   *time.Time            `json:"verified_at,omitempty"`
}

// MembershipCapability is a revocable grant of an elevated capability scoped
// to one membership. At most one active grant of a given type may exist per
// membership.
type MembershipCapability struct {
	RevocableGrant
	MembershipID        string         `json:"membership_id"`
	Type                CapabilityType `json:"capability_type"`
	GrantedByMembership string         `json:"granted_by_membership_id,omitempty"`
}

// SystemPermission is a revocable grant of a platform-wide permission to a
// user, independent of any territory.
type SystemPermission struct {
	RevocableGrant
	UserID string         `json:"user_id"`
	Type   PermissionType `json:"permission_type"`
}
