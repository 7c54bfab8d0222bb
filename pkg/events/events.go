// Package events provides the in-process event bus that connects the
// mutation path (grant/revoke services) to the cache invalidation handlers.
// Delivery is at-least-once and, for the default bus, synchronous: by the
// time Publish returns every registered handler has run.
package events

import (
	"time"
)

// Event is a domain event delivered through the bus. Events are ephemeral;
// nothing in this core persists them.
type Event interface {
	EventName() string
}

// Event names used for handler registration.
const (
	NameCapabilityRevoked       = "access.capability_revoked"
	NameCapabilityGranted       = "access.capability_granted"
	NameSystemPermissionRevoked = "access.system_permission_revoked"
	NameSystemPermissionGranted = "access.system_permission_granted"
	NameMembershipChanged       = "access.membership_changed"
)

// CapabilityRevokedEvent is published after a membership capability
// revocation has been durably committed.
type CapabilityRevokedEvent struct {
	MembershipID   string    `json:"membership_id"`
	UserID         string    `json:"user_id"`
	TerritoryID    string    `json:"territory_id"`
	CapabilityType string    `json:"capability_type"`
	RevokedAt      time.Time `json:"revoked_at"`
}

func (CapabilityRevokedEvent) EventName() string { return NameCapabilityRevoked }

// CapabilityGrantedEvent is published after a capability grant commits, so a
// cached negative answer disappears immediately instead of at TTL expiry.
type CapabilityGrantedEvent struct {
	MembershipID   string    `json:"membership_id"`
	UserID         string    `json:"user_id"`
	TerritoryID    string    `json:"territory_id"`
	CapabilityType string    `json:"capability_type"`
	GrantedAt      time.Time `json:"granted_at"`
}

func (CapabilityGrantedEvent) EventName() string { return NameCapabilityGranted }

// SystemPermissionRevokedEvent is published after a system permission
// revocation has been durably committed.
type SystemPermissionRevokedEvent struct {
	UserID         string    `json:"user_id"`
	PermissionType string    `json:"permission_type"`
	RevokedAt      time.Time `json:"revoked_at"`
}

func (SystemPermissionRevokedEvent) EventName() string { return NameSystemPermissionRevoked }

// SystemPermissionGrantedEvent is published after a system permission grant
// commits.
type SystemPermissionGrantedEvent struct {
	UserID         string    `json:"user_id"`
	PermissionType string    `json:"permission_type"`
	GrantedAt      time.Time `json:"granted_at"`
}

func (SystemPermissionGrantedEvent) EventName() string { return NameSystemPermissionGranted }

// MembershipChangedEvent is published when a membership's role, verification,
// or revocation state changes.
type MembershipChangedEvent struct {
	MembershipID string    `json:"membership_id"`
	UserID       string    `json:"user_id"`
	TerritoryID  string    `json:"territory_id"`
	ChangedAt    time.Time `json:"changed_at"`
}

func (MembershipChangedEvent) EventName() string { return NameMembershipChanged }
