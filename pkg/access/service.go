package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sraphaz/araponga/pkg/async"
	"github.com/sraphaz/araponga/pkg/audit"
	"github.com/sraphaz/araponga/pkg/events"
	"github.com/sraphaz/araponga/pkg/observability"
)

const auditTimeout = 5 * time.Second

// serviceDeps holds the collaborators shared by the three lifecycle
// services. The ordering contract lives here: persist first, publish the
// invalidation event only after the write is durable, audit last and
// asynchronously.
type serviceDeps struct {
	stores  Stores
	bus     events.Bus
	logger  *observability.Logger
	metrics *observability.Metrics
	auditor audit.Logger
}

// ServiceOption customizes a lifecycle service.
type ServiceOption func(*serviceDeps)

// WithServiceLogger attaches a logger.
func WithServiceLogger(logger *observability.Logger) ServiceOption {
	return func(d *serviceDeps) { d.logger = logger }
}

// WithServiceMetrics attaches metrics.
func WithServiceMetrics(metrics *observability.Metrics) ServiceOption {
	return func(d *serviceDeps) { d.metrics = metrics }
}

// WithAuditor attaches an audit logger.
func WithAuditor(auditor audit.Logger) ServiceOption {
	return func(d *serviceDeps) { d.auditor = auditor }
}

func newServiceDeps(stores Stores, bus events.Bus, opts []ServiceOption) serviceDeps {
	d := serviceDeps{
		stores:  stores,
		bus:     bus,
		auditor: audit.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// publish delivers an invalidation event. The mutation is already durable,
// so a publish failure is logged and counted but never fails the operation;
// the TTL bounds how long the stale cached answer can survive.
func (d *serviceDeps) publish(ctx context.Context, event events.Event) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, event); err != nil {
		if d.logger != nil {
			d.logger.WithError(err).WithField("event", event.EventName()).Error("event publish failed, cached answers expire at TTL")
		}
	}
}

func (d *serviceDeps) recordGrant(kind string, err error) {
	if d.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	d.metrics.GrantsTotal.WithLabelValues(kind, outcome).Inc()
}

func (d *serviceDeps) recordRevocation(kind string, err error) {
	if d.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	d.metrics.RevocationsTotal.WithLabelValues(kind, outcome).Inc()
}

// auditAsync writes the audit event off the request path. Audit must never
// block or fail a grant operation.
func (d *serviceDeps) auditAsync(ctx context.Context, event *audit.Event) {
	auditor := d.auditor
	async.SafeGo(context.WithoutCancel(ctx), auditTimeout, "audit-write", func(ctx context.Context) error {
		return auditor.Log(ctx, event)
	})
}

// CapabilityService manages the lifecycle of membership capabilities.
type CapabilityService struct {
	deps serviceDeps
}

// NewCapabilityService creates a capability lifecycle service.
func NewCapabilityService(stores Stores, bus events.Bus, opts ...ServiceOption) *CapabilityService {
	return &CapabilityService{deps: newServiceDeps(stores, bus, opts)}
}

// Grant gives the user an elevated capability in the territory. The user
// must hold an active membership there; a duplicate active grant of the same
// type is a Conflict.
func (s *CapabilityService) Grant(ctx context.Context, userID, territoryID string, capability CapabilityType, grantedBy, reason string) (*MembershipCapability, error) {
	grant, err := s.grant(ctx, userID, territoryID, capability, grantedBy, reason)
	s.deps.recordGrant("capability", err)
	if err != nil {
		return nil, err
	}

	s.deps.publish(ctx, events.CapabilityGrantedEvent{
		MembershipID:   grant.MembershipID,
		UserID:         userID,
		TerritoryID:    territoryID,
		CapabilityType: string(capability),
		GrantedAt:      grant.GrantedAt,
	})
	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypeCapabilityGrant, audit.StatusSuccess, grantedBy, userID,
		audit.ResourceCapability, grant.ID,
	).WithTerritory(territoryID).WithReason(reason).WithDetail("capability_type", string(capability)))
	return grant, nil
}

func (s *CapabilityService) grant(ctx context.Context, userID, territoryID string, capability CapabilityType, grantedBy, reason string) (*MembershipCapability, error) {
	if userID == "" || territoryID == "" || capability == "" {
		return nil, InvalidArgumentError("user, territory and capability type are required")
	}

	membership, err := s.deps.stores.GetMembership(ctx, userID, territoryID)
	if err != nil {
		return nil, UnavailableError("membership lookup failed", err)
	}
	if membership == nil {
		return nil, NotFoundError("Membership not found")
	}

	grant := &MembershipCapability{
		RevocableGrant: RevocableGrant{
			ID:          uuid.NewString(),
			GrantedAt:   time.Now().UTC(),
			GrantedBy:   grantedBy,
			GrantReason: reason,
		},
		MembershipID: membership.ID,
		Type:         capability,
	}
	if err := s.deps.stores.AddCapability(ctx, grant); err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, UnavailableError("capability grant failed", err)
	}
	return grant, nil
}

// Revoke ends an active capability grant. Revoking an unknown grant is
// NotFound; revoking twice is a Conflict. The cache invalidation event is
// published only after the revocation is durable.
func (s *CapabilityService) Revoke(ctx context.Context, grantID, revokedBy, reason string) error {
	grant, membership, err := s.revoke(ctx, grantID, revokedBy)
	s.deps.recordRevocation("capability", err)
	if err != nil {
		return err
	}

	s.deps.publish(ctx, events.CapabilityRevokedEvent{
		MembershipID:   grant.MembershipID,
		UserID:         membership.UserID,
		TerritoryID:    membership.TerritoryID,
		CapabilityType: string(grant.Type),
		RevokedAt:      *grant.RevokedAt,
	})
	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypeCapabilityRevoke, audit.StatusSuccess, revokedBy, membership.UserID,
		audit.ResourceCapability, grant.ID,
	).WithTerritory(membership.TerritoryID).WithReason(reason).WithDetail("capability_type", string(grant.Type)))
	return nil
}

func (s *CapabilityService) revoke(ctx context.Context, grantID, revokedBy string) (*MembershipCapability, *TerritoryMembership, error) {
	if grantID == "" {
		return nil, nil, InvalidArgumentError("grant id is required")
	}

	grant, err := s.deps.stores.GetCapabilityByID(ctx, grantID)
	if err != nil {
		return nil, nil, UnavailableError("capability lookup failed", err)
	}
	if grant == nil {
		return nil, nil, NotFoundError("capability grant not found")
	}
	if !grant.IsActive() {
		return nil, nil, ConflictError("capability grant already revoked")
	}

	membership, err := s.deps.stores.GetMembershipByID(ctx, grant.MembershipID)
	if err != nil {
		return nil, nil, UnavailableError("membership lookup failed", err)
	}
	if membership == nil {
		return nil, nil, NotFoundError("membership not found")
	}

	grant.Revoke(time.Now(), revokedBy)
	if err := s.deps.stores.UpdateCapability(ctx, grant); err != nil {
		// The store rejects a second revocation of the same grant, so a
		// racing revoke that lost surfaces as Conflict here too.
		if IsConflict(err) || IsNotFound(err) {
			return nil, nil, err
		}
		return nil, nil, UnavailableError("capability revocation failed", err)
	}
	return grant, membership, nil
}

// PermissionService manages the lifecycle of system permissions.
type PermissionService struct {
	deps serviceDeps
}

// NewPermissionService creates a system permission lifecycle service.
func NewPermissionService(stores Stores, bus events.Bus, opts ...ServiceOption) *PermissionService {
	return &PermissionService{deps: newServiceDeps(stores, bus, opts)}
}

// Grant gives the user a platform-wide permission. A duplicate active grant
// of the same type is a Conflict.
func (s *PermissionService) Grant(ctx context.Context, userID string, permission PermissionType, grantedBy, reason string) (*SystemPermission, error) {
	grant, err := s.grant(ctx, userID, permission, grantedBy, reason)
	s.deps.recordGrant("system_permission", err)
	if err != nil {
		return nil, err
	}

	s.deps.publish(ctx, events.SystemPermissionGrantedEvent{
		UserID:         userID,
		PermissionType: string(permission),
		GrantedAt:      grant.GrantedAt,
	})
	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypePermissionGrant, audit.StatusSuccess, grantedBy, userID,
		audit.ResourceSystemPermission, grant.ID,
	).WithReason(reason).WithDetail("permission_type", string(permission)))
	return grant, nil
}

func (s *PermissionService) grant(ctx context.Context, userID string, permission PermissionType, grantedBy, reason string) (*SystemPermission, error) {
	if userID == "" || permission == "" {
		return nil, InvalidArgumentError("user and permission type are required")
	}

	grant := &SystemPermission{
		RevocableGrant: RevocableGrant{
			ID:          uuid.NewString(),
			GrantedAt:   time.Now().UTC(),
			GrantedBy:   grantedBy,
			GrantReason: reason,
		},
		UserID: userID,
		Type:   permission,
	}
	if err := s.deps.stores.AddPermission(ctx, grant); err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, UnavailableError("permission grant failed", err)
	}
	return grant, nil
}

// Revoke ends an active system permission grant. The invalidation event is
// published only after the revocation is durable, so a subsequent cache miss
// recomputes from the already-updated facts.
func (s *PermissionService) Revoke(ctx context.Context, grantID, revokedBy, reason string) error {
	grant, err := s.revoke(ctx, grantID, revokedBy)
	s.deps.recordRevocation("system_permission", err)
	if err != nil {
		return err
	}

	s.deps.publish(ctx, events.SystemPermissionRevokedEvent{
		UserID:         grant.UserID,
		PermissionType: string(grant.Type),
		RevokedAt:      *grant.RevokedAt,
	})
	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypePermissionRevoke, audit.StatusSuccess, revokedBy, grant.UserID,
		audit.ResourceSystemPermission, grant.ID,
	).WithReason(reason).WithDetail("permission_type", string(grant.Type)))
	return nil
}

func (s *PermissionService) revoke(ctx context.Context, grantID, revokedBy string) (*SystemPermission, error) {
	if grantID == "" {
		return nil, InvalidArgumentError("grant id is required")
	}

	grant, err := s.deps.stores.GetPermissionByID(ctx, grantID)
	if err != nil {
		return nil, UnavailableError("permission lookup failed", err)
	}
	if grant == nil {
		return nil, NotFoundError("permission grant not found")
	}
	if !grant.IsActive() {
		return nil, ConflictError("permission grant already revoked")
	}

	grant.Revoke(time.Now(), revokedBy)
	if err := s.deps.stores.UpdatePermission(ctx, grant); err != nil {
		if IsConflict(err) || IsNotFound(err) {
			return nil, err
		}
		return nil, UnavailableError("permission revocation failed", err)
	}
	return grant, nil
}

// MembershipService manages the membership lifecycle: entering a territory,
// residency, verification, and leaving.
type MembershipService struct {
	deps serviceDeps
}

// NewMembershipService creates a membership lifecycle service.
func NewMembershipService(stores Stores, bus events.Bus, opts ...ServiceOption) *MembershipService {
	return &MembershipService{deps: newServiceDeps(stores, bus, opts)}
}

// EnterTerritory creates a visitor membership for the user in the territory.
// A second active membership there is a Conflict.
func (s *MembershipService) EnterTerritory(ctx context.Context, userID, territoryID string) (*TerritoryMembership, error) {
	if userID == "" || territoryID == "" {
		return nil, InvalidArgumentError("user and territory are required")
	}

	membership := &TerritoryMembership{
		RevocableGrant: RevocableGrant{
			ID:        uuid.NewString(),
			GrantedAt: time.Now().UTC(),
			GrantedBy: userID,
		},
		UserID:       userID,
		TerritoryID:  territoryID,
		Role:         RoleVisitor,
		Verification: VerificationNone,
	}
	if err := s.deps.stores.AddMembership(ctx, membership); err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, UnavailableError("membership creation failed", err)
	}

	s.deps.publish(ctx, events.MembershipChangedEvent{
		MembershipID: membership.ID,
		UserID:       userID,
		TerritoryID:  territoryID,
		ChangedAt:    membership.GrantedAt,
	})
	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypeMembershipEnter, audit.StatusSuccess, userID, userID,
		audit.ResourceMembership, membership.ID,
	).WithTerritory(territoryID))
	return membership, nil
}

// GrantResidency promotes the user's membership to the resident role. The
// residency only confers resident-gated access once verification passes.
func (s *MembershipService) GrantResidency(ctx context.Context, userID, territoryID, grantedBy string) (*TerritoryMembership, error) {
	membership, err := s.updateMembership(ctx, userID, territoryID, func(m *TerritoryMembership) {
		m.Role = RoleResident
		if m.Verification == VerificationNone {
			m.Verification = VerificationPending
		}
	})
	if err != nil {
		return nil, err
	}

	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypeResidencyGrant, audit.StatusSuccess, grantedBy, userID,
		audit.ResourceMembership, membership.ID,
	).WithTerritory(territoryID))
	return membership, nil
}

// SetVerification records the outcome of residency verification.
func (s *MembershipService) SetVerification(ctx context.Context, userID, territoryID string, verification ResidencyVerification) (*TerritoryMembership, error) {
	membership, err := s.updateMembership(ctx, userID, territoryID, func(m *TerritoryMembership) {
		m.Verification = verification
		if verification.Verified() {
			now := time.Now().UTC()
			m.VerifiedAt = &now
		} else {
			m.VerifiedAt = nil
		}
	})
	if err != nil {
		return nil, err
	}

	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypeVerificationSet, audit.StatusSuccess, userID, userID,
		audit.ResourceMembership, membership.ID,
	).WithTerritory(territoryID).WithDetail("verification", string(verification)))
	return membership, nil
}

// updateMembership loads the active membership, applies mutate, persists and
// publishes the change.
func (s *MembershipService) updateMembership(ctx context.Context, userID, territoryID string, mutate func(*TerritoryMembership)) (*TerritoryMembership, error) {
	if userID == "" || territoryID == "" {
		return nil, InvalidArgumentError("user and territory are required")
	}

	membership, err := s.deps.stores.GetMembership(ctx, userID, territoryID)
	if err != nil {
		return nil, UnavailableError("membership lookup failed", err)
	}
	if membership == nil {
		return nil, NotFoundError("Membership not found")
	}

	mutate(membership)
	if err := s.deps.stores.UpdateMembership(ctx, membership); err != nil {
		if IsConflict(err) || IsNotFound(err) {
			return nil, err
		}
		return nil, UnavailableError("membership update failed", err)
	}

	s.deps.publish(ctx, events.MembershipChangedEvent{
		MembershipID: membership.ID,
		UserID:       userID,
		TerritoryID:  territoryID,
		ChangedAt:    time.Now().UTC(),
	})
	return membership, nil
}

// RevokeMembership ends the user's membership in the territory and, in the
// same unit of work, every active capability attached to it. Capabilities
// are membership-scoped; they cannot outlive the membership.
func (s *MembershipService) RevokeMembership(ctx context.Context, userID, territoryID, revokedBy, reason string) error {
	if userID == "" || territoryID == "" {
		return InvalidArgumentError("user and territory are required")
	}

	var membership *TerritoryMembership
	var revokedCapabilities []MembershipCapability
	err := s.deps.stores.InTx(ctx, func(tx Stores) error {
		var err error
		membership, err = tx.GetMembership(ctx, userID, territoryID)
		if err != nil {
			return UnavailableError("membership lookup failed", err)
		}
		if membership == nil {
			return NotFoundError("Membership not found")
		}

		now := time.Now()
		capabilities, err := tx.GetActiveCapabilities(ctx, membership.ID)
		if err != nil {
			return UnavailableError("capability lookup failed", err)
		}
		for i := range capabilities {
			capabilities[i].Revoke(now, revokedBy)
			if err := tx.UpdateCapability(ctx, &capabilities[i]); err != nil {
				if IsConflict(err) || IsNotFound(err) {
					return err
				}
				return UnavailableError("capability revocation failed", err)
			}
		}
		revokedCapabilities = capabilities

		membership.Revoke(now, revokedBy)
		if err := tx.UpdateMembership(ctx, membership); err != nil {
			if IsConflict(err) || IsNotFound(err) {
				return err
			}
			return UnavailableError("membership revocation failed", err)
		}
		return nil
	})
	s.deps.recordRevocation("membership", err)
	if err != nil {
		return err
	}

	s.deps.publish(ctx, events.MembershipChangedEvent{
		MembershipID: membership.ID,
		UserID:       userID,
		TerritoryID:  territoryID,
		ChangedAt:    *membership.RevokedAt,
	})
	for _, capability := range revokedCapabilities {
		s.deps.publish(ctx, events.CapabilityRevokedEvent{
			MembershipID:   capability.MembershipID,
			UserID:         userID,
			TerritoryID:    territoryID,
			CapabilityType: string(capability.Type),
			RevokedAt:      *capability.RevokedAt,
		})
	}
	s.deps.auditAsync(ctx, audit.NewEvent(
		audit.EventTypeMembershipRevoke, audit.StatusSuccess, revokedBy, userID,
		audit.ResourceMembership, membership.ID,
	).WithTerritory(territoryID).WithReason(reason))
	return nil
}
