package access

import (
	"context"

	"github.com/sraphaz/araponga/pkg/cache"
	"github.com/sraphaz/araponga/pkg/events"
	"github.com/sraphaz/araponga/pkg/observability"
)

// Invalidator removes cached authorization answers when the underlying
// facts change. Removal is idempotent, so at-least-once event delivery is
// safe, and deliberately broad: removing a key that was still correct only
// costs one recomputation, while missing a stale key grants revoked access
// until the TTL expires.
type Invalidator struct {
	cache   cache.Service
	logger  *observability.Logger
	metrics *observability.Metrics
}

// InvalidatorOption customizes an Invalidator.
type InvalidatorOption func(*Invalidator)

// WithInvalidatorLogger attaches a logger.
func WithInvalidatorLogger(logger *observability.Logger) InvalidatorOption {
	return func(i *Invalidator) { i.logger = logger }
}

// WithInvalidatorMetrics attaches metrics.
func WithInvalidatorMetrics(metrics *observability.Metrics) InvalidatorOption {
	return func(i *Invalidator) { i.metrics = metrics }
}

// NewInvalidator creates an invalidator over the given cache.
func NewInvalidator(cacheService cache.Service, opts ...InvalidatorOption) *Invalidator {
	i := &Invalidator{cache: cacheService}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Register subscribes the invalidation handlers on the bus. Grant events
// invalidate too: a cached negative answer must not outlive the grant that
// contradicts it.
func (i *Invalidator) Register(bus events.Bus) {
	bus.Subscribe(events.NameCapabilityRevoked, events.HandlerFunc(i.OnCapabilityRevoked))
	bus.Subscribe(events.NameCapabilityGranted, events.HandlerFunc(i.OnCapabilityGranted))
	bus.Subscribe(events.NameSystemPermissionRevoked, events.HandlerFunc(i.OnSystemPermissionRevoked))
	bus.Subscribe(events.NameSystemPermissionGranted, events.HandlerFunc(i.OnSystemPermissionGranted))
	bus.Subscribe(events.NameMembershipChanged, events.HandlerFunc(i.OnMembershipChanged))
}

// OnCapabilityRevoked removes the cached answers a capability revocation can
// stale: the capability tuple itself plus the membership-derived keys.
func (i *Invalidator) OnCapabilityRevoked(ctx context.Context, event events.Event) error {
	e, ok := event.(events.CapabilityRevokedEvent)
	if !ok {
		return nil
	}
	return i.removeMembershipKeys(ctx, event.EventName(), e.UserID, e.TerritoryID, e.CapabilityType)
}

// OnCapabilityGranted removes the same key set as a revocation.
func (i *Invalidator) OnCapabilityGranted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.CapabilityGrantedEvent)
	if !ok {
		return nil
	}
	return i.removeMembershipKeys(ctx, event.EventName(), e.UserID, e.TerritoryID, e.CapabilityType)
}

// OnSystemPermissionRevoked removes the cached permission answer.
func (i *Invalidator) OnSystemPermissionRevoked(ctx context.Context, event events.Event) error {
	e, ok := event.(events.SystemPermissionRevokedEvent)
	if !ok {
		return nil
	}
	return i.remove(ctx, event.EventName(), SystemPermissionKey(e.UserID, PermissionType(e.PermissionType)))
}

// OnSystemPermissionGranted removes the cached permission answer.
func (i *Invalidator) OnSystemPermissionGranted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.SystemPermissionGrantedEvent)
	if !ok {
		return nil
	}
	return i.remove(ctx, event.EventName(), SystemPermissionKey(e.UserID, PermissionType(e.PermissionType)))
}

// OnMembershipChanged removes every key derived from the membership: role,
// residency, and all capability tuples, since a membership revocation
// implicitly ends every capability attached to it.
func (i *Invalidator) OnMembershipChanged(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MembershipChangedEvent)
	if !ok {
		return nil
	}
	return i.removeMembershipKeys(ctx, event.EventName(), e.UserID, e.TerritoryID, "")
}

// removeMembershipKeys clears the role and resident keys and the capability
// keys for (user, territory). An empty capabilityType clears every known
// capability tuple.
func (i *Invalidator) removeMembershipKeys(ctx context.Context, eventName, userID, territoryID, capabilityType string) error {
	capabilities := KnownCapabilityTypes()
	if capabilityType != "" {
		capabilities = []CapabilityType{CapabilityType(capabilityType)}
	}
	return i.remove(ctx, eventName, MembershipKeys(userID, territoryID, capabilities...)...)
}

func (i *Invalidator) remove(ctx context.Context, eventName string, keys ...string) error {
	if i.cache == nil || len(keys) == 0 {
		return nil
	}
	if err := i.cache.Remove(ctx, keys...); err != nil {
		if i.logger != nil {
			i.logger.WithError(err).WithField("event", eventName).Error("cache invalidation failed")
		}
		return err
	}
	if i.metrics != nil {
		i.metrics.InvalidationsTotal.WithLabelValues(eventName).Add(float64(len(keys)))
	}
	if i.logger != nil {
		i.logger.WithFields(map[string]interface{}{
			"event": eventName,
			"keys":  len(keys),
		}).Debug("cache keys invalidated")
	}
	return nil
}
