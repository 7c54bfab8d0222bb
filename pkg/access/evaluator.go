package access

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sraphaz/araponga/pkg/cache"
	"github.com/sraphaz/araponga/pkg/observability"
)

// Query names used for metrics and tracing.
const (
	queryCapability = "has_capability"
	queryPermission = "has_system_permission"
	queryResident   = "is_resident"
	queryRole       = "get_role"
)

// Evaluator is the single authorization checkpoint. Every query follows the
// cache-aside protocol: derive the key, try the cache, on miss compute from
// the fact stores and rule engine, store with TTL, return. A cache backend
// failure is treated as a miss and never fails the query; a fact-store
// failure always propagates, because "cannot determine access" must stay
// distinct from "denied".
type Evaluator struct {
	memberships  MembershipStore
	capabilities CapabilityStore
	permissions  PermissionStore
	rules        *Rules
	cache        cache.Service
	ttl          time.Duration
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       trace.Tracer
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger attaches a logger.
func WithLogger(logger *observability.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

// WithMetrics attaches metrics.
func WithMetrics(metrics *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = metrics }
}

// NewEvaluator creates the evaluator. ttl bounds staleness beyond event
// invalidation; zero defaults to five minutes.
func NewEvaluator(
	memberships MembershipStore,
	capabilities CapabilityStore,
	permissions PermissionStore,
	rules *Rules,
	cacheService cache.Service,
	ttl time.Duration,
	opts ...EvaluatorOption,
) *Evaluator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	e := &Evaluator{
		memberships:  memberships,
		capabilities: capabilities,
		permissions:  permissions,
		rules:        rules,
		cache:        cacheService,
		ttl:          ttl,
		tracer:       observability.Tracer("araponga/access"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasCapability reports whether the user holds an active capability of the
// given type in the territory. A user with no membership there has no
// capabilities; that answer is returned without caching, since the key space
// of absent memberships is unbounded.
func (e *Evaluator) HasCapability(ctx context.Context, userID, territoryID string, capability CapabilityType) (bool, error) {
	ctx, span := e.startSpan(ctx, queryCapability, userID, territoryID)
	defer span.End()
	defer e.observeDuration(queryCapability, time.Now())

	key := CapabilityKey(userID, territoryID, capability)
	if value, ok := e.cachedBool(ctx, queryCapability, key); ok {
		return value, nil
	}

	result, cacheIt, err := e.computeCapability(ctx, userID, territoryID, capability)
	if err != nil {
		e.recordFailure(queryCapability)
		return false, err
	}
	if cacheIt {
		e.storeBool(ctx, queryCapability, key, result)
	}
	e.recordOutcome(queryCapability, result)
	return result, nil
}

func (e *Evaluator) computeCapability(ctx context.Context, userID, territoryID string, capability CapabilityType) (result, cacheIt bool, err error) {
	membership, err := e.memberships.GetMembership(ctx, userID, territoryID)
	if err != nil {
		return false, false, UnavailableError("membership lookup failed", err)
	}
	if membership == nil {
		return false, false, nil
	}

	grants, err := e.capabilities.GetActiveCapabilities(ctx, membership.ID)
	if err != nil {
		return false, false, UnavailableError("capability lookup failed", err)
	}
	for _, grant := range grants {
		if grant.Type == capability && grant.IsActive() {
			return true, true, nil
		}
	}
	return false, true, nil
}

// HasSystemPermission reports whether the user holds an active platform-wide
// permission of the given type. The cache key has no territory dimension.
func (e *Evaluator) HasSystemPermission(ctx context.Context, userID string, permission PermissionType) (bool, error) {
	ctx, span := e.startSpan(ctx, queryPermission, userID, "")
	defer span.End()
	defer e.observeDuration(queryPermission, time.Now())

	key := SystemPermissionKey(userID, permission)
	if value, ok := e.cachedBool(ctx, queryPermission, key); ok {
		return value, nil
	}

	grant, err := e.permissions.GetActiveSystemPermission(ctx, userID, permission)
	if err != nil {
		e.recordFailure(queryPermission)
		return false, UnavailableError("system permission lookup failed", err)
	}
	result := grant != nil && grant.IsActive()
	e.storeBool(ctx, queryPermission, key, result)
	e.recordOutcome(queryPermission, result)
	return result, nil
}

// IsResident reports whether the user is a verified resident of the
// territory.
func (e *Evaluator) IsResident(ctx context.Context, userID, territoryID string) (bool, error) {
	ctx, span := e.startSpan(ctx, queryResident, userID, territoryID)
	defer span.End()
	defer e.observeDuration(queryResident, time.Now())

	key := ResidentKey(userID, territoryID)
	if value, ok := e.cachedBool(ctx, queryResident, key); ok {
		return value, nil
	}

	membership, err := e.memberships.GetMembership(ctx, userID, territoryID)
	if err != nil {
		e.recordFailure(queryResident)
		return false, UnavailableError("membership lookup failed", err)
	}
	result := e.rules.IsVerifiedResident(membership)
	e.storeBool(ctx, queryResident, key, result)
	e.recordOutcome(queryResident, result)
	return result, nil
}

// cachedRole is the serialized shape of a role lookup. The pointer keeps
// "no membership" distinguishable from a cache miss.
type cachedRole struct {
	Role *Role `json:"role"`
}

// GetRole returns the user's role in the territory, or nil when no active
// membership exists. The result is cached in every case, so callers can use
// it to prime the cache before checking dependent keys.
func (e *Evaluator) GetRole(ctx context.Context, userID, territoryID string) (*Role, error) {
	ctx, span := e.startSpan(ctx, queryRole, userID, territoryID)
	defer span.End()
	defer e.observeDuration(queryRole, time.Now())

	key := RoleKey(userID, territoryID)
	if data, err := e.cacheGet(ctx, key); err == nil {
		var cached cachedRole
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			e.recordHit(queryRole)
			return cached.Role, nil
		}
	}
	e.recordMiss(queryRole)

	membership, err := e.memberships.GetMembership(ctx, userID, territoryID)
	if err != nil {
		e.recordFailure(queryRole)
		return nil, UnavailableError("membership lookup failed", err)
	}

	var role *Role
	if membership != nil {
		r := membership.Role
		role = &r
	}
	if data, jsonErr := json.Marshal(cachedRole{Role: role}); jsonErr == nil {
		e.cacheSet(ctx, key, data)
	}
	return role, nil
}

// CanCreateStore reports whether the user may open a marketplace store in
// the territory: the cached resident answer gated by the marketplace flag.
func (e *Evaluator) CanCreateStore(ctx context.Context, userID, territoryID string) (bool, error) {
	return e.canUseMarketplace(ctx, userID, territoryID)
}

// CanCreateItem reports whether the user may list a marketplace item. Shares
// the store rule on purpose.
func (e *Evaluator) CanCreateItem(ctx context.Context, userID, territoryID string) (bool, error) {
	return e.canUseMarketplace(ctx, userID, territoryID)
}

func (e *Evaluator) canUseMarketplace(ctx context.Context, userID, territoryID string) (bool, error) {
	resident, err := e.IsResident(ctx, userID, territoryID)
	if err != nil {
		return false, err
	}
	if !resident {
		return false, nil
	}
	if e.rules.flags == nil {
		return true, nil
	}
	return e.rules.flags.Enabled(ctx, territoryID, FlagMarketplaceEnabled), nil
}

// cachedBool reads a cached boolean answer; any cache error counts as a miss.
func (e *Evaluator) cachedBool(ctx context.Context, query, key string) (value, ok bool) {
	data, err := e.cacheGet(ctx, key)
	if err != nil {
		e.recordMiss(query)
		return false, false
	}
	var result bool
	if err := json.Unmarshal(data, &result); err != nil {
		e.recordMiss(query)
		return false, false
	}
	e.recordHit(query)
	return result, true
}

func (e *Evaluator) storeBool(ctx context.Context, query, key string, value bool) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	e.cacheSet(ctx, key, data)
}

// cacheGet wraps cache.Get with error metrics. Returns cache.ErrMiss or the
// backend error; callers treat both as a miss.
func (e *Evaluator) cacheGet(ctx context.Context, key string) ([]byte, error) {
	if e.cache == nil {
		return nil, cache.ErrMiss
	}
	data, err := e.cache.Get(ctx, key)
	if err != nil && err != cache.ErrMiss {
		if e.metrics != nil {
			e.metrics.CacheErrorsTotal.WithLabelValues("get").Inc()
		}
		if e.logger != nil {
			e.logger.WithError(err).WithField("key", key).Warn("cache read failed, falling through to fact store")
		}
	}
	return data, err
}

// cacheSet stores a computed answer. Failures are logged and counted, never
// propagated: the cache is an optimization.
func (e *Evaluator) cacheSet(ctx context.Context, key string, data []byte) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.ttl); err != nil {
		if e.metrics != nil {
			e.metrics.CacheErrorsTotal.WithLabelValues("set").Inc()
		}
		if e.logger != nil {
			e.logger.WithError(err).WithField("key", key).Warn("cache write failed")
		}
	}
}

func (e *Evaluator) observeDuration(query string, start time.Time) {
	if e.metrics != nil {
		e.metrics.AccessCheckDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

func (e *Evaluator) startSpan(ctx context.Context, query, userID, territoryID string) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "access."+query)
	attrs := []attribute.KeyValue{attribute.String("access.user_id", userID)}
	if territoryID != "" {
		attrs = append(attrs, attribute.String("access.territory_id", territoryID))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

func (e *Evaluator) recordHit(query string) {
	if e.metrics != nil {
		e.metrics.CacheHitsTotal.WithLabelValues(query).Inc()
	}
}

func (e *Evaluator) recordMiss(query string) {
	if e.metrics != nil {
		e.metrics.CacheMissesTotal.WithLabelValues(query).Inc()
	}
}

func (e *Evaluator) recordFailure(query string) {
	if e.metrics != nil {
		e.metrics.AccessCheckFailures.WithLabelValues(query).Inc()
	}
}

func (e *Evaluator) recordOutcome(query string, allowed bool) {
	if e.metrics == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	e.metrics.AccessChecksTotal.WithLabelValues(query, outcome).Inc()
}
