package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeMembershipEnter   EventType = "access.membership_enter"
	EventTypeResidencyGrant    EventType = "access.residency_grant"
	EventTypeVerificationSet   EventType = "access.verification_set"
	EventTypeMembershipRevoke  EventType = "access.membership_revoke"
	EventTypeCapabilityGrant   EventType = "access.capability_grant"
	EventTypeCapabilityRevoke  EventType = "access.capability_revoke"
	EventTypePermissionGrant   EventType = "access.permission_grant"
	EventTypePermissionRevoke  EventType = "access.permission_revoke"
)

// EventStatus represents the outcome of the audited operation
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
)

// ResourceType identifies what kind of access fact was touched
type ResourceType string

const (
	ResourceMembership       ResourceType = "membership"
	ResourceCapability       ResourceType = "capability"
	ResourceSystemPermission ResourceType = "system_permission"
)

// Event is a single audit record. ActorID is who performed the operation,
// SubjectID is whose access changed.
type Event struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	Status       EventStatus            `json:"status"`
	ActorID      string                 `json:"actor_id"`
	SubjectID    string                 `json:"subject_id"`
	TerritoryID  string                 `json:"territory_id,omitempty"`
	ResourceType ResourceType           `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Reason       string                 `json:"reason,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// NewEvent creates an event stamped with a fresh id and the current time.
func NewEvent(eventType EventType, status EventStatus, actorID, subjectID string, resourceType ResourceType, resourceID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       status,
		ActorID:      actorID,
		SubjectID:    subjectID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithTerritory sets the territory dimension.
func (e *Event) WithTerritory(territoryID string) *Event {
	e.TerritoryID = territoryID
	return e
}

// WithReason sets the operator-supplied reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithDetail attaches a key/value detail.
func (e *Event) WithDetail(key string, value interface{}) *Event {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
