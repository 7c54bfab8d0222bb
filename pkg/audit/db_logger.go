package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger writes audit events to an audit_events table for queryable
// history.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger.
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// Migrate creates the audit_events table if it does not exist.
func (l *DBLogger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			territory_id TEXT,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			reason TEXT,
			details TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_audit_events_subject_id ON audit_events(subject_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to index audit_events: %w", err)
	}
	return nil
}

// Log inserts the event.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var details interface{}
	if event.Details != nil {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = string(data)
	}

	query := `
		INSERT INTO audit_events
			(id, timestamp, event_type, status, actor_id, subject_id,
			 territory_id, resource_type, resource_id, reason, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.EventType),
		string(event.Status),
		event.ActorID,
		event.SubjectID,
		nullIfEmpty(event.TerritoryID),
		string(event.ResourceType),
		event.ResourceID,
		nullIfEmpty(event.Reason),
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the connection is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

// QueryBySubject returns the events for a subject, newest first.
func (l *DBLogger) QueryBySubject(ctx context.Context, subjectID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, timestamp, event_type, status, actor_id, subject_id,
		       territory_id, resource_type, resource_id, reason, details
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType, status, resourceType string
		var territoryID, reason, details sql.NullString
		err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&eventType,
			&status,
			&e.ActorID,
			&e.SubjectID,
			&territoryID,
			&resourceType,
			&e.ResourceID,
			&reason,
			&details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Status = EventStatus(status)
		e.ResourceType = ResourceType(resourceType)
		e.TerritoryID = territoryID.String
		e.Reason = reason.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return events, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
