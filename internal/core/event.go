package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

type EventService struct {
	db DB
}

func NewEventService(db DB) *EventService {
	return &EventService{db: db}
}

// Append records a node event. Events are append-only audit history.
func (s *EventService) Append(ctx context.Context, evt *model.NodeEvent) error {
	if evt.ID == "" {
		evt.ID = platform.NewID()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	if evt.Details == nil {
		evt.Details = []byte("{}")
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO node_events (id, node_id, event_type, severity, message, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID, evt.NodeID, evt.EventType, evt.Severity, evt.Message, evt.Details, evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("append node event: %w", err)
	}
	return nil
}

// ListByNode returns events for a node newest-first with cursor pagination.
func (s *EventService) ListByNode(ctx context.Context, nodeID string, limit int, cursor string) ([]model.NodeEvent, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var query string
	var args []any
	if cursor != "" {
		query = `SELECT id, node_id, event_type, severity, message, details, created_at
		         FROM node_events
		         WHERE node_id = $1 AND created_at < (SELECT created_at FROM node_events WHERE id = $2)
		         ORDER BY created_at DESC LIMIT $3`
		args = []any{nodeID, cursor, limit + 1}
	} else {
		query = `SELECT id, node_id, event_type, severity, message, details, created_at
		         FROM node_events
		         WHERE node_id = $1
		         ORDER BY created_at DESC LIMIT $2`
		args = []any{nodeID, limit + 1}
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list events for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var events []model.NodeEvent
	for rows.Next() {
		var evt model.NodeEvent
		if err := rows.Scan(&evt.ID, &evt.NodeID, &evt.EventType, &evt.Severity,
			&evt.Message, &evt.Details, &evt.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan node event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate node events: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}
