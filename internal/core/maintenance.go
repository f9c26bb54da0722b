package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

type MaintenanceService struct {
	db DB
}

func NewMaintenanceService(db DB) *MaintenanceService {
	return &MaintenanceService{db: db}
}

func (s *MaintenanceService) Create(ctx context.Context, w *model.MaintenanceWindow) error {
	if w.ID == "" {
		w.ID = platform.NewName("mw")
	}
	w.CreatedAt = time.Now()

	_, err := s.db.Exec(ctx,
		`INSERT INTO maintenance_windows (id, node_id, reason, starts_at, ends_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.NodeID, w.Reason, w.StartsAt, w.EndsAt, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create maintenance window: %w", err)
	}
	return nil
}

// ActiveForNode reports whether the node is inside a maintenance window at
// the given time. Remediation is suppressed for such nodes.
func (s *MaintenanceService) ActiveForNode(ctx context.Context, nodeID string, at time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM maintenance_windows
		 WHERE node_id = $1 AND starts_at <= $2 AND ends_at > $2`,
		nodeID, at,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check maintenance window for node %s: %w", nodeID, err)
	}
	return count > 0, nil
}

func (s *MaintenanceService) ListByNode(ctx context.Context, nodeID string) ([]model.MaintenanceWindow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, node_id, reason, starts_at, ends_at, created_at
		 FROM maintenance_windows WHERE node_id = $1 ORDER BY starts_at DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list maintenance windows for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var windows []model.MaintenanceWindow
	for rows.Next() {
		var w model.MaintenanceWindow
		if err := rows.Scan(&w.ID, &w.NodeID, &w.Reason, &w.StartsAt, &w.EndsAt, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maintenance windows: %w", err)
	}
	return windows, nil
}
