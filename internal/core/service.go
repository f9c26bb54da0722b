package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
)

type ServiceService struct {
	db DB
}

func NewServiceService(db DB) *ServiceService {
	return &ServiceService{db: db}
}

const serviceColumns = `node_id, name, status, enabled, category, last_checked`

func scanService(row interface{ Scan(dest ...any) error }) (model.NodeService, error) {
	var svc model.NodeService
	err := row.Scan(&svc.NodeID, &svc.Name, &svc.Status, &svc.Enabled, &svc.Category, &svc.LastChecked)
	return svc, err
}

func (s *ServiceService) ListByNode(ctx context.Context, nodeID string) ([]model.NodeService, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+serviceColumns+` FROM node_services WHERE node_id = $1 ORDER BY name`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list services for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var services []model.NodeService
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return services, nil
}

// ListFailed returns enabled services in the given category that are
// currently failed, across all nodes. Used by service-level remediation.
func (s *ServiceService) ListFailed(ctx context.Context, category string) ([]model.NodeService, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+serviceColumns+` FROM node_services
		 WHERE status = $1 AND enabled AND category = $2
		 ORDER BY node_id, name`,
		model.ServiceFailed, category)
	if err != nil {
		return nil, fmt.Errorf("list failed services: %w", err)
	}
	defer rows.Close()

	var services []model.NodeService
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return services, nil
}

func (s *ServiceService) UpdateStatus(ctx context.Context, nodeID, name string, status model.ServiceStatus) error {
	_, err := s.db.Exec(ctx,
		`UPDATE node_services SET status = $1, last_checked = now()
		 WHERE node_id = $2 AND name = $3`,
		status, nodeID, name)
	if err != nil {
		return fmt.Errorf("update service %s/%s status: %w", nodeID, name, err)
	}
	return nil
}

// Sync replaces a node's service inventory with the self-reported set from
// a heartbeat: matching services are upserted, services no longer reported
// are deleted.
func (s *ServiceService) Sync(ctx context.Context, nodeID string, reported []model.NodeService, at time.Time) error {
	names := make([]string, 0, len(reported))
	for _, svc := range reported {
		names = append(names, svc.Name)
		_, err := s.db.Exec(ctx,
			`INSERT INTO node_services (node_id, name, status, enabled, category, last_checked)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (node_id, name) DO UPDATE SET
			     status = EXCLUDED.status,
			     enabled = EXCLUDED.enabled,
			     category = EXCLUDED.category,
			     last_checked = EXCLUDED.last_checked`,
			nodeID, svc.Name, svc.Status, svc.Enabled, svc.Category, at)
		if err != nil {
			return fmt.Errorf("upsert service %s/%s: %w", nodeID, svc.Name, err)
		}
	}

	_, err := s.db.Exec(ctx,
		`DELETE FROM node_services WHERE node_id = $1 AND NOT (name = ANY($2))`,
		nodeID, names)
	if err != nil {
		return fmt.Errorf("delete stale services for node %s: %w", nodeID, err)
	}
	return nil
}
