package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
)

type NodeService struct {
	db DB
}

func NewNodeService(db DB) *NodeService {
	return &NodeService{db: db}
}

const nodeColumns = `id, hostname, ip_address::text, ssh_user, ssh_port, roles, status,
	cpu_percent, memory_percent, disk_percent, last_heartbeat, created_at, updated_at`

func scanNode(row interface{ Scan(dest ...any) error }) (model.Node, error) {
	var n model.Node
	err := row.Scan(&n.ID, &n.Hostname, &n.IPAddress, &n.SSHUser, &n.SSHPort,
		&n.Roles, &n.Status, &n.CPUPercent, &n.MemoryPercent, &n.DiskPercent,
		&n.LastHeartbeat, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func (s *NodeService) Create(ctx context.Context, node *model.Node) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO nodes (id, hostname, ip_address, ssh_user, ssh_port, roles, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		node.ID, node.Hostname, node.IPAddress, node.SSHUser, node.SSHPort,
		node.Roles, node.Status, node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	return nil
}

func (s *NodeService) GetByID(ctx context.Context, id string) (*model.Node, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	n, err := scanNode(row)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return &n, nil
}

func (s *NodeService) GetByHostname(ctx context.Context, hostname string) (*model.Node, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE hostname = $1`, hostname)
	n, err := scanNode(row)
	if err != nil {
		return nil, fmt.Errorf("get node by hostname %s: %w", hostname, err)
	}
	return &n, nil
}

// Resolve looks a node up by ID, falling back to hostname. Heartbeats may
// identify the node either way.
func (s *NodeService) Resolve(ctx context.Context, idOrHostname string) (*model.Node, error) {
	node, err := s.GetByID(ctx, idOrHostname)
	if err == nil {
		return node, nil
	}
	node, err = s.GetByHostname(ctx, idOrHostname)
	if err != nil {
		return nil, fmt.Errorf("resolve node %q: %w", idOrHostname, err)
	}
	return node, nil
}

func (s *NodeService) List(ctx context.Context) ([]model.Node, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+nodeColumns+` FROM nodes ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

func (s *NodeService) ListByStatus(ctx context.Context, statuses ...model.NodeStatus) ([]model.Node, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE status = ANY($1) ORDER BY hostname`, statuses)
	if err != nil {
		return nil, fmt.Errorf("list nodes by status: %w", err)
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

func (s *NodeService) UpdateStatus(ctx context.Context, id string, status model.NodeStatus) error {
	_, err := s.db.Exec(ctx,
		`UPDATE nodes SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update node %s status: %w", id, err)
	}
	return nil
}

// UpdateHeartbeat records the metrics and status from a heartbeat report.
func (s *NodeService) UpdateHeartbeat(ctx context.Context, id string, cpu, mem, disk float64, status model.NodeStatus, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE nodes SET cpu_percent = $1, memory_percent = $2, disk_percent = $3,
		        status = $4, last_heartbeat = $5, updated_at = now()
		 WHERE id = $6`,
		cpu, mem, disk, status, at, id)
	if err != nil {
		return fmt.Errorf("update node %s heartbeat: %w", id, err)
	}
	return nil
}

func (s *NodeService) SetRoles(ctx context.Context, id string, roles []string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE nodes SET roles = $1, updated_at = now() WHERE id = $2`, roles, id)
	if err != nil {
		return fmt.Errorf("set roles on node %s: %w", id, err)
	}
	return nil
}

// SwapRoles reassigns the role sets of the blue and green nodes in a single
// statement so the switch commits atomically.
func (s *NodeService) SwapRoles(ctx context.Context, blueID string, blueRoles []string, greenID string, greenRoles []string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE nodes SET
		    roles = CASE id WHEN $1 THEN $2::text[] WHEN $3 THEN $4::text[] END,
		    updated_at = now()
		 WHERE id IN ($1, $3)`,
		blueID, blueRoles, greenID, greenRoles)
	if err != nil {
		return fmt.Errorf("swap roles between %s and %s: %w", blueID, greenID, err)
	}
	return nil
}
