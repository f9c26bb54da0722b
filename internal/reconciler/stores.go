package reconciler

import (
	"context"
	"time"

	"github.com/edvin/fleet/internal/model"
)

// NodeStore is the node persistence surface the reconciler needs, satisfied
// by *core.NodeService.
type NodeStore interface {
	List(ctx context.Context) ([]model.Node, error)
	ListByStatus(ctx context.Context, statuses ...model.NodeStatus) ([]model.Node, error)
	Resolve(ctx context.Context, idOrHostname string) (*model.Node, error)
	UpdateStatus(ctx context.Context, id string, status model.NodeStatus) error
	UpdateHeartbeat(ctx context.Context, id string, cpu, mem, disk float64, status model.NodeStatus, at time.Time) error
	SetRoles(ctx context.Context, id string, roles []string) error
}

// ServiceStore is satisfied by *core.ServiceService.
type ServiceStore interface {
	ListFailed(ctx context.Context, category string) ([]model.NodeService, error)
	UpdateStatus(ctx context.Context, nodeID, name string, status model.ServiceStatus) error
	Sync(ctx context.Context, nodeID string, reported []model.NodeService, at time.Time) error
}

// DeploymentStore is the slice of deployment persistence the auto-rollback
// scan needs, satisfied by *core.DeploymentService.
type DeploymentStore interface {
	LatestCompletedForNode(ctx context.Context, nodeID string, since time.Time) (*model.BlueGreenDeployment, error)
	ClaimAutoRollback(ctx context.Context, id string) (bool, error)
	SetPhase(ctx context.Context, id string, status model.DeploymentStatus, step string, progress int) error
	SetError(ctx context.Context, id string, status model.DeploymentStatus, errMsg string) error
	SetTimestamp(ctx context.Context, id, column string, at time.Time) error
}

// EventStore records append-only audit events, satisfied by
// *core.EventService.
type EventStore interface {
	Append(ctx context.Context, evt *model.NodeEvent) error
}

// SettingsStore reads runtime-tunable flags, satisfied by
// *core.SettingsService.
type SettingsStore interface {
	GetBool(ctx context.Context, key string, fallback bool) bool
	GetInt(ctx context.Context, key string, fallback int) int
	GetString(ctx context.Context, key, fallback string) string
}

// MaintenanceStore reports maintenance suppression windows, satisfied by
// *core.MaintenanceService.
type MaintenanceStore interface {
	ActiveForNode(ctx context.Context, nodeID string, at time.Time) (bool, error)
}
