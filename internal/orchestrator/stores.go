package orchestrator

import (
	"context"
	"time"

	"github.com/edvin/fleet/internal/model"
)

// NodeStore is the node persistence surface the orchestrator needs,
// satisfied by *core.NodeService.
type NodeStore interface {
	GetByID(ctx context.Context, id string) (*model.Node, error)
	List(ctx context.Context) ([]model.Node, error)
	SetRoles(ctx context.Context, id string, roles []string) error
	SwapRoles(ctx context.Context, blueID string, blueRoles []string, greenID string, greenRoles []string) error
}

// DeploymentStore is the deployment persistence surface, satisfied by
// *core.DeploymentService. Every phase commits its mutation through this
// interface before the next phase begins.
type DeploymentStore interface {
	Create(ctx context.Context, d *model.BlueGreenDeployment) error
	GetByID(ctx context.Context, id string) (*model.BlueGreenDeployment, error)
	ListUnfinished(ctx context.Context) ([]model.BlueGreenDeployment, error)
	SetPhase(ctx context.Context, id string, status model.DeploymentStatus, step string, progress int) error
	SetError(ctx context.Context, id string, status model.DeploymentStatus, errMsg string) error
	SetTimestamp(ctx context.Context, id, column string, at time.Time) error
	SetHealthFailures(ctx context.Context, id string, failures int) error
	ResetForRetry(ctx context.Context, id string) error
}

// EventStore records append-only audit events, satisfied by
// *core.EventService.
type EventStore interface {
	Append(ctx context.Context, evt *model.NodeEvent) error
}
