package orchestrator

import (
	"context"
	"fmt"

	"github.com/edvin/fleet/internal/model"
)

// StatusError reports a manual operation attempted in the wrong phase.
type StatusError struct {
	Op     string
	Status model.DeploymentStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s deployment in status %s", e.Op, e.Status)
}

func statusError(op string, status model.DeploymentStatus) error {
	return &StatusError{Op: op, Status: status}
}

// SwitchTraffic manually performs the blue-to-green switch. Only valid
// while the deployment is verifying; the background task observes the
// advanced status and stops cleanly.
func (o *Orchestrator) SwitchTraffic(ctx context.Context, id string) error {
	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != model.DeploymentVerifying {
		return statusError("switch traffic for", d.Status)
	}

	if err := o.switchTraffic(ctx, d); err != nil {
		o.runRollback(ctx, d.ID)
		return err
	}
	return o.enterActive(ctx, d)
}

// Rollback manually rolls a deployment back. Valid once the switch has
// happened: active, monitoring, or completed. A running monitoring task is
// cancelled first so only this rollback runs.
func (o *Orchestrator) Rollback(ctx context.Context, id string) error {
	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch d.Status {
	case model.DeploymentActive, model.DeploymentMonitoring, model.DeploymentCompleted:
	case model.DeploymentPending, model.DeploymentBorrowing, model.DeploymentDeploying,
		model.DeploymentVerifying, model.DeploymentSwitching:
		// Before the switch, cancelling the deployment task is the way to
		// trigger rollback.
		return statusError("roll back", d.Status)
	case model.DeploymentRollingBack, model.DeploymentRolledBack, model.DeploymentFailed:
		return statusError("roll back", d.Status)
	}

	o.cancelMonitor(id)
	o.runRollback(ctx, id)

	final, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if final.Status != model.DeploymentRolledBack {
		return fmt.Errorf("rollback of deployment %s ended in status %s: %s", id, final.Status, final.Error)
	}
	return nil
}

// Cancel aborts a deployment that has not started executing phases. Only
// valid while pending; once phases run, cancelling the task (or a manual
// rollback after the switch) is the way to abort.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != model.DeploymentPending {
		return statusError("cancel", d.Status)
	}

	o.cancelTask(id)
	if err := o.deployments.SetError(ctx, id, model.DeploymentFailed, "cancelled by operator"); err != nil {
		return err
	}
	o.recordEvent(ctx, d.GreenNodeID, model.EventDeploymentStatus, model.SeverityWarning,
		fmt.Sprintf("deployment %s cancelled by operator", id))
	return nil
}

// Retry restarts a failed deployment from the beginning. Both nodes must
// still exist.
func (o *Orchestrator) Retry(ctx context.Context, id string) error {
	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != model.DeploymentFailed {
		return statusError("retry", d.Status)
	}

	if _, err := o.nodes.GetByID(ctx, d.BlueNodeID); err != nil {
		return fmt.Errorf("retry deployment %s: blue node unavailable: %w", id, err)
	}
	if _, err := o.nodes.GetByID(ctx, d.GreenNodeID); err != nil {
		return fmt.Errorf("retry deployment %s: green node unavailable: %w", id, err)
	}

	if err := o.deployments.ResetForRetry(ctx, id); err != nil {
		return err
	}
	o.logger.Info().Str("deployment", id).Msg("retrying failed deployment")
	o.startTask(id)
	return nil
}
