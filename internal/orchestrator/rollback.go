package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
)

// runRollback executes the rollback algorithm for a deployment: stop the
// borrowed role services on green, redeploy the roles onto blue, restore
// both role sets, then best-effort purge the borrowed roles from green.
// An error anywhere in the required sequence marks the deployment failed
// with a distinguishing message; the rollback is never retried.
func (o *Orchestrator) runRollback(ctx context.Context, id string) {
	// The rollback must run to completion even when the caller goes away:
	// a client disconnect mid-rollback would otherwise leave the
	// deployment stuck in rolling_back with green's services stopped.
	ctx = context.WithoutCancel(ctx)

	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		o.logger.Error().Err(err).Str("deployment", id).Msg("rollback could not load deployment")
		return
	}

	if err := o.setPhase(ctx, d, model.DeploymentRollingBack, "rolling back deployment", d.ProgressPercent); err != nil {
		o.logger.Error().Err(err).Str("deployment", id).Msg("rollback could not persist status")
		return
	}

	if err := o.rollbackSteps(ctx, d); err != nil {
		deploymentOutcomes.WithLabelValues("rollback_failed").Inc()
		msg := fmt.Sprintf("rollback failed: %v", err)
		o.logger.Error().Err(err).Str("deployment", d.ID).Msg("rollback failed")
		if serr := o.deployments.SetError(ctx, d.ID, model.DeploymentFailed, msg); serr != nil {
			o.logger.Error().Err(serr).Str("deployment", d.ID).Msg("failed to persist rollback failure")
		}
		o.recordEvent(ctx, d.GreenNodeID, model.EventDeploymentRollback, model.SeverityCritical,
			fmt.Sprintf("deployment %s: %s", d.ID, msg))
		return
	}

	deploymentOutcomes.WithLabelValues("rolled_back").Inc()
	o.recordEvent(ctx, d.GreenNodeID, model.EventDeploymentRollback, model.SeverityWarning,
		fmt.Sprintf("deployment %s rolled back", d.ID))
	o.logger.Info().Str("deployment", d.ID).Msg("deployment rolled back")
}

func (o *Orchestrator) rollbackSteps(ctx context.Context, d *model.BlueGreenDeployment) error {
	blue, err := o.nodes.GetByID(ctx, d.BlueNodeID)
	if err != nil {
		return fmt.Errorf("load blue node: %w", err)
	}
	green, err := o.nodes.GetByID(ctx, d.GreenNodeID)
	if err != nil {
		return fmt.Errorf("load green node: %w", err)
	}

	// Stop the borrowed role services on green so the roles cannot serve
	// from two nodes while blue is restored.
	for _, role := range d.BorrowedRoles {
		for _, unit := range ServicesFor(role) {
			if err := o.commands.StopService(ctx, nodeTarget(green), unit); err != nil {
				return fmt.Errorf("stop %s on green node %s: %w", unit, green.ID, err)
			}
		}
	}

	// Redeploy the migrated roles back onto blue.
	if err := o.playbooks.DeployRoles(ctx, nodeTarget(blue), d.BlueRoles); err != nil {
		return fmt.Errorf("redeploy roles to blue node %s: %w", blue.ID, err)
	}

	// Restore role set membership: blue regains the roles, green returns
	// to its pre-deployment set.
	blueAfter := unionRoles(blue.Roles, d.BlueRoles)
	if err := o.nodes.SwapRoles(ctx, blue.ID, blueAfter, green.ID, d.GreenOriginalRoles); err != nil {
		return err
	}

	// Purging the borrowed roles from green is best effort: a failure here
	// does not change the rollback outcome.
	if err := o.playbooks.PurgeRoles(ctx, nodeTarget(green), d.BorrowedRoles); err != nil {
		o.logger.Warn().Err(err).Str("deployment", d.ID).Str("node", green.ID).
			Msg("best-effort purge of borrowed roles failed")
	}

	if err := o.deployments.SetTimestamp(ctx, d.ID, "rollback_at", time.Now()); err != nil {
		return err
	}
	return o.setPhase(ctx, d, model.DeploymentRolledBack, "rollback complete", d.ProgressPercent)
}
