package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/fleet/internal/model"
)

const defaultRollbackWindow = 600 // seconds

// scanAutoRollback looks for nodes that turned unhealthy shortly after a
// completed deployment and takes the deployment's roles back off them. The
// auto_rollback_attempted flag is claimed before any work so a scan that
// crashes mid-rollback cannot storm the same deployment on the next tick.
func (r *Reconciler) scanAutoRollback(ctx context.Context) error {
	if !r.settings.GetBool(ctx, model.SettingAutoRollback, true) {
		return nil
	}

	window := time.Duration(r.settings.GetInt(ctx, model.SettingRollbackWindowSecs, defaultRollbackWindow)) * time.Second
	since := time.Now().Add(-window)

	unhealthy, err := r.nodes.ListByStatus(ctx, model.NodeDegraded, model.NodeError)
	if err != nil {
		return err
	}

	for i := range unhealthy {
		n := &unhealthy[i]

		d, err := r.deployments.LatestCompletedForNode(ctx, n.ID, since)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return err
		}

		claimed, err := r.deployments.ClaimAutoRollback(ctx, d.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}

		// The claim is latched, so this rollback is never retried. It must
		// run to completion even when the loop context is cancelled by a
		// shutdown, or the deployment is stranded in rolling_back.
		base := context.WithoutCancel(ctx)

		r.recordEvent(base, n.ID, model.EventDeploymentRollback, model.SeverityWarning,
			fmt.Sprintf("deployment %s: node %s unhealthy %s after completion, rolling back", d.ID, n.Hostname, time.Since(timeOrNow(d.CompletedAt)).Round(time.Second)))

		if err := r.rollbackDeployment(base, n, d); err != nil {
			r.logger.Error().Err(err).Str("deployment", d.ID).Str("node", n.ID).Msg("auto-rollback failed")
			msg := fmt.Sprintf("auto-rollback failed: %v", err)
			if serr := r.deployments.SetError(base, d.ID, model.DeploymentFailed, msg); serr != nil {
				r.logger.Error().Err(serr).Str("deployment", d.ID).Msg("failed to persist auto-rollback failure")
			}
			r.recordEvent(base, n.ID, model.EventDeploymentRollback, model.SeverityCritical,
				fmt.Sprintf("deployment %s: %s", d.ID, msg))
			continue
		}

		autoRollbacks.Inc()
		r.recordEvent(base, n.ID, model.EventDeploymentRollback, model.SeverityWarning,
			fmt.Sprintf("deployment %s rolled back off unhealthy node %s", d.ID, n.Hostname))
	}
	return nil
}

// rollbackDeployment takes a completed deployment's granted roles off its
// green node and marks the deployment rolled back. Unlike the in-flight
// rollback this never touches the blue node: by this point blue either kept
// its services or has been rebuilt, and re-running playbooks against an
// unrelated workload from a background scan is not safe.
func (r *Reconciler) rollbackDeployment(ctx context.Context, n *model.Node, d *model.BlueGreenDeployment) error {
	if err := r.deployments.SetPhase(ctx, d.ID, model.DeploymentRollingBack, "auto-rollback: removing roles from unhealthy node", d.ProgressPercent); err != nil {
		return err
	}

	remaining := make([]string, 0, len(n.Roles))
	for _, role := range n.Roles {
		granted := false
		for _, g := range d.BorrowedRoles {
			if g == role {
				granted = true
				break
			}
		}
		if !granted {
			remaining = append(remaining, role)
		}
	}
	if err := r.nodes.SetRoles(ctx, n.ID, remaining); err != nil {
		return fmt.Errorf("remove granted roles from node %s: %w", n.ID, err)
	}

	if err := r.deployments.SetTimestamp(ctx, d.ID, "rollback_at", time.Now()); err != nil {
		return err
	}
	return r.deployments.SetPhase(ctx, d.ID, model.DeploymentRolledBack, "auto-rollback complete", d.ProgressPercent)
}

func timeOrNow(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return time.Now()
}
