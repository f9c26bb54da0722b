package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/broadcast"
	"github.com/edvin/fleet/internal/model"
)

// startMonitor launches the post-deploy monitoring task for a deployment.
// The task is independently cancellable: cancelling it is a clean stop
// with no side effect, used when a manual operation supersedes it.
func (o *Orchestrator) startMonitor(id string) {
	monitorCtx, cancel := context.WithCancel(o.baseCtx)

	o.mu.Lock()
	o.monitors[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.monitors, id)
			o.mu.Unlock()
			cancel()
		}()
		o.runMonitor(monitorCtx, id)
	}()
}

// cancelMonitor stops a running monitoring task, if any.
func (o *Orchestrator) cancelMonitor(id string) {
	o.mu.Lock()
	cancel, ok := o.monitors[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// runMonitor watches a freshly-switched deployment for the configured
// window. Consecutive failed health checks up to the threshold trigger
// exactly one automatic rollback; a clean window completes the deployment.
func (o *Orchestrator) runMonitor(ctx context.Context, id string) {
	logger := o.logger.With().Str("deployment", id).Logger()
	failures := 0

	for {
		if ctx.Err() != nil {
			logger.Info().Msg("monitoring task cancelled")
			return
		}

		// Re-read every iteration: a manual rollback, cancel or complete
		// supersedes this task.
		d, err := o.deployments.GetByID(ctx, id)
		if err != nil {
			logger.Error().Err(err).Msg("monitoring task could not load deployment")
			return
		}
		if d.Status != model.DeploymentMonitoring && d.Status != model.DeploymentActive {
			logger.Info().Str("status", string(d.Status)).Msg("deployment superseded, monitoring stopping")
			return
		}

		windowEnd := d.CreatedAt.Add(time.Duration(d.MonitorDuration) * time.Second)
		if d.MonitoringStartedAt != nil {
			windowEnd = d.MonitoringStartedAt.Add(time.Duration(d.MonitorDuration) * time.Second)
		}
		if time.Now().After(windowEnd) {
			base := context.WithoutCancel(ctx)
			if err := o.complete(base, d); err != nil {
				logger.Error().Err(err).Msg("failed to complete monitored deployment")
			}
			return
		}

		if o.greenHealthy(ctx, d) {
			if failures != 0 {
				failures = 0
				if err := o.deployments.SetHealthFailures(ctx, d.ID, 0); err != nil {
					logger.Warn().Err(err).Msg("failed to reset health failure counter")
				}
			}
		} else {
			failures++
			if err := o.deployments.SetHealthFailures(ctx, d.ID, failures); err != nil {
				logger.Warn().Err(err).Msg("failed to persist health failure counter")
			}
			o.publisher.Publish(broadcast.Event{
				Type:      "deployment",
				ID:        d.ID,
				EventType: model.EventMonitorHealthFailure,
				Message:   fmt.Sprintf("health check failed (%d/%d)", failures, d.HealthFailureThreshold),
			})
			logger.Warn().Int("failures", failures).Int("threshold", d.HealthFailureThreshold).
				Msg("post-deploy health check failed")

			if failures >= d.HealthFailureThreshold {
				base := context.WithoutCancel(ctx)
				monitorRollbacks.Inc()
				o.recordEvent(base, d.GreenNodeID, model.EventDeploymentRollback, model.SeverityWarning,
					fmt.Sprintf("deployment %s: %d consecutive health failures, rolling back", d.ID, failures))
				o.runRollback(base, d.ID)
				return
			}
		}

		if err := sleepCtx(ctx, time.Duration(d.HealthCheckInterval)*time.Second); err != nil {
			logger.Info().Msg("monitoring task cancelled")
			return
		}
	}
}
