package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/runner"
)

const (
	nodeRemediationCooldown    = 5 * time.Minute
	nodeRemediationCap         = 3
	serviceRemediationCooldown = 2 * time.Minute
	serviceRemediationCap      = 3

	// Only services in this category are restarted automatically.
	managedCategory = "managed"
)

// trackerKey identifies a remediation tracker. Service is empty for
// node-level trackers.
type trackerKey struct {
	NodeID  string
	Service string
}

type tracker struct {
	attempts    int
	lastAttempt time.Time
	exhausted   bool
}

func (r *Reconciler) trackerFor(key trackerKey) *tracker {
	r.trackMu.Lock()
	defer r.trackMu.Unlock()
	tr, ok := r.trackers[key]
	if !ok {
		tr = &tracker{}
		r.trackers[key] = tr
	}
	return tr
}

// ResetRemediationTracker clears the node-level tracker, re-enabling
// automatic attempts after an exhausted cap.
func (r *Reconciler) ResetRemediationTracker(nodeID string) {
	r.trackMu.Lock()
	defer r.trackMu.Unlock()
	delete(r.trackers, trackerKey{NodeID: nodeID})
}

// ResetServiceRemediationTracker clears the tracker for one service on one
// node.
func (r *Reconciler) ResetServiceRemediationTracker(nodeID, service string) {
	r.trackMu.Lock()
	defer r.trackMu.Unlock()
	delete(r.trackers, trackerKey{NodeID: nodeID, Service: service})
}

// enforcementMode decides whether a remediation action actually executes.
// One implementation per mode; selected from settings at call time.
type enforcementMode interface {
	name() string
	execute(action func() error) (attempted bool, err error)
}

type enforceMode struct{}

func (enforceMode) name() string { return "enforce" }
func (enforceMode) execute(action func() error) (bool, error) {
	return true, action()
}

// warnMode records what would have been done without doing it.
type warnMode struct{}

func (warnMode) name() string                       { return "warn" }
func (warnMode) execute(func() error) (bool, error) { return false, nil }

// monitorMode observes only; callers skip even the warning event.
type monitorMode struct{}

func (monitorMode) name() string                       { return "monitor-only" }
func (monitorMode) execute(func() error) (bool, error) { return false, nil }

func (r *Reconciler) currentMode(ctx context.Context) enforcementMode {
	switch r.settings.GetString(ctx, model.SettingRemediationMode, "enforce") {
	case "warn":
		return warnMode{}
	case "monitor-only":
		return monitorMode{}
	default:
		return enforceMode{}
	}
}

// remediateNodes restarts the agent on degraded nodes, at most once per
// cooldown and capped per node. The cap latches: once exhausted, a single
// human-intervention event is emitted and nothing more happens until the
// tracker is reset.
func (r *Reconciler) remediateNodes(ctx context.Context) error {
	if !r.settings.GetBool(ctx, model.SettingAutoRemediate, true) {
		return nil
	}
	mode := r.currentMode(ctx)

	degraded, err := r.nodes.ListByStatus(ctx, model.NodeDegraded)
	if err != nil {
		return err
	}

	for i := range degraded {
		n := &degraded[i]
		if r.underMaintenance(ctx, n.ID) {
			continue
		}

		tr := r.trackerFor(trackerKey{NodeID: n.ID})
		if tr.exhausted {
			continue
		}
		if tr.attempts >= nodeRemediationCap {
			tr.exhausted = true
			remediationAttempts.WithLabelValues("node", "exhausted").Inc()
			r.recordEvent(ctx, n.ID, model.EventRemediationExhausted, model.SeverityCritical,
				fmt.Sprintf("node %s: %d remediation attempts failed, human intervention required", n.Hostname, tr.attempts))
			continue
		}
		if time.Since(tr.lastAttempt) < nodeRemediationCooldown {
			continue
		}
		tr.lastAttempt = time.Now()

		if _, ok := mode.(monitorMode); ok {
			r.logger.Info().Str("node", n.ID).Msg("node degraded, remediation in monitor-only mode")
			continue
		}

		r.recordEvent(ctx, n.ID, model.EventRemediationStarted, model.SeverityInfo,
			fmt.Sprintf("node %s: restarting agent (attempt %d/%d, mode %s)", n.Hostname, tr.attempts+1, nodeRemediationCap, mode.name()))

		attempted, err := mode.execute(func() error {
			return r.playbooks.RestartAgent(ctx, nodeTarget(n))
		})
		if !attempted {
			r.recordEvent(ctx, n.ID, model.EventRemediationResult, model.SeverityWarning,
				fmt.Sprintf("node %s: agent restart skipped (mode %s)", n.Hostname, mode.name()))
			continue
		}
		if err != nil {
			tr.attempts++
			remediationAttempts.WithLabelValues("node", "failure").Inc()
			r.recordEvent(ctx, n.ID, model.EventRemediationResult, model.SeverityWarning,
				fmt.Sprintf("node %s: agent restart failed (attempt %d/%d): %v", n.Hostname, tr.attempts, nodeRemediationCap, err))
			continue
		}
		tr.attempts = 0
		remediationAttempts.WithLabelValues("node", "success").Inc()
		r.recordEvent(ctx, n.ID, model.EventRemediationResult, model.SeverityInfo,
			fmt.Sprintf("node %s: agent restarted", n.Hostname))
	}
	return nil
}

// remediateServices restarts failed managed services over SSH. Same tracker
// pattern as node remediation with a shorter cooldown.
func (r *Reconciler) remediateServices(ctx context.Context) error {
	if !r.settings.GetBool(ctx, model.SettingAutoRestartServices, true) {
		return nil
	}
	mode := r.currentMode(ctx)

	failed, err := r.services.ListFailed(ctx, managedCategory)
	if err != nil {
		return err
	}

	for _, svc := range failed {
		if !svc.Enabled {
			continue
		}
		node, err := r.nodes.Resolve(ctx, svc.NodeID)
		if err != nil {
			r.logger.Warn().Err(err).Str("node", svc.NodeID).Str("service", svc.Name).
				Msg("failed service on unknown node")
			continue
		}
		if node.Status == model.NodeOffline {
			continue
		}
		if r.underMaintenance(ctx, node.ID) {
			continue
		}
		if err := runner.ValidateName(svc.Name); err != nil {
			r.logger.Error().Err(err).Str("node", node.ID).Str("service", svc.Name).
				Msg("refusing to restart service with unsafe name")
			continue
		}

		tr := r.trackerFor(trackerKey{NodeID: node.ID, Service: svc.Name})
		if tr.exhausted {
			continue
		}
		if tr.attempts >= serviceRemediationCap {
			tr.exhausted = true
			remediationAttempts.WithLabelValues("service", "exhausted").Inc()
			r.recordEvent(ctx, node.ID, model.EventRemediationExhausted, model.SeverityCritical,
				fmt.Sprintf("service %s on node %s: %d restart attempts failed, human intervention required", svc.Name, node.Hostname, tr.attempts))
			continue
		}
		if time.Since(tr.lastAttempt) < serviceRemediationCooldown {
			continue
		}
		tr.lastAttempt = time.Now()

		if _, ok := mode.(monitorMode); ok {
			r.logger.Info().Str("node", node.ID).Str("service", svc.Name).
				Msg("service failed, remediation in monitor-only mode")
			continue
		}

		r.recordEvent(ctx, node.ID, model.EventRemediationStarted, model.SeverityInfo,
			fmt.Sprintf("service %s on node %s: restarting (attempt %d/%d, mode %s)", svc.Name, node.Hostname, tr.attempts+1, serviceRemediationCap, mode.name()))

		attempted, err := mode.execute(func() error {
			return r.commands.RestartService(ctx, nodeTarget(node), svc.Name)
		})
		if !attempted {
			r.recordEvent(ctx, node.ID, model.EventRemediationResult, model.SeverityWarning,
				fmt.Sprintf("service %s on node %s: restart skipped (mode %s)", svc.Name, node.Hostname, mode.name()))
			continue
		}
		if err != nil {
			tr.attempts++
			remediationAttempts.WithLabelValues("service", "failure").Inc()
			r.recordEvent(ctx, node.ID, model.EventRemediationResult, model.SeverityWarning,
				fmt.Sprintf("service %s on node %s: restart failed (attempt %d/%d): %v", svc.Name, node.Hostname, tr.attempts, serviceRemediationCap, err))
			continue
		}
		tr.attempts = 0
		remediationAttempts.WithLabelValues("service", "success").Inc()
		if err := r.services.UpdateStatus(ctx, node.ID, svc.Name, model.ServiceRunning); err != nil {
			r.logger.Warn().Err(err).Str("node", node.ID).Str("service", svc.Name).
				Msg("failed to record restarted service status")
		}
		r.recordEvent(ctx, node.ID, model.EventRemediationResult, model.SeverityInfo,
			fmt.Sprintf("service %s on node %s: restarted", svc.Name, node.Hostname))
	}
	return nil
}

// underMaintenance reports whether automatic remediation is suppressed for
// the node right now. Lookup failures suppress remediation: acting on a
// node we cannot check is worse than waiting a tick.
func (r *Reconciler) underMaintenance(ctx context.Context, nodeID string) bool {
	active, err := r.maintenance.ActiveForNode(ctx, nodeID, time.Now())
	if err != nil {
		r.logger.Warn().Err(err).Str("node", nodeID).Msg("maintenance window lookup failed")
		return true
	}
	return active
}
