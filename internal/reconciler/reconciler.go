package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/fleet/internal/broadcast"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/orchestrator"
	"github.com/edvin/fleet/internal/runner"
)

const (
	defaultHeartbeatTimeout = 120 * time.Second
	manifestPollInterval    = 60 * time.Second
	certCheckInterval       = 24 * time.Hour
)

var (
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_reconcile_duration_seconds",
		Help:    "Duration of each reconciliation cycle",
		Buckets: prometheus.DefBuckets,
	})
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_reconcile_total",
		Help: "Total reconciliation cycles",
	}, []string{"result"})
	remediationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_remediation_attempts_total",
		Help: "Remediation attempts by level and result",
	}, []string{"level", "result"})
	autoRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_auto_rollbacks_total",
		Help: "Rollbacks triggered by the degraded-node scan",
	})
)

// Reconciler drives observed fleet state toward desired state: it marks
// nodes with stale heartbeats, restarts degraded nodes and failed services
// within rate limits, and rolls back fresh deployments on nodes that turned
// unhealthy. One instance runs per process.
type Reconciler struct {
	logger      zerolog.Logger
	nodes       NodeStore
	services    ServiceStore
	deployments DeploymentStore
	events      EventStore
	settings    SettingsStore
	maintenance MaintenanceStore

	commands  runner.CommandRunner
	playbooks runner.PlaybookRunner
	pinger    runner.Pinger
	health    runner.HealthChecker
	publisher broadcast.Publisher

	interval  time.Duration
	manifests []Manifest

	trackMu  sync.Mutex
	trackers map[trackerKey]*tracker

	lastManifestPoll time.Time
	lastCertCheck    time.Time
}

func New(
	logger zerolog.Logger,
	nodes NodeStore,
	services ServiceStore,
	deployments DeploymentStore,
	events EventStore,
	settings SettingsStore,
	maintenance MaintenanceStore,
	commands runner.CommandRunner,
	playbooks runner.PlaybookRunner,
	pinger runner.Pinger,
	health runner.HealthChecker,
	publisher broadcast.Publisher,
	interval time.Duration,
	manifests []Manifest,
) *Reconciler {
	return &Reconciler{
		logger:      logger.With().Str("component", "reconciler").Logger(),
		nodes:       nodes,
		services:    services,
		deployments: deployments,
		events:      events,
		settings:    settings,
		maintenance: maintenance,
		commands:    commands,
		playbooks:   playbooks,
		pinger:      pinger,
		health:      health,
		publisher:   publisher,
		interval:    interval,
		manifests:   manifests,
		trackers:    make(map[trackerKey]*tracker),
	}
}

// RunLoop runs the periodic reconciliation loop until the context is
// cancelled.
func (r *Reconciler) RunLoop(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("starting reconciliation loop")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciliation loop stopped")
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		}
	}
}

// Tick performs one reconciliation cycle. Steps run in a fixed order; a
// failing step is logged and does not stop the later steps, but any step
// failure marks the cycle failed in the metrics.
func (r *Reconciler) Tick(ctx context.Context) error {
	if !r.settings.GetBool(ctx, model.SettingAutoReconcile, true) {
		r.logger.Debug().Msg("auto_reconcile disabled, skipping cycle")
		return nil
	}

	start := time.Now()
	var firstErr error
	record := func(step string, err error) {
		if err != nil {
			r.logger.Error().Err(err).Str("step", step).Msg("reconcile step failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", step, err)
			}
		}
	}

	record("node health check", r.checkNodeHealth(ctx))
	record("node remediation", r.remediateNodes(ctx))
	record("service remediation", r.remediateServices(ctx))
	record("auto-rollback scan", r.scanAutoRollback(ctx))
	record("role reconciliation", r.logRoleDrift(ctx))

	if time.Since(r.lastManifestPoll) >= manifestPollInterval {
		r.lastManifestPoll = time.Now()
		record("manifest polling", r.pollManifests(ctx))
	}
	if time.Since(r.lastCertCheck) >= certCheckInterval {
		r.lastCertCheck = time.Now()
		record("cert expiry check", r.checkCertExpiry(ctx))
	}

	duration := time.Since(start).Seconds()
	reconcileDuration.Observe(duration)
	if firstErr != nil {
		reconcileTotal.WithLabelValues("failure").Inc()
	} else {
		reconcileTotal.WithLabelValues("success").Inc()
		r.logger.Debug().Float64("duration_s", duration).Msg("reconciliation cycle completed")
	}
	return firstErr
}

// checkNodeHealth demotes nodes whose heartbeat went stale: still reachable
// means degraded, unreachable means offline. Nodes that never sent a
// heartbeat are left alone.
func (r *Reconciler) checkNodeHealth(ctx context.Context) error {
	nodes, err := r.nodes.List(ctx)
	if err != nil {
		return err
	}

	timeout := time.Duration(r.settings.GetInt(ctx, model.SettingHeartbeatTimeoutSecs, int(defaultHeartbeatTimeout.Seconds()))) * time.Second
	cutoff := time.Now().Add(-timeout)

	var stale []*model.Node
	for i := range nodes {
		n := &nodes[i]
		if n.LastHeartbeat == nil || n.LastHeartbeat.After(cutoff) {
			continue
		}
		stale = append(stale, n)
	}
	if len(stale) == 0 {
		return nil
	}

	// Probe in parallel so one unresponsive host does not stall the cycle
	// for the full ping timeout per node.
	reachable := make([]bool, len(stale))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, n := range stale {
		g.Go(func() error {
			reachable[i] = r.pinger.Ping(gctx, nodeAddress(n)) == nil
			return nil
		})
	}
	g.Wait()

	for i, n := range stale {
		next := model.NodeOffline
		if reachable[i] {
			next = model.NodeDegraded
		}
		if n.Status == next {
			continue
		}

		if err := r.nodes.UpdateStatus(ctx, n.ID, next); err != nil {
			return fmt.Errorf("mark node %s %s: %w", n.ID, next, err)
		}
		severity := model.SeverityWarning
		if next == model.NodeOffline {
			severity = model.SeverityError
		}
		r.recordEvent(ctx, n.ID, model.EventNodeStatusChanged, severity,
			fmt.Sprintf("node %s: no heartbeat for %s, status %s -> %s", n.Hostname, timeout, n.Status, next))
	}
	return nil
}

// logRoleDrift reports nodes holding roles outside the managed catalog.
// Observation only; nothing is changed.
func (r *Reconciler) logRoleDrift(ctx context.Context) error {
	nodes, err := r.nodes.List(ctx)
	if err != nil {
		return err
	}
	for i := range nodes {
		for _, role := range nodes[i].Roles {
			if !orchestrator.AllowedRole(role) {
				r.logger.Warn().Str("node", nodes[i].ID).Str("role", role).
					Msg("node holds a role outside the managed catalog")
			}
		}
	}
	return nil
}

// recordEvent appends an audit event and broadcasts it. Failures are logged
// and never fail the originating step.
func (r *Reconciler) recordEvent(ctx context.Context, nodeID, eventType, severity, message string) {
	r.recordEventDetails(ctx, nodeID, eventType, severity, message, nil)
}

// recordEventDetails is recordEvent with a structured details payload.
func (r *Reconciler) recordEventDetails(ctx context.Context, nodeID, eventType, severity, message string, details json.RawMessage) {
	if err := r.events.Append(ctx, &model.NodeEvent{
		NodeID:    nodeID,
		EventType: eventType,
		Severity:  severity,
		Message:   message,
		Details:   details,
	}); err != nil {
		r.logger.Warn().Err(err).Str("node", nodeID).Msg("failed to append node event")
	}
	r.publisher.Publish(broadcast.Event{
		Type:      "node",
		ID:        nodeID,
		EventType: eventType,
		Message:   message,
	})
}

func nodeAddress(n *model.Node) string {
	if n.IPAddress != nil && *n.IPAddress != "" {
		return *n.IPAddress
	}
	return n.Hostname
}

func nodeTarget(n *model.Node) runner.Target {
	port := n.SSHPort
	if port == 0 {
		port = 22
	}
	return runner.Target{Host: nodeAddress(n), User: n.SSHUser, Port: port}
}
