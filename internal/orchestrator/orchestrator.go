package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/broadcast"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
	"github.com/edvin/fleet/internal/runner"
)

// ValidationError reports an invalid deployment request. It names the exact
// violated condition and is surfaced synchronously to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid deployment request: %s: %s", e.Field, e.Message)
}

// errSuperseded signals that another actor advanced the deployment while a
// task was running; the task stops cleanly without marking failure.
var errSuperseded = errors.New("deployment superseded")

var (
	deploymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_deployments_total",
		Help: "Deployments by terminal outcome",
	}, []string{"outcome"})
	monitorRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_monitor_rollbacks_total",
		Help: "Automatic rollbacks triggered by post-deploy monitoring",
	})
)

// CreateParams is a validated blue-green deployment request.
type CreateParams struct {
	BlueNodeID  string
	GreenNodeID string
	Roles       []string

	HealthCheckURL      string
	HealthCheckInterval int
	HealthCheckTimeout  int

	AutoRollback           bool
	MonitorDuration        int
	HealthFailureThreshold int
	PurgeOnComplete        bool
}

// Orchestrator owns the blue-green deployment state machine. One task runs
// per active deployment and one per active monitoring window; both are
// independently cancellable and tracked in mutex-guarded registries.
type Orchestrator struct {
	logger      zerolog.Logger
	nodes       NodeStore
	deployments DeploymentStore
	events      EventStore
	commands    runner.CommandRunner
	playbooks   runner.PlaybookRunner
	health      runner.HealthChecker
	publisher   broadcast.Publisher

	baseCtx context.Context

	mu       sync.Mutex
	tasks    map[string]context.CancelFunc
	monitors map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func New(
	logger zerolog.Logger,
	nodes NodeStore,
	deployments DeploymentStore,
	events EventStore,
	commands runner.CommandRunner,
	playbooks runner.PlaybookRunner,
	health runner.HealthChecker,
	publisher broadcast.Publisher,
) *Orchestrator {
	return &Orchestrator{
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		nodes:       nodes,
		deployments: deployments,
		events:      events,
		commands:    commands,
		playbooks:   playbooks,
		health:      health,
		publisher:   publisher,
		baseCtx:     context.Background(),
		tasks:       make(map[string]context.CancelFunc),
		monitors:    make(map[string]context.CancelFunc),
	}
}

// Start binds deployment tasks to a base context and fails over any
// deployments left mid-phase by a previous process. There is no automatic
// resume: a restart parks in-flight work as failed for manual review.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.baseCtx = ctx

	stuck, err := o.deployments.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	for _, d := range stuck {
		msg := fmt.Sprintf("orchestrator restarted while deployment was in status %s; manual review required", d.Status)
		if err := o.deployments.SetError(ctx, d.ID, model.DeploymentFailed, msg); err != nil {
			return fmt.Errorf("startup reconciliation: %w", err)
		}
		o.recordEvent(ctx, d.GreenNodeID, model.EventDeploymentStatus, model.SeverityError,
			fmt.Sprintf("deployment %s failed: %s", d.ID, msg))
		o.logger.Warn().Str("deployment", d.ID).Str("status", string(d.Status)).
			Msg("failed stuck deployment on startup")
	}
	return nil
}

// Wait blocks until all deployment and monitoring tasks have exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// CreateDeployment validates the request, persists a pending deployment
// record and starts the asynchronous deployment task.
func (o *Orchestrator) CreateDeployment(ctx context.Context, params CreateParams) (*model.BlueGreenDeployment, error) {
	blue, err := o.nodes.GetByID(ctx, params.BlueNodeID)
	if err != nil {
		return nil, &ValidationError{Field: "blue_node_id", Message: fmt.Sprintf("node %s not found", params.BlueNodeID)}
	}
	if blue.Status != model.NodeOnline && blue.Status != model.NodeDegraded {
		return nil, &ValidationError{Field: "blue_node_id",
			Message: fmt.Sprintf("node %s has status %s, need online or degraded", blue.ID, blue.Status)}
	}

	green, err := o.nodes.GetByID(ctx, params.GreenNodeID)
	if err != nil {
		return nil, &ValidationError{Field: "green_node_id", Message: fmt.Sprintf("node %s not found", params.GreenNodeID)}
	}
	if green.Status != model.NodeOnline {
		return nil, &ValidationError{Field: "green_node_id",
			Message: fmt.Sprintf("node %s has status %s, need online", green.ID, green.Status)}
	}

	if len(params.Roles) == 0 {
		return nil, &ValidationError{Field: "roles", Message: "at least one role is required"}
	}
	for _, role := range params.Roles {
		if !AllowedRole(role) {
			return nil, &ValidationError{Field: "roles", Message: fmt.Sprintf("role %q is not deployable", role)}
		}
	}

	// Admission is per-metric: both CPU and memory headroom must clear the
	// minimum on the green node. The error names the metric that failed.
	if !core.HasCapacity(green) {
		if cpuHeadroom := core.Headroom(green.CPUPercent); cpuHeadroom < core.MinCPUHeadroom {
			return nil, &ValidationError{Field: "green_node_id",
				Message: fmt.Sprintf("node %s lacks capacity: cpu headroom %.1f%% < %.0f%%", green.ID, cpuHeadroom, core.MinCPUHeadroom)}
		}
		return nil, &ValidationError{Field: "green_node_id",
			Message: fmt.Sprintf("node %s lacks capacity: memory headroom %.1f%% < %.0f%%", green.ID, core.Headroom(green.MemoryPercent), core.MinMemoryHeadroom)}
	}

	now := time.Now()
	d := &model.BlueGreenDeployment{
		ID:                     platform.NewName("bg"),
		BlueNodeID:             blue.ID,
		GreenNodeID:            green.ID,
		BlueRoles:              params.Roles,
		GreenOriginalRoles:     green.Roles,
		BorrowedRoles:          params.Roles,
		Status:                 model.DeploymentPending,
		CurrentStep:            "pending",
		HealthCheckURL:         params.HealthCheckURL,
		HealthCheckInterval:    params.HealthCheckInterval,
		HealthCheckTimeout:     params.HealthCheckTimeout,
		AutoRollback:           params.AutoRollback,
		MonitorDuration:        params.MonitorDuration,
		HealthFailureThreshold: params.HealthFailureThreshold,
		PurgeOnComplete:        params.PurgeOnComplete,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if d.HealthCheckInterval <= 0 {
		d.HealthCheckInterval = 10
	}
	if d.HealthCheckTimeout <= 0 {
		d.HealthCheckTimeout = 300
	}
	if d.HealthFailureThreshold <= 0 {
		d.HealthFailureThreshold = 3
	}

	if err := o.deployments.Create(ctx, d); err != nil {
		return nil, err
	}

	o.logger.Info().Str("deployment", d.ID).
		Str("blue", blue.ID).Str("green", green.ID).
		Strs("roles", d.BlueRoles).
		Msg("deployment created")

	o.startTask(d.ID)
	return d, nil
}

// startTask launches the asynchronous deployment task for the given id.
func (o *Orchestrator) startTask(id string) {
	taskCtx, cancel := context.WithCancel(o.baseCtx)

	o.mu.Lock()
	o.tasks[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.tasks, id)
			o.mu.Unlock()
			cancel()
		}()
		o.runDeployment(taskCtx, id)
	}()
}

// cancelTask cancels a running deployment task. Returns false if no task is
// running for the id.
func (o *Orchestrator) cancelTask(id string) bool {
	o.mu.Lock()
	cancel, ok := o.tasks[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// runDeployment drives a deployment through its phases. Errors, including
// cancellation, are caught once here: cancellation and errors with
// auto-rollback configured initiate the rollback algorithm, anything else
// marks the deployment failed with the message persisted on its error
// field. No error escapes the task.
func (o *Orchestrator) runDeployment(ctx context.Context, id string) {
	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		o.logger.Error().Err(err).Str("deployment", id).Msg("deployment task could not load record")
		return
	}
	if d.Status != model.DeploymentPending {
		// Cancelled or superseded before the task got going.
		return
	}

	err = o.executePhases(ctx, d)
	if err == nil || errors.Is(err, errSuperseded) {
		return
	}

	// Persistence and rollback must proceed even when the task context was
	// cancelled: cancellation means "initiate rollback", not "abandon".
	base := context.WithoutCancel(ctx)
	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	if cancelled {
		err = fmt.Errorf("deployment task cancelled: %w", err)
	}
	o.logger.Error().Err(err).Str("deployment", d.ID).Msg("deployment phase failed")

	if d.AutoRollback || cancelled {
		o.runRollback(base, d.ID)
		return
	}

	deploymentOutcomes.WithLabelValues("failed").Inc()
	if serr := o.deployments.SetError(base, d.ID, model.DeploymentFailed, err.Error()); serr != nil {
		o.logger.Error().Err(serr).Str("deployment", d.ID).Msg("failed to persist deployment failure")
	}
	o.recordEvent(base, d.GreenNodeID, model.EventDeploymentStatus, model.SeverityError,
		fmt.Sprintf("deployment %s failed: %s", d.ID, err))
}

// executePhases runs the forward path of the state machine. Each phase
// commits before the next begins, so a crash leaves the deployment parked
// at its last committed phase.
func (o *Orchestrator) executePhases(ctx context.Context, d *model.BlueGreenDeployment) error {
	// Borrowing: the green node borrows the requested roles for the
	// duration of the migration. Role set membership does not change until
	// the switch.
	if err := o.setPhase(ctx, d, model.DeploymentBorrowing, "borrowing roles for green node", 10); err != nil {
		return err
	}
	if err := o.deployments.SetTimestamp(ctx, d.ID, "started_at", time.Now()); err != nil {
		return err
	}

	green, err := o.nodes.GetByID(ctx, d.GreenNodeID)
	if err != nil {
		return fmt.Errorf("load green node: %w", err)
	}

	// Deploying: bulk role deployment onto the green node with a bounded
	// timeout. Non-zero exit or timeout surfaces here as an error.
	if err := o.setPhase(ctx, d, model.DeploymentDeploying, "deploying roles to green node", 30); err != nil {
		return err
	}
	if err := o.playbooks.DeployRoles(ctx, nodeTarget(green), d.BlueRoles); err != nil {
		return fmt.Errorf("deploy roles to green node %s: %w", green.ID, err)
	}

	// Verifying: poll the green node until healthy or timed out.
	if err := o.setPhase(ctx, d, model.DeploymentVerifying, "verifying green node health", 55); err != nil {
		return err
	}
	if err := o.verifyGreen(ctx, d); err != nil {
		return err
	}

	// Switching: another actor (manual switch, manual rollback) may have
	// advanced the deployment while we were polling.
	current, err := o.deployments.GetByID(ctx, d.ID)
	if err != nil {
		return err
	}
	if current.Status != model.DeploymentVerifying {
		o.logger.Info().Str("deployment", d.ID).Str("status", string(current.Status)).
			Msg("deployment advanced externally, task stopping")
		return errSuperseded
	}
	if err := o.switchTraffic(ctx, d); err != nil {
		return err
	}

	return o.enterActive(ctx, d)
}

// switchTraffic stops the blue node's role services and atomically
// reassigns role set membership: blue loses the roles, green gains them.
func (o *Orchestrator) switchTraffic(ctx context.Context, d *model.BlueGreenDeployment) error {
	if err := o.setPhase(ctx, d, model.DeploymentSwitching, "switching traffic to green node", 70); err != nil {
		return err
	}

	blue, err := o.nodes.GetByID(ctx, d.BlueNodeID)
	if err != nil {
		return fmt.Errorf("load blue node: %w", err)
	}
	green, err := o.nodes.GetByID(ctx, d.GreenNodeID)
	if err != nil {
		return fmt.Errorf("load green node: %w", err)
	}

	for _, role := range d.BlueRoles {
		for _, unit := range ServicesFor(role) {
			if err := o.commands.StopService(ctx, nodeTarget(blue), unit); err != nil {
				return fmt.Errorf("stop %s on blue node %s: %w", unit, blue.ID, err)
			}
		}
	}

	blueAfter := subtractRoles(blue.Roles, d.BlueRoles)
	greenAfter := unionRoles(green.Roles, d.BlueRoles)
	if err := o.nodes.SwapRoles(ctx, blue.ID, blueAfter, green.ID, greenAfter); err != nil {
		return err
	}

	return o.deployments.SetTimestamp(ctx, d.ID, "switched_at", time.Now())
}

// enterActive marks the deployment live and either enters the monitoring
// window or completes immediately.
func (o *Orchestrator) enterActive(ctx context.Context, d *model.BlueGreenDeployment) error {
	if err := o.setPhase(ctx, d, model.DeploymentActive, "green node is live", 85); err != nil {
		return err
	}

	if d.MonitorDuration > 0 && d.AutoRollback {
		if err := o.setPhase(ctx, d, model.DeploymentMonitoring, "post-deploy monitoring", 90); err != nil {
			return err
		}
		if err := o.deployments.SetTimestamp(ctx, d.ID, "monitoring_started_at", time.Now()); err != nil {
			return err
		}
		o.startMonitor(d.ID)
		return nil
	}

	return o.complete(ctx, d)
}

// complete finishes a deployment, optionally purging the migrated roles
// from the blue node first.
func (o *Orchestrator) complete(ctx context.Context, d *model.BlueGreenDeployment) error {
	if d.PurgeOnComplete {
		blue, err := o.nodes.GetByID(ctx, d.BlueNodeID)
		if err == nil {
			if perr := o.PurgeRoles(ctx, blue, d.BlueRoles); perr != nil {
				// Traffic has switched; a purge failure must not undo a
				// successful deployment.
				o.logger.Warn().Err(perr).Str("deployment", d.ID).Msg("purge on complete failed")
			}
		}
	}

	if err := o.setPhase(ctx, d, model.DeploymentCompleted, "deployment complete", 100); err != nil {
		return err
	}
	if err := o.deployments.SetTimestamp(ctx, d.ID, "completed_at", time.Now()); err != nil {
		return err
	}

	deploymentOutcomes.WithLabelValues("completed").Inc()
	o.recordEvent(ctx, d.GreenNodeID, model.EventDeploymentStatus, model.SeverityInfo,
		fmt.Sprintf("deployment %s completed", d.ID))
	o.logger.Info().Str("deployment", d.ID).Msg("deployment completed")
	return nil
}

// verifyGreen polls the green node at the health check interval until it is
// healthy or the verification window closes. A failed poll is absorbed and
// retried; only the closed window is an error.
func (o *Orchestrator) verifyGreen(ctx context.Context, d *model.BlueGreenDeployment) error {
	interval := time.Duration(d.HealthCheckInterval) * time.Second
	deadline := time.Now().Add(time.Duration(d.HealthCheckTimeout) * time.Second)

	for {
		if o.greenHealthy(ctx, d) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("green node %s did not become healthy within %ds", d.GreenNodeID, d.HealthCheckTimeout)
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}
}

// greenHealthy performs one health check: the green node must be online
// and, when a custom URL is configured, a GET against it must return 200.
func (o *Orchestrator) greenHealthy(ctx context.Context, d *model.BlueGreenDeployment) bool {
	node, err := o.nodes.GetByID(ctx, d.GreenNodeID)
	if err != nil || node.Status != model.NodeOnline {
		return false
	}
	if d.HealthCheckURL == "" {
		return true
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Duration(d.HealthCheckInterval)*time.Second)
	defer cancel()
	status, err := o.health.Check(checkCtx, d.HealthCheckURL)
	return err == nil && status == 200
}

// PurgeRoles removes roles and their services from a node. Roles the node
// does not hold are skipped, so purging is idempotent. Role and service
// names are validated before any remote interpolation.
func (o *Orchestrator) PurgeRoles(ctx context.Context, node *model.Node, roles []string) error {
	if err := runner.ValidateNames(roles); err != nil {
		return fmt.Errorf("purge roles: %w", err)
	}
	for _, role := range roles {
		if !AllowedRole(role) {
			return fmt.Errorf("purge roles: role %q is not managed", role)
		}
	}

	held := make([]string, 0, len(roles))
	for _, role := range roles {
		if node.HasRole(role) {
			held = append(held, role)
		}
	}
	if len(held) == 0 {
		return nil
	}

	for _, role := range held {
		for _, unit := range ServicesFor(role) {
			if err := o.commands.StopService(ctx, nodeTarget(node), unit); err != nil {
				return fmt.Errorf("stop %s on node %s: %w", unit, node.ID, err)
			}
		}
	}

	if err := o.playbooks.PurgeRoles(ctx, nodeTarget(node), held); err != nil {
		return fmt.Errorf("purge playbook on node %s: %w", node.ID, err)
	}

	return o.nodes.SetRoles(ctx, node.ID, subtractRoles(node.Roles, held))
}

// FindEligibleNodes lists online nodes able to take on the given roles:
// no role overlap and an average capacity score clearing the minimum,
// sorted best-first. Note the deliberate asymmetry with create-time
// admission, which checks each headroom individually.
func (o *Orchestrator) FindEligibleNodes(ctx context.Context, roles []string) ([]NodeCapacity, error) {
	nodes, err := o.nodes.List(ctx)
	if err != nil {
		return nil, err
	}

	var eligible []NodeCapacity
	for i := range nodes {
		n := &nodes[i]
		if n.Status != model.NodeOnline {
			continue
		}
		if intersectRoles(n.Roles, roles) {
			continue
		}
		score := core.CapacityScore(n)
		if score < core.MinCPUHeadroom {
			continue
		}
		eligible = append(eligible, NodeCapacity{Node: *n, Score: score})
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Score > eligible[j].Score })
	return eligible, nil
}

// NodeCapacity pairs a node with its capacity score for eligibility
// listings.
type NodeCapacity struct {
	Node  model.Node `json:"node"`
	Score float64    `json:"score"`
}

// setPhase commits a phase transition and broadcasts it.
func (o *Orchestrator) setPhase(ctx context.Context, d *model.BlueGreenDeployment, status model.DeploymentStatus, step string, progress int) error {
	if err := o.deployments.SetPhase(ctx, d.ID, status, step, progress); err != nil {
		return err
	}
	d.Status = status
	o.publisher.Publish(broadcast.Event{
		Type:      "deployment",
		ID:        d.ID,
		EventType: string(status),
		Message:   step,
	})
	o.logger.Debug().Str("deployment", d.ID).Str("status", string(status)).Msg(step)
	return nil
}

// recordEvent appends an audit event and broadcasts it. Failures are logged
// and never fail the originating operation.
func (o *Orchestrator) recordEvent(ctx context.Context, nodeID, eventType, severity, message string) {
	if err := o.events.Append(ctx, &model.NodeEvent{
		NodeID:    nodeID,
		EventType: eventType,
		Severity:  severity,
		Message:   message,
	}); err != nil {
		o.logger.Warn().Err(err).Str("node", nodeID).Msg("failed to append node event")
	}
	o.publisher.Publish(broadcast.Event{
		Type:      "node",
		ID:        nodeID,
		EventType: eventType,
		Message:   message,
	})
}

func nodeTarget(n *model.Node) runner.Target {
	host := n.Hostname
	if n.IPAddress != nil && *n.IPAddress != "" {
		host = *n.IPAddress
	}
	port := n.SSHPort
	if port == 0 {
		port = 22
	}
	return runner.Target{Host: host, User: n.SSHUser, Port: port}
}

// sleepCtx sleeps for d or until the context is cancelled. A non-positive
// duration still observes cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
