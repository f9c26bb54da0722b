package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edvin/fleet/internal/broadcast"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/runner"
)

// memStore is an in-memory implementation of the orchestrator's store
// interfaces, safe for concurrent use by deployment tasks. Mutating
// methods refuse a cancelled context the way a database driver would.
type memStore struct {
	mu          sync.Mutex
	nodes       map[string]*model.Node
	deployments map[string]*model.BlueGreenDeployment
	events      []model.NodeEvent
}

func newMemStore() *memStore {
	return &memStore{
		nodes:       make(map[string]*model.Node),
		deployments: make(map[string]*model.BlueGreenDeployment),
	}
}

func (s *memStore) addNode(n *model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

func (s *memStore) GetByID(ctx context.Context, id string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("get node %s: no rows", id)
	}
	cp := *n
	cp.Roles = append([]string(nil), n.Roles...)
	return &cp, nil
}

func (s *memStore) List(ctx context.Context) ([]model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Node
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	return out, nil
}

func (s *memStore) SetRoles(ctx context.Context, id string, roles []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("set roles: node %s not found", id)
	}
	n.Roles = roles
	return nil
}

func (s *memStore) SwapRoles(ctx context.Context, blueID string, blueRoles []string, greenID string, greenRoles []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	blue, ok := s.nodes[blueID]
	if !ok {
		return fmt.Errorf("swap roles: node %s not found", blueID)
	}
	green, ok := s.nodes[greenID]
	if !ok {
		return fmt.Errorf("swap roles: node %s not found", greenID)
	}
	blue.Roles = blueRoles
	green.Roles = greenRoles
	return nil
}

func (s *memStore) Create(ctx context.Context, d *model.BlueGreenDeployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *memStore) getDeployment(id string) *model.BlueGreenDeployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.deployments[id]
	return &cp
}

func (s *memStore) GetByIDDeployment(ctx context.Context, id string) (*model.BlueGreenDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("get deployment %s: no rows", id)
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) ListUnfinished(ctx context.Context) ([]model.BlueGreenDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BlueGreenDeployment
	for _, d := range s.deployments {
		if !d.Status.Terminal() {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *memStore) SetPhase(ctx context.Context, id string, status model.DeploymentStatus, step string, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("set phase: deployment %s not found", id)
	}
	d.Status = status
	d.CurrentStep = step
	if progress > d.ProgressPercent {
		d.ProgressPercent = progress
	}
	return nil
}

func (s *memStore) SetError(ctx context.Context, id string, status model.DeploymentStatus, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("set error: deployment %s not found", id)
	}
	d.Status = status
	d.Error = errMsg
	return nil
}

func (s *memStore) SetTimestamp(ctx context.Context, id, column string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("set timestamp: deployment %s not found", id)
	}
	switch column {
	case "started_at":
		d.StartedAt = &at
	case "switched_at":
		d.SwitchedAt = &at
	case "monitoring_started_at":
		d.MonitoringStartedAt = &at
	case "rollback_at":
		d.RollbackAt = &at
	case "completed_at":
		d.CompletedAt = &at
	default:
		return fmt.Errorf("set timestamp: unknown column %q", column)
	}
	return nil
}

func (s *memStore) SetHealthFailures(ctx context.Context, id string, failures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("set health failures: deployment %s not found", id)
	}
	d.HealthFailures = failures
	return nil
}

func (s *memStore) ResetForRetry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("reset for retry: deployment %s not found", id)
	}
	d.Status = model.DeploymentPending
	d.Error = ""
	d.ProgressPercent = 0
	d.HealthFailures = 0
	d.StartedAt = nil
	d.SwitchedAt = nil
	d.MonitoringStartedAt = nil
	d.RollbackAt = nil
	d.CompletedAt = nil
	return nil
}

func (s *memStore) Append(ctx context.Context, evt *model.NodeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *evt)
	return nil
}

// deploymentStore adapts memStore so the node GetByID and deployment
// GetByID do not collide on one method set.
type deploymentStore struct{ *memStore }

func (s deploymentStore) GetByID(ctx context.Context, id string) (*model.BlueGreenDeployment, error) {
	return s.memStore.GetByIDDeployment(ctx, id)
}

// fakeRunner records remote execution calls and can be told to fail
// specific operations.
type fakeRunner struct {
	mu            sync.Mutex
	stopped       []string // "host/unit"
	deployed      []string // "host:role1,role2"
	purged        []string
	agentRestarts []string
	failStop      bool
	failDeployTo  map[string]bool // host -> fail
	failPurge     bool
	stopHook      func() // invoked on every stop, when set
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failDeployTo: make(map[string]bool)}
}

func (r *fakeRunner) StopService(ctx context.Context, target runner.Target, unit string) error {
	if r.stopHook != nil {
		r.stopHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStop {
		return errors.New("stop failed")
	}
	r.stopped = append(r.stopped, target.Host+"/"+unit)
	return nil
}

func (r *fakeRunner) RestartService(ctx context.Context, target runner.Target, unit string) error {
	return nil
}

func (r *fakeRunner) DeployRoles(ctx context.Context, target runner.Target, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDeployTo[target.Host] {
		return errors.New("playbook exited non-zero")
	}
	r.deployed = append(r.deployed, fmt.Sprintf("%s:%v", target.Host, roles))
	return nil
}

func (r *fakeRunner) PurgeRoles(ctx context.Context, target runner.Target, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPurge {
		return errors.New("purge playbook exited non-zero")
	}
	r.purged = append(r.purged, fmt.Sprintf("%s:%v", target.Host, roles))
	return nil
}

func (r *fakeRunner) RestartAgent(ctx context.Context, target runner.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentRestarts = append(r.agentRestarts, target.Host)
	return nil
}

func (r *fakeRunner) deployCount(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.deployed {
		if len(d) >= len(host) && d[:len(host)] == host {
			n++
		}
	}
	return n
}

// fakeChecker returns queued status codes, repeating the last one forever.
type fakeChecker struct {
	mu       sync.Mutex
	statuses []int
}

func (c *fakeChecker) Check(ctx context.Context, url string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.statuses) == 0 {
		return 0, errors.New("no response")
	}
	status := c.statuses[0]
	if len(c.statuses) > 1 {
		c.statuses = c.statuses[1:]
	}
	if status == 0 {
		return 0, errors.New("connection refused")
	}
	return status, nil
}

// fakePublisher captures broadcast events.
type fakePublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *fakePublisher) Publish(evt broadcast.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *fakePublisher) byType(eventType string) []broadcast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []broadcast.Event
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
