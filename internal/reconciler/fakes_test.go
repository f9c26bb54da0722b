package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/fleet/internal/broadcast"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/runner"
)

// memStore is an in-memory implementation of every store interface the
// reconciler consumes. Mutating methods refuse a cancelled context the
// way a database driver would.
type memStore struct {
	mu          sync.Mutex
	nodes       map[string]*model.Node
	services    map[string]map[string]*model.NodeService
	deployments map[string]*model.BlueGreenDeployment
	events      []model.NodeEvent
	settings    map[string]string
	maintenance map[string]bool
	claimHook   func() // invoked after a successful rollback claim, when set
}

func newMemStore() *memStore {
	return &memStore{
		nodes:       make(map[string]*model.Node),
		services:    make(map[string]map[string]*model.NodeService),
		deployments: make(map[string]*model.BlueGreenDeployment),
		settings:    make(map[string]string),
		maintenance: make(map[string]bool),
	}
}

func (s *memStore) addNode(n *model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

func (s *memStore) getNode(id string) *model.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.nodes[id]
	cp.Roles = append([]string(nil), s.nodes[id].Roles...)
	return &cp
}

func (s *memStore) addService(svc *model.NodeService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.services[svc.NodeID] == nil {
		s.services[svc.NodeID] = make(map[string]*model.NodeService)
	}
	s.services[svc.NodeID][svc.Name] = svc
}

func (s *memStore) getService(nodeID, name string) *model.NodeService {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[nodeID][name]
	if !ok {
		return nil
	}
	cp := *svc
	return &cp
}

func (s *memStore) addDeployment(d *model.BlueGreenDeployment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[d.ID] = d
}

func (s *memStore) getDeployment(id string) *model.BlueGreenDeployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.deployments[id]
	return &cp
}

func (s *memStore) eventsOfType(eventType string) []model.NodeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.NodeEvent
	for _, evt := range s.events {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
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

func (s *memStore) ListByStatus(ctx context.Context, statuses ...model.NodeStatus) ([]model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Node
	for _, n := range s.nodes {
		for _, status := range statuses {
			if n.Status == status {
				out = append(out, *n)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) Resolve(ctx context.Context, idOrHostname string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[idOrHostname]; ok {
		cp := *n
		return &cp, nil
	}
	for _, n := range s.nodes {
		if n.Hostname == idOrHostname {
			cp := *n
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("resolve node %s: %w", idOrHostname, pgx.ErrNoRows)
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status model.NodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("update status: node %s not found", id)
	}
	n.Status = status
	return nil
}

func (s *memStore) UpdateHeartbeat(ctx context.Context, id string, cpu, mem, disk float64, status model.NodeStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("update heartbeat: node %s not found", id)
	}
	n.CPUPercent, n.MemoryPercent, n.DiskPercent = cpu, mem, disk
	n.Status = status
	n.LastHeartbeat = &at
	return nil
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

func (s *memStore) ListFailed(ctx context.Context, category string) ([]model.NodeService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.NodeService
	for _, byName := range s.services {
		for _, svc := range byName {
			if svc.Status == model.ServiceFailed && svc.Category == category {
				out = append(out, *svc)
			}
		}
	}
	return out, nil
}

func (s *memStore) UpdateServiceStatus(ctx context.Context, nodeID, name string, status model.ServiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[nodeID][name]
	if !ok {
		return fmt.Errorf("update service status: %s/%s not found", nodeID, name)
	}
	svc.Status = status
	return nil
}

func (s *memStore) Sync(ctx context.Context, nodeID string, reported []model.NodeService, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*model.NodeService, len(reported))
	for i := range reported {
		svc := reported[i]
		svc.LastChecked = at
		next[svc.Name] = &svc
	}
	s.services[nodeID] = next
	return nil
}

func (s *memStore) LatestCompletedForNode(ctx context.Context, nodeID string, since time.Time) (*model.BlueGreenDeployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.BlueGreenDeployment
	for _, d := range s.deployments {
		if d.GreenNodeID != nodeID || d.Status != model.DeploymentCompleted || d.AutoRollbackAttempted {
			continue
		}
		if d.CompletedAt == nil || d.CompletedAt.Before(since) {
			continue
		}
		if best == nil || d.CompletedAt.After(*best.CompletedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, fmt.Errorf("latest completed deployment for node %s: %w", nodeID, pgx.ErrNoRows)
	}
	cp := *best
	return &cp, nil
}

func (s *memStore) ClaimAutoRollback(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok || d.AutoRollbackAttempted {
		return false, nil
	}
	d.AutoRollbackAttempted = true
	if s.claimHook != nil {
		s.claimHook()
	}
	return true, nil
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
	if column == "rollback_at" {
		d.RollbackAt = &at
	}
	return nil
}

func (s *memStore) Append(ctx context.Context, evt *model.NodeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *evt)
	return nil
}

func (s *memStore) GetBool(ctx context.Context, key string, fallback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (s *memStore) GetInt(ctx context.Context, key string, fallback int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *memStore) GetString(ctx context.Context, key, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.settings[key]; ok {
		return v
	}
	return fallback
}

func (s *memStore) setSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

func (s *memStore) ActiveForNode(ctx context.Context, nodeID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenance[nodeID], nil
}

// serviceStore adapts memStore: the node UpdateStatus and the service
// UpdateStatus collide on one method set.
type serviceStore struct{ *memStore }

func (s serviceStore) UpdateStatus(ctx context.Context, nodeID, name string, status model.ServiceStatus) error {
	return s.memStore.UpdateServiceStatus(ctx, nodeID, name, status)
}

// fakeExec records remote executions and can be told to fail.
type fakeExec struct {
	mu            sync.Mutex
	restarted     []string // "host/unit"
	agentRestarts []string
	failRestart   bool
	failAgent     bool
}

func (f *fakeExec) StopService(ctx context.Context, target runner.Target, unit string) error {
	return nil
}

func (f *fakeExec) RestartService(ctx context.Context, target runner.Target, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRestart {
		return errors.New("systemctl restart failed")
	}
	f.restarted = append(f.restarted, target.Host+"/"+unit)
	return nil
}

func (f *fakeExec) DeployRoles(ctx context.Context, target runner.Target, roles []string) error {
	return nil
}

func (f *fakeExec) PurgeRoles(ctx context.Context, target runner.Target, roles []string) error {
	return nil
}

func (f *fakeExec) RestartAgent(ctx context.Context, target runner.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAgent {
		return errors.New("restart-agent playbook failed")
	}
	f.agentRestarts = append(f.agentRestarts, target.Host)
	return nil
}

// fakePinger reports hosts as reachable unless listed.
type fakePinger struct {
	unreachable map[string]bool
}

func (p *fakePinger) Ping(ctx context.Context, host string) error {
	if p.unreachable[host] {
		return errors.New("host unreachable")
	}
	return nil
}

// fakeChecker returns a fixed status per URL; unknown URLs error.
type fakeChecker struct {
	statuses map[string]int
}

func (c *fakeChecker) Check(ctx context.Context, url string) (int, error) {
	status, ok := c.statuses[url]
	if !ok {
		return 0, errors.New("connection refused")
	}
	return status, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *fakePublisher) Publish(evt broadcast.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}
