package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
)

// HeartbeatParams is one self-reported node heartbeat. Node identifies the
// sender by id or hostname. Metadata is free-form agent context (kernel,
// agent version) attached to the status-change event when one is recorded.
type HeartbeatParams struct {
	Node          string
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Services      []ReportedService
	Metadata      map[string]any
}

// ReportedService is one OS service discovered by the node agent.
type ReportedService struct {
	Name     string
	Status   model.ServiceStatus
	Enabled  bool
	Category string
}

// ApplyHeartbeat ingests one heartbeat: metrics and timestamp are updated,
// the node status is recomputed from fixed utilization thresholds, and the
// self-reported service list replaces the previously known one. A status
// change appends exactly one event; repeated heartbeats at the same level
// append none.
func (r *Reconciler) ApplyHeartbeat(ctx context.Context, params HeartbeatParams) (*model.Node, error) {
	node, err := r.nodes.Resolve(ctx, params.Node)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next := statusFromMetrics(params.CPUPercent, params.MemoryPercent, params.DiskPercent)

	if err := r.nodes.UpdateHeartbeat(ctx, node.ID, params.CPUPercent, params.MemoryPercent, params.DiskPercent, next, now); err != nil {
		return nil, err
	}

	if node.Status != next {
		severity := model.SeverityInfo
		switch next {
		case model.NodeError:
			severity = model.SeverityError
		case model.NodeDegraded:
			severity = model.SeverityWarning
		}
		var details json.RawMessage
		if len(params.Metadata) > 0 {
			if b, err := json.Marshal(params.Metadata); err == nil {
				details = b
			}
		}
		r.recordEventDetails(ctx, node.ID, model.EventNodeStatusChanged, severity,
			fmt.Sprintf("node %s: heartbeat moved status %s -> %s (cpu %.1f%%, mem %.1f%%, disk %.1f%%)",
				node.Hostname, node.Status, next, params.CPUPercent, params.MemoryPercent, params.DiskPercent),
			details)
	}

	if params.Services != nil {
		reported := make([]model.NodeService, 0, len(params.Services))
		for _, svc := range params.Services {
			reported = append(reported, model.NodeService{
				NodeID:   node.ID,
				Name:     svc.Name,
				Status:   svc.Status,
				Enabled:  svc.Enabled,
				Category: svc.Category,
			})
		}
		if err := r.services.Sync(ctx, node.ID, reported, now); err != nil {
			return nil, fmt.Errorf("sync services for node %s: %w", node.ID, err)
		}
	}

	node.Status = next
	node.CPUPercent = params.CPUPercent
	node.MemoryPercent = params.MemoryPercent
	node.DiskPercent = params.DiskPercent
	node.LastHeartbeat = &now
	return node, nil
}

// statusFromMetrics maps utilization to node status: any metric above 95%
// is an error, above 80% degraded, otherwise online.
func statusFromMetrics(cpu, mem, disk float64) model.NodeStatus {
	switch {
	case cpu > 95 || mem > 95 || disk > 95:
		return model.NodeError
	case cpu > 80 || mem > 80 || disk > 80:
		return model.NodeDegraded
	default:
		return model.NodeOnline
	}
}
