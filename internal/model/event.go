package model

import (
	"encoding/json"
	"time"
)

// NodeEvent is an append-only audit record. One event is recorded per
// distinct state transition, not per poll.
type NodeEvent struct {
	ID        string          `json:"id" db:"id"`
	NodeID    string          `json:"node_id" db:"node_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Severity  string          `json:"severity" db:"severity"`
	Message   string          `json:"message" db:"message"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Event types emitted by the orchestrator and reconciler.
const (
	EventNodeStatusChanged    = "node_status_changed"
	EventDeploymentStatus     = "deployment_status_changed"
	EventDeploymentRollback   = "deployment_rollback"
	EventMonitorHealthFailure = "monitor_health_failure"
	EventRemediationStarted   = "remediation_started"
	EventRemediationResult    = "remediation_result"
	EventRemediationExhausted = "remediation_exhausted"
	EventManifestHealthFailed = "manifest_health_failed"
	EventCertExpiring         = "cert_expiring"
)
