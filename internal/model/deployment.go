package model

import (
	"time"
)

// BlueGreenDeployment migrates a set of roles from the blue node to the
// green node with zero downtime. The green node "borrows" the roles during
// the migration; role set membership only changes at the switch.
type BlueGreenDeployment struct {
	ID                 string   `json:"id" db:"id"`
	BlueNodeID         string   `json:"blue_node_id" db:"blue_node_id"`
	GreenNodeID        string   `json:"green_node_id" db:"green_node_id"`
	BlueRoles          []string `json:"blue_roles" db:"blue_roles"`
	GreenOriginalRoles []string `json:"green_original_roles" db:"green_original_roles"`
	BorrowedRoles      []string `json:"borrowed_roles" db:"borrowed_roles"`

	Status          DeploymentStatus `json:"status" db:"status"`
	ProgressPercent int              `json:"progress_percent" db:"progress_percent"`
	CurrentStep     string           `json:"current_step" db:"current_step"`
	Error           string           `json:"error" db:"error"`

	HealthCheckURL      string `json:"health_check_url" db:"health_check_url"`
	HealthCheckInterval int    `json:"health_check_interval_s" db:"health_check_interval_s"`
	HealthCheckTimeout  int    `json:"health_check_timeout_s" db:"health_check_timeout_s"`

	AutoRollback           bool `json:"auto_rollback" db:"auto_rollback"`
	MonitorDuration        int  `json:"monitor_duration_s" db:"monitor_duration_s"`
	HealthFailureThreshold int  `json:"health_failure_threshold" db:"health_failure_threshold"`
	HealthFailures         int  `json:"health_failures" db:"health_failures"`
	PurgeOnComplete        bool `json:"purge_on_complete" db:"purge_on_complete"`

	// AutoRollbackAttempted guards against repeated automatic rollbacks of
	// the same completed deployment by the reconciler's rollback scan.
	AutoRollbackAttempted bool `json:"auto_rollback_attempted" db:"auto_rollback_attempted"`

	StartedAt           *time.Time `json:"started_at,omitempty" db:"started_at"`
	SwitchedAt          *time.Time `json:"switched_at,omitempty" db:"switched_at"`
	MonitoringStartedAt *time.Time `json:"monitoring_started_at,omitempty" db:"monitoring_started_at"`
	RollbackAt          *time.Time `json:"rollback_at,omitempty" db:"rollback_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}
