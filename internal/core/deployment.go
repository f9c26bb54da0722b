package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/fleet/internal/model"
)

type DeploymentService struct {
	db DB
}

func NewDeploymentService(db DB) *DeploymentService {
	return &DeploymentService{db: db}
}

const deploymentColumns = `id, blue_node_id, green_node_id, blue_roles, green_original_roles,
	borrowed_roles, status, progress_percent, current_step, error,
	health_check_url, health_check_interval_s, health_check_timeout_s,
	auto_rollback, monitor_duration_s, health_failure_threshold, health_failures,
	purge_on_complete, auto_rollback_attempted,
	started_at, switched_at, monitoring_started_at, rollback_at, completed_at,
	created_at, updated_at`

func scanDeployment(row interface{ Scan(dest ...any) error }) (model.BlueGreenDeployment, error) {
	var d model.BlueGreenDeployment
	err := row.Scan(&d.ID, &d.BlueNodeID, &d.GreenNodeID, &d.BlueRoles, &d.GreenOriginalRoles,
		&d.BorrowedRoles, &d.Status, &d.ProgressPercent, &d.CurrentStep, &d.Error,
		&d.HealthCheckURL, &d.HealthCheckInterval, &d.HealthCheckTimeout,
		&d.AutoRollback, &d.MonitorDuration, &d.HealthFailureThreshold, &d.HealthFailures,
		&d.PurgeOnComplete, &d.AutoRollbackAttempted,
		&d.StartedAt, &d.SwitchedAt, &d.MonitoringStartedAt, &d.RollbackAt, &d.CompletedAt,
		&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (s *DeploymentService) Create(ctx context.Context, d *model.BlueGreenDeployment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO bluegreen_deployments (id, blue_node_id, green_node_id, blue_roles,
		     green_original_roles, borrowed_roles, status, current_step,
		     health_check_url, health_check_interval_s, health_check_timeout_s,
		     auto_rollback, monitor_duration_s, health_failure_threshold,
		     purge_on_complete, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.BlueNodeID, d.GreenNodeID, d.BlueRoles,
		d.GreenOriginalRoles, d.BorrowedRoles, d.Status, d.CurrentStep,
		d.HealthCheckURL, d.HealthCheckInterval, d.HealthCheckTimeout,
		d.AutoRollback, d.MonitorDuration, d.HealthFailureThreshold,
		d.PurgeOnComplete, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}
	return nil
}

func (s *DeploymentService) GetByID(ctx context.Context, id string) (*model.BlueGreenDeployment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM bluegreen_deployments WHERE id = $1`, id)
	d, err := scanDeployment(row)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	return &d, nil
}

func (s *DeploymentService) List(ctx context.Context, status model.DeploymentStatus, limit int) ([]model.BlueGreenDeployment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + deploymentColumns + ` FROM bluegreen_deployments`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []model.BlueGreenDeployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return deployments, nil
}

// ListUnfinished returns deployments parked in a non-terminal status, used
// by the startup reconciliation pass after a process restart.
func (s *DeploymentService) ListUnfinished(ctx context.Context) ([]model.BlueGreenDeployment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+deploymentColumns+` FROM bluegreen_deployments
		 WHERE status NOT IN ($1, $2, $3)`,
		model.DeploymentCompleted, model.DeploymentRolledBack, model.DeploymentFailed)
	if err != nil {
		return nil, fmt.Errorf("list unfinished deployments: %w", err)
	}
	defer rows.Close()

	var deployments []model.BlueGreenDeployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return deployments, nil
}

// SetPhase commits a phase transition: status, human-readable step and
// progress. Progress is clamped to be monotonic non-decreasing.
func (s *DeploymentService) SetPhase(ctx context.Context, id string, status model.DeploymentStatus, step string, progress int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE bluegreen_deployments
		 SET status = $1, current_step = $2,
		     progress_percent = GREATEST(progress_percent, $3),
		     updated_at = now()
		 WHERE id = $4`,
		status, step, progress, id)
	if err != nil {
		return fmt.Errorf("set deployment %s phase %s: %w", id, status, err)
	}
	return nil
}

func (s *DeploymentService) SetError(ctx context.Context, id string, status model.DeploymentStatus, errMsg string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE bluegreen_deployments
		 SET status = $1, error = $2, updated_at = now()
		 WHERE id = $3`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("set deployment %s error: %w", id, err)
	}
	return nil
}

func (s *DeploymentService) SetTimestamp(ctx context.Context, id, column string, at time.Time) error {
	switch column {
	case "started_at", "switched_at", "monitoring_started_at", "rollback_at", "completed_at":
	default:
		return fmt.Errorf("set deployment timestamp: unknown column %q", column)
	}
	_, err := s.db.Exec(ctx,
		`UPDATE bluegreen_deployments SET `+column+` = $1, updated_at = now() WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("set deployment %s %s: %w", id, column, err)
	}
	return nil
}

func (s *DeploymentService) SetHealthFailures(ctx context.Context, id string, failures int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE bluegreen_deployments SET health_failures = $1, updated_at = now() WHERE id = $2`,
		failures, id)
	if err != nil {
		return fmt.Errorf("set deployment %s health failures: %w", id, err)
	}
	return nil
}

// ResetForRetry returns a failed deployment to pending so its phases can
// run again from the start.
func (s *DeploymentService) ResetForRetry(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE bluegreen_deployments
		 SET status = $1, error = '', current_step = 'retry requested',
		     progress_percent = 0, health_failures = 0,
		     started_at = NULL, switched_at = NULL, monitoring_started_at = NULL,
		     rollback_at = NULL, completed_at = NULL,
		     updated_at = now()
		 WHERE id = $2`,
		model.DeploymentPending, id)
	if err != nil {
		return fmt.Errorf("reset deployment %s for retry: %w", id, err)
	}
	return nil
}

// LatestCompletedForNode returns the most recent completed deployment whose
// green node matches, completed at or after the cutoff and not yet claimed
// by the auto-rollback scan.
func (s *DeploymentService) LatestCompletedForNode(ctx context.Context, nodeID string, since time.Time) (*model.BlueGreenDeployment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM bluegreen_deployments
		 WHERE green_node_id = $1 AND status = $2
		   AND completed_at >= $3 AND NOT auto_rollback_attempted
		 ORDER BY completed_at DESC LIMIT 1`,
		nodeID, model.DeploymentCompleted, since)
	d, err := scanDeployment(row)
	if err != nil {
		return nil, fmt.Errorf("latest completed deployment for node %s: %w", nodeID, err)
	}
	return &d, nil
}

// ClaimAutoRollback sets the auto_rollback_attempted flag and reports
// whether this call won the claim. The flag is set before any rollback work
// starts so a crash cannot cause a rollback storm on the same deployment.
func (s *DeploymentService) ClaimAutoRollback(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE bluegreen_deployments
		 SET auto_rollback_attempted = true, updated_at = now()
		 WHERE id = $1 AND NOT auto_rollback_attempted`, id)
	if err != nil {
		return false, fmt.Errorf("claim auto-rollback for deployment %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
