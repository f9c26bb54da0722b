package model

// NodeStatus is the observed health state of a fleet node.
type NodeStatus string

const (
	NodeOnline   NodeStatus = "online"
	NodeDegraded NodeStatus = "degraded"
	NodeOffline  NodeStatus = "offline"
	NodeError    NodeStatus = "error"
)

// ServiceStatus is the reported state of an OS service on a node.
type ServiceStatus string

const (
	ServiceRunning ServiceStatus = "running"
	ServiceFailed  ServiceStatus = "failed"
	ServiceStopped ServiceStatus = "stopped"
	ServiceUnknown ServiceStatus = "unknown"
)

// DeploymentStatus is the phase of a blue-green deployment. The set is
// closed: Next transitions are checked exhaustively so adding a status is a
// compile-visible change at every call site that matters.
type DeploymentStatus string

const (
	DeploymentPending     DeploymentStatus = "pending"
	DeploymentBorrowing   DeploymentStatus = "borrowing"
	DeploymentDeploying   DeploymentStatus = "deploying"
	DeploymentVerifying   DeploymentStatus = "verifying"
	DeploymentSwitching   DeploymentStatus = "switching"
	DeploymentActive      DeploymentStatus = "active"
	DeploymentMonitoring  DeploymentStatus = "monitoring"
	DeploymentCompleted   DeploymentStatus = "completed"
	DeploymentRollingBack DeploymentStatus = "rolling_back"
	DeploymentRolledBack  DeploymentStatus = "rolled_back"
	DeploymentFailed      DeploymentStatus = "failed"
)

// Terminal reports whether the deployment has reached an end state.
// Terminal deployments are retained as audit history.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentCompleted, DeploymentRolledBack, DeploymentFailed:
		return true
	case DeploymentPending, DeploymentBorrowing, DeploymentDeploying,
		DeploymentVerifying, DeploymentSwitching, DeploymentActive,
		DeploymentMonitoring, DeploymentRollingBack:
		return false
	}
	return false
}

// CanTransition reports whether the edge s -> next exists in the deployment
// state machine.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	switch s {
	case DeploymentPending:
		return next == DeploymentBorrowing || next == DeploymentFailed
	case DeploymentBorrowing:
		return next == DeploymentDeploying || next == DeploymentRollingBack || next == DeploymentFailed
	case DeploymentDeploying:
		return next == DeploymentVerifying || next == DeploymentRollingBack || next == DeploymentFailed
	case DeploymentVerifying:
		return next == DeploymentSwitching || next == DeploymentRollingBack || next == DeploymentFailed
	case DeploymentSwitching:
		return next == DeploymentActive || next == DeploymentRollingBack || next == DeploymentFailed
	case DeploymentActive:
		return next == DeploymentMonitoring || next == DeploymentCompleted ||
			next == DeploymentRollingBack || next == DeploymentFailed
	case DeploymentMonitoring:
		return next == DeploymentCompleted || next == DeploymentRollingBack || next == DeploymentFailed
	case DeploymentRollingBack:
		return next == DeploymentRolledBack || next == DeploymentFailed
	case DeploymentCompleted:
		// Completed deployments inside the rollback window can still be
		// rolled back by the auto-rollback scan.
		return next == DeploymentRollingBack || next == DeploymentRolledBack
	case DeploymentRolledBack, DeploymentFailed:
		return false
	}
	return false
}
