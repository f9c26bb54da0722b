package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allDeploymentStatuses = []DeploymentStatus{
	DeploymentPending, DeploymentBorrowing, DeploymentDeploying,
	DeploymentVerifying, DeploymentSwitching, DeploymentActive,
	DeploymentMonitoring, DeploymentCompleted, DeploymentRollingBack,
	DeploymentRolledBack, DeploymentFailed,
}

func TestDeploymentStatus_HappyPath(t *testing.T) {
	path := []DeploymentStatus{
		DeploymentPending, DeploymentBorrowing, DeploymentDeploying,
		DeploymentVerifying, DeploymentSwitching, DeploymentActive,
		DeploymentMonitoring, DeploymentCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, path[i].CanTransition(path[i+1]),
			"expected %s -> %s", path[i], path[i+1])
	}
}

func TestDeploymentStatus_FailureEdges(t *testing.T) {
	inFlight := []DeploymentStatus{
		DeploymentBorrowing, DeploymentDeploying, DeploymentVerifying,
		DeploymentSwitching, DeploymentActive, DeploymentMonitoring,
	}
	for _, s := range inFlight {
		assert.True(t, s.CanTransition(DeploymentRollingBack), "%s -> rolling_back", s)
		assert.True(t, s.CanTransition(DeploymentFailed), "%s -> failed", s)
	}

	assert.True(t, DeploymentPending.CanTransition(DeploymentFailed))
	assert.False(t, DeploymentPending.CanTransition(DeploymentRollingBack))

	assert.True(t, DeploymentRollingBack.CanTransition(DeploymentRolledBack))
	assert.True(t, DeploymentRollingBack.CanTransition(DeploymentFailed))
}

func TestDeploymentStatus_TerminalStatesAreDeadEnds(t *testing.T) {
	for _, next := range allDeploymentStatuses {
		assert.False(t, DeploymentRolledBack.CanTransition(next))
		assert.False(t, DeploymentFailed.CanTransition(next))
	}
}

func TestDeploymentStatus_CompletedCanStillRollBack(t *testing.T) {
	// The auto-rollback scan rolls back recently-completed deployments on
	// unhealthy nodes.
	assert.True(t, DeploymentCompleted.CanTransition(DeploymentRollingBack))
	assert.True(t, DeploymentCompleted.CanTransition(DeploymentRolledBack))
	assert.False(t, DeploymentCompleted.CanTransition(DeploymentActive))
}

func TestDeploymentStatus_Terminal(t *testing.T) {
	for _, s := range allDeploymentStatuses {
		switch s {
		case DeploymentCompleted, DeploymentRolledBack, DeploymentFailed:
			assert.True(t, s.Terminal(), "%s", s)
		default:
			assert.False(t, s.Terminal(), "%s", s)
		}
	}
}

func TestNode_HasRole(t *testing.T) {
	n := &Node{Roles: []string{"web", "redis"}}
	assert.True(t, n.HasRole("redis"))
	assert.False(t, n.HasRole("database"))
}
