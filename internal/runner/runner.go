package runner

import (
	"context"
)

// Target identifies a node for remote execution.
type Target struct {
	Host string
	User string
	Port int
}

// CommandRunner executes single operations on a node over an authenticated
// remote-shell channel.
type CommandRunner interface {
	StopService(ctx context.Context, target Target, unit string) error
	RestartService(ctx context.Context, target Target, unit string) error
}

// PlaybookRunner runs declarative playbooks against a node: bulk role
// deployment, role purge, and agent restart.
type PlaybookRunner interface {
	DeployRoles(ctx context.Context, target Target, roles []string) error
	PurgeRoles(ctx context.Context, target Target, roles []string) error
	RestartAgent(ctx context.Context, target Target) error
}

// Pinger probes basic reachability of a host.
type Pinger interface {
	Ping(ctx context.Context, host string) error
}

// HealthChecker performs one bounded HTTP GET against a health endpoint and
// returns the response status code.
type HealthChecker interface {
	Check(ctx context.Context, url string) (int, error)
}
