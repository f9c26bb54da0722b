package runner

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Playbook filenames resolved relative to the playbook directory.
const (
	playbookDeployRoles  = "deploy-roles.yml"
	playbookPurgeRoles   = "purge-roles.yml"
	playbookRestartAgent = "restart-agent.yml"
)

// AnsibleRunner invokes ansible-playbook as a subprocess, parameterized by
// target host/user/port and a comma-joined role list.
type AnsibleRunner struct {
	logger  zerolog.Logger
	dir     string
	timeout time.Duration
}

func NewAnsibleRunner(logger zerolog.Logger, dir string, timeout time.Duration) *AnsibleRunner {
	return &AnsibleRunner{
		logger:  logger.With().Str("component", "ansible-runner").Logger(),
		dir:     dir,
		timeout: timeout,
	}
}

func (r *AnsibleRunner) DeployRoles(ctx context.Context, target Target, roles []string) error {
	if err := ValidateNames(roles); err != nil {
		return fmt.Errorf("deploy roles: %w", err)
	}
	return r.run(ctx, playbookDeployRoles, target, map[string]string{
		"fleet_roles": strings.Join(roles, ","),
	})
}

func (r *AnsibleRunner) PurgeRoles(ctx context.Context, target Target, roles []string) error {
	if err := ValidateNames(roles); err != nil {
		return fmt.Errorf("purge roles: %w", err)
	}
	return r.run(ctx, playbookPurgeRoles, target, map[string]string{
		"fleet_roles": strings.Join(roles, ","),
	})
}

func (r *AnsibleRunner) RestartAgent(ctx context.Context, target Target) error {
	return r.run(ctx, playbookRestartAgent, target, nil)
}

func (r *AnsibleRunner) run(ctx context.Context, playbook string, target Target, extraVars map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		filepath.Join(r.dir, playbook),
		"-i", target.Host + ",",
		"-u", target.User,
		"-e", fmt.Sprintf("ansible_port=%d", target.Port),
	}
	for k, v := range extraVars {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "ansible-playbook", args...)
	out, err := cmd.CombinedOutput()
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("playbook %s on %s timed out after %s", playbook, target.Host, r.timeout)
		}
		return fmt.Errorf("playbook %s on %s: %w (output: %s)",
			playbook, target.Host, err, tail(string(out), 2000))
	}

	r.logger.Info().
		Str("playbook", playbook).
		Str("host", target.Host).
		Dur("duration", duration).
		Msg("playbook completed")
	return nil
}

// tail returns the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
