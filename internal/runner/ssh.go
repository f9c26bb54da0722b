package runner

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SSHRunner executes single commands on nodes over SSH with public-key
// authentication.
type SSHRunner struct {
	logger  zerolog.Logger
	signer  ssh.Signer
	timeout time.Duration
}

func NewSSHRunner(logger zerolog.Logger, keyPath string, timeout time.Duration) (*SSHRunner, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}

	return &SSHRunner{
		logger:  logger.With().Str("component", "ssh-runner").Logger(),
		signer:  signer,
		timeout: timeout,
	}, nil
}

func (r *SSHRunner) StopService(ctx context.Context, target Target, unit string) error {
	if err := ValidateName(unit); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return r.run(ctx, target, "sudo systemctl stop "+unit)
}

func (r *SSHRunner) RestartService(ctx context.Context, target Target, unit string) error {
	if err := ValidateName(unit); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}
	return r.run(ctx, target, "sudo systemctl restart "+unit)
}

func (r *SSHRunner) run(ctx context.Context, target Target, command string) error {
	deadline := r.timeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < deadline {
			deadline = remaining
		}
	}

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         deadline,
	}

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session %s: %w", addr, err)
	}
	defer session.Close()

	// Enforce the command timeout even if the remote side hangs.
	done := make(chan error, 1)
	go func() {
		out, runErr := session.CombinedOutput(command)
		if runErr != nil {
			runErr = fmt.Errorf("remote command %q on %s: %w (output: %s)",
				command, addr, runErr, strings.TrimSpace(string(out)))
		}
		done <- runErr
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case err := <-done:
		if err == nil {
			r.logger.Debug().Str("host", target.Host).Str("command", command).Msg("remote command succeeded")
		}
		return err
	case <-ctx.Done():
		session.Close()
		return fmt.Errorf("remote command %q on %s: %w", command, addr, ctx.Err())
	case <-timer.C:
		session.Close()
		return fmt.Errorf("remote command %q on %s timed out after %s", command, addr, deadline)
	}
}
