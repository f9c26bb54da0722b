package runner

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"
)

// ICMPPinger probes reachability with the system ping binary.
type ICMPPinger struct{}

func (ICMPPinger) Ping(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", host)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ping %s: %w", host, err)
	}
	return nil
}

// HTTPChecker performs bounded GET requests against health endpoints.
// Callers decide which status codes count as healthy; deployment
// verification requires exactly 200 while manifest polling accepts
// anything under 400.
type HTTPChecker struct {
	client *http.Client
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{client: &http.Client{Timeout: timeout}}
}

func (c *HTTPChecker) Check(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build health check request for %s: %w", url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("health check %s: %w", url, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
