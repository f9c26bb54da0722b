package reconciler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edvin/fleet/internal/model"
)

const (
	certWarningDays  = 14
	certCriticalDays = 7
)

// Manifest is a declarative per-role description of how to check the role
// from the outside: an HTTP health endpoint and an optional TLS target
// whose certificate expiry is watched.
type Manifest struct {
	Role         string `yaml:"role"`
	HealthURL    string `yaml:"health_url"`
	ExpectStatus int    `yaml:"expect_status,omitempty"`
	CertHost     string `yaml:"cert_host,omitempty"`
}

// LoadManifests reads every .yml/.yaml file in dir. A missing directory is
// not an error: running without manifests just disables the polling.
func LoadManifests(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", entry.Name(), err)
		}
		var m Manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", entry.Name(), err)
		}
		if m.Role == "" {
			return nil, fmt.Errorf("manifest %s: role is required", entry.Name())
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// pollManifests GETs each manifest's health endpoint. Success is any status
// below 400 unless the manifest pins an exact expected status. A failing
// endpoint emits one event per node currently holding the role.
func (r *Reconciler) pollManifests(ctx context.Context) error {
	if len(r.manifests) == 0 {
		return nil
	}
	nodes, err := r.nodes.List(ctx)
	if err != nil {
		return err
	}

	for _, m := range r.manifests {
		if m.HealthURL == "" {
			continue
		}
		status, err := r.health.Check(ctx, m.HealthURL)
		healthy := err == nil && status < 400
		if m.ExpectStatus != 0 {
			healthy = err == nil && status == m.ExpectStatus
		}
		if healthy {
			continue
		}

		detail := fmt.Sprintf("status %d", status)
		if err != nil {
			detail = err.Error()
		}
		r.logger.Warn().Str("role", m.Role).Str("url", m.HealthURL).Str("detail", detail).
			Msg("manifest health endpoint failed")
		for i := range nodes {
			if !nodes[i].HasRole(m.Role) {
				continue
			}
			r.recordEvent(ctx, nodes[i].ID, model.EventManifestHealthFailed, model.SeverityWarning,
				fmt.Sprintf("role %s health endpoint %s failed: %s", m.Role, m.HealthURL, detail))
		}
	}
	return nil
}

// checkCertExpiry dials each manifest's TLS target and reports a leaf
// certificate approaching expiry: warning inside two weeks, critical
// inside one.
func (r *Reconciler) checkCertExpiry(ctx context.Context) error {
	var nodes []model.Node
	var nodesErr error
	nodesLoaded := false
	loadNodes := func() ([]model.Node, error) {
		if !nodesLoaded {
			nodes, nodesErr = r.nodes.List(ctx)
			nodesLoaded = true
		}
		return nodes, nodesErr
	}

	for _, m := range r.manifests {
		if m.CertHost == "" {
			continue
		}
		host := m.CertHost
		if !strings.Contains(host, ":") {
			host += ":443"
		}

		cert, err := leafCertificate(ctx, host)
		if err != nil {
			r.logger.Warn().Err(err).Str("role", m.Role).Str("host", host).
				Msg("certificate check failed")
			continue
		}

		days := int(time.Until(cert.NotAfter).Hours() / 24)
		if days >= certWarningDays {
			continue
		}
		severity := model.SeverityWarning
		if days < certCriticalDays {
			severity = model.SeverityCritical
		}

		all, err := loadNodes()
		if err != nil {
			return err
		}
		for i := range all {
			if !all[i].HasRole(m.Role) {
				continue
			}
			r.recordEvent(ctx, all[i].ID, model.EventCertExpiring, severity,
				fmt.Sprintf("role %s: certificate for %s expires %s (%d days)", m.Role, host, cert.NotAfter.Format("2006-01-02"), days))
		}
	}
	return nil
}

func leafCertificate(ctx context.Context, host string) (*x509.Certificate, error) {
	dialer := &tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12}}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", host, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tls dial %s: no peer certificates", host)
	}
	return state.PeerCertificates[0], nil
}
