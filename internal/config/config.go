package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string

	// ReconcileInterval is the tick interval of the health reconciler loop.
	ReconcileInterval time.Duration

	// PlaybookDir holds the ansible playbooks used for bulk role deployment,
	// role purge and agent restart.
	PlaybookDir     string
	PlaybookTimeout time.Duration

	SSHKeyPath string
	SSHTimeout time.Duration

	// ManifestDir holds role manifest YAML files (health endpoints, TLS
	// rotation policy) polled by the reconciler.
	ManifestDir string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "fleet-api"),
		ReconcileInterval: getDuration("RECONCILE_INTERVAL", 30*time.Second),
		PlaybookDir:       getEnv("PLAYBOOK_DIR", "/etc/fleet/playbooks"),
		PlaybookTimeout:   getDuration("PLAYBOOK_TIMEOUT", 10*time.Minute),
		SSHKeyPath:        getEnv("SSH_KEY_PATH", "/etc/fleet/ssh/id_ed25519"),
		SSHTimeout:        getDuration("SSH_TIMEOUT", 30*time.Second),
		ManifestDir:       getEnv("MANIFEST_DIR", "/etc/fleet/manifests"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ReconcileInterval < time.Second {
		return fmt.Errorf("RECONCILE_INTERVAL must be at least 1s, got %s", c.ReconcileInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare integers are treated as seconds.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
