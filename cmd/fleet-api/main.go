package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edvin/fleet/internal/api"
	"github.com/edvin/fleet/internal/broadcast"
	"github.com/edvin/fleet/internal/config"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/db"
	"github.com/edvin/fleet/internal/logging"
	"github.com/edvin/fleet/internal/orchestrator"
	"github.com/edvin/fleet/internal/reconciler"
	"github.com/edvin/fleet/internal/runner"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations/core", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	services := core.NewServices(pool)
	hub := broadcast.NewHub(logger)

	ssh, err := runner.NewSSHRunner(logger, cfg.SSHKeyPath, cfg.SSHTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load SSH key")
	}
	playbooks := runner.NewAnsibleRunner(logger, cfg.PlaybookDir, cfg.PlaybookTimeout)
	health := runner.NewHTTPChecker(10 * time.Second)

	orch := orchestrator.New(
		logger,
		services.Node,
		services.Deployment,
		services.Event,
		ssh,
		playbooks,
		health,
		hub,
	)
	if err := orch.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("orchestrator startup failed")
	}

	manifests, err := reconciler.LoadManifests(cfg.ManifestDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ManifestDir).Msg("failed to load role manifests")
	}
	rec := reconciler.New(
		logger,
		services.Node,
		services.Service,
		services.Deployment,
		services.Event,
		services.Settings,
		services.Maintenance,
		ssh,
		playbooks,
		runner.ICMPPinger{},
		health,
		hub,
		cfg.ReconcileInterval,
		manifests,
	)
	go rec.RunLoop(ctx)

	srv := api.NewServer(logger, pool, services, orch, rec, hub)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsListenAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting fleet API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	// Cancelled deployment tasks roll back and persist before exit.
	orch.Wait()
}
