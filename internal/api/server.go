package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/api/handler"
	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/broadcast"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/orchestrator"
	"github.com/edvin/fleet/internal/reconciler"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	orch     *orchestrator.Orchestrator
	rec      *reconciler.Reconciler
	hub      *broadcast.Hub
}

func NewServer(
	logger zerolog.Logger,
	pool *pgxpool.Pool,
	services *core.Services,
	orch *orchestrator.Orchestrator,
	rec *reconciler.Reconciler,
	hub *broadcast.Hub,
) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		orch:     orch,
		rec:      rec,
		hub:      hub,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// Live event stream.
	s.router.Handle("/events", s.hub)

	s.router.Route("/api/v1", func(r chi.Router) {
		deployment := handler.NewDeployment(s.orch, s.services.Deployment)
		r.Get("/deployments", deployment.List)
		r.Post("/deployments", deployment.Create)
		r.Get("/deployments/{id}", deployment.Get)
		r.Post("/deployments/{id}/switch", deployment.Switch)
		r.Post("/deployments/{id}/rollback", deployment.Rollback)
		r.Post("/deployments/{id}/cancel", deployment.Cancel)
		r.Post("/deployments/{id}/retry", deployment.Retry)
		r.Get("/deployments/eligible-nodes", deployment.Eligible)

		node := handler.NewNode(s.services.Node, s.services.Service, s.services.Event, s.services.Maintenance, s.rec)
		r.Get("/nodes", node.List)
		r.Get("/nodes/{id}", node.Get)
		r.Post("/nodes/{id}/heartbeat", node.Heartbeat)
		r.Get("/nodes/{id}/services", node.Services)
		r.Get("/nodes/{id}/events", node.Events)
		r.Post("/nodes/{id}/remediation/reset", node.ResetRemediation)
		r.Post("/nodes/{id}/services/{name}/remediation/reset", node.ResetServiceRemediation)
		r.Get("/nodes/{id}/maintenance-windows", node.ListMaintenanceWindows)
		r.Post("/nodes/{id}/maintenance-windows", node.CreateMaintenanceWindow)

		settings := handler.NewSettings(s.services.Settings)
		r.Get("/settings", settings.List)
		r.Get("/settings/{key}", settings.Get)
		r.Put("/settings/{key}", settings.Update)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
