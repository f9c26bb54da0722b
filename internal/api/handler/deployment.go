package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/orchestrator"
)

type Deployment struct {
	orch *orchestrator.Orchestrator
	svc  *core.DeploymentService
}

func NewDeployment(orch *orchestrator.Orchestrator, svc *core.DeploymentService) *Deployment {
	return &Deployment{orch: orch, svc: svc}
}

func (h *Deployment) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateDeployment
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.orch.CreateDeployment(r.Context(), orchestrator.CreateParams{
		BlueNodeID:             req.BlueNodeID,
		GreenNodeID:            req.GreenNodeID,
		Roles:                  req.Roles,
		HealthCheckURL:         req.HealthCheckURL,
		HealthCheckInterval:    req.HealthCheckInterval,
		HealthCheckTimeout:     req.HealthCheckTimeout,
		AutoRollback:           req.AutoRollback,
		MonitorDuration:        req.MonitorDuration,
		HealthFailureThreshold: req.HealthFailureThreshold,
		PurgeOnComplete:        req.PurgeOnComplete,
	})
	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			response.WriteError(w, http.StatusBadRequest, verr.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, d)
}

func (h *Deployment) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	status := model.DeploymentStatus(r.URL.Query().Get("status"))

	deployments, err := h.svc.List(r.Context(), status, pg.Limit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, deployments)
}

func (h *Deployment) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, d)
}

func (h *Deployment) Switch(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.SwitchTraffic)
}

func (h *Deployment) Rollback(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.Rollback)
}

func (h *Deployment) Cancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.Cancel)
}

func (h *Deployment) Retry(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.orch.Retry)
}

// action runs one manual deployment operation and returns the refreshed
// record. Phase precondition violations map to 409.
func (h *Deployment) action(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), id); err != nil {
		var serr *orchestrator.StatusError
		switch {
		case errors.As(err, &serr):
			response.WriteError(w, http.StatusConflict, serr.Error())
		case errors.Is(err, pgx.ErrNoRows):
			response.WriteError(w, http.StatusNotFound, err.Error())
		default:
			response.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	d, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, d)
}

func (h *Deployment) Eligible(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("roles")
	if raw == "" {
		response.WriteError(w, http.StatusBadRequest, "roles query parameter is required")
		return
	}
	roles := strings.Split(raw, ",")

	nodes, err := h.orch.FindEligibleNodes(r.Context(), roles)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, nodes)
}
