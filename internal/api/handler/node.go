package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
	"github.com/edvin/fleet/internal/reconciler"
)

type Node struct {
	nodes       *core.NodeService
	services    *core.ServiceService
	events      *core.EventService
	maintenance *core.MaintenanceService
	rec         *reconciler.Reconciler
}

func NewNode(nodes *core.NodeService, services *core.ServiceService, events *core.EventService, maintenance *core.MaintenanceService, rec *reconciler.Reconciler) *Node {
	return &Node{nodes: nodes, services: services, events: events, maintenance: maintenance, rec: rec}
}

func (h *Node) List(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.nodes.List(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, nodes)
}

func (h *Node) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, err := h.nodes.Resolve(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, node)
}

// Heartbeat ingests one node agent report: metrics, computed status and the
// discovered service list.
func (h *Node) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.Heartbeat
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := reconciler.HeartbeatParams{
		Node:          id,
		CPUPercent:    req.CPUPercent,
		MemoryPercent: req.MemoryPercent,
		DiskPercent:   req.DiskPercent,
		Metadata:      req.Metadata,
	}
	for _, svc := range req.Services {
		params.Services = append(params.Services, reconciler.ReportedService{
			Name:     svc.Name,
			Status:   model.ServiceStatus(svc.Status),
			Enabled:  svc.Enabled,
			Category: svc.Category,
		})
	}

	node, err := h.rec.ApplyHeartbeat(r.Context(), params)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, node)
}

func (h *Node) Services(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	services, err := h.services.ListByNode(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, services)
}

func (h *Node) Events(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pg := request.ParsePagination(r)
	events, hasMore, err := h.events.ListByNode(r.Context(), id, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		nextCursor = events[len(events)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, events, nextCursor, hasMore)
}

// ResetRemediation clears the node-level remediation tracker so automatic
// attempts resume after an exhausted cap.
func (h *Node) ResetRemediation(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, err := h.nodes.Resolve(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	h.rec.ResetRemediationTracker(node.ID)
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ResetServiceRemediation clears the tracker for one service on one node.
func (h *Node) ResetServiceRemediation(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, err := h.nodes.Resolve(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	h.rec.ResetServiceRemediationTracker(node.ID, name)
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Node) ListMaintenanceWindows(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	windows, err := h.maintenance.ListByNode(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, windows)
}

func (h *Node) CreateMaintenanceWindow(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.CreateMaintenanceWindow
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, "starts_at must be RFC 3339")
		return
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, "ends_at must be RFC 3339")
		return
	}
	if !endsAt.After(startsAt) {
		response.WriteError(w, http.StatusBadRequest, "ends_at must be after starts_at")
		return
	}

	node, err := h.nodes.Resolve(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	window := &model.MaintenanceWindow{
		ID:        platform.NewID(),
		NodeID:    node.ID,
		Reason:    req.Reason,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		CreatedAt: time.Now(),
	}
	if err := h.maintenance.Create(r.Context(), window); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusCreated, window)
}
