package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newNodeHandler() *Node {
	return &Node{}
}

func TestNodeGet_EmptyID(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/nodes/", nil)
	r = withChiURLParam(r, "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestNodeHeartbeat_EmptyID(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/nodes//heartbeat", map[string]any{
		"cpu_percent": 10,
	})
	r = withChiURLParam(r, "id", "")

	h.Heartbeat(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeHeartbeat_InvalidJSON(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/nodes/"+validID+"/heartbeat", "{")
	r = withChiURLParam(r, "id", validID)

	h.Heartbeat(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestNodeHeartbeat_MetricsOutOfRange(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/nodes/"+validID+"/heartbeat", map[string]any{
		"cpu_percent":    120,
		"memory_percent": 40,
		"disk_percent":   40,
	})
	r = withChiURLParam(r, "id", validID)

	h.Heartbeat(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestNodeHeartbeat_BadServiceStatus(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/nodes/"+validID+"/heartbeat", map[string]any{
		"cpu_percent": 10,
		"services": []map[string]any{
			{"name": "redis-server", "status": "exploded"},
		},
	})
	r = withChiURLParam(r, "id", validID)

	h.Heartbeat(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeEvents_EmptyID(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/nodes//events", nil)
	r = withChiURLParam(r, "id", "")

	h.Events(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeResetServiceRemediation_MissingService(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/nodes/"+validID+"/services//remediation/reset", nil)
	r = withChiURLParam(r, "id", validID)
	r = withChiURLParam(r, "name", "")

	h.ResetServiceRemediation(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMaintenanceWindow_BadTimestamps(t *testing.T) {
	h := newNodeHandler()

	cases := []struct {
		name    string
		body    map[string]any
		wantMsg string
	}{
		{
			name: "unparseable starts_at",
			body: map[string]any{
				"reason":    "kernel upgrade",
				"starts_at": "tomorrow",
				"ends_at":   "2026-09-01T12:00:00Z",
			},
			wantMsg: "starts_at must be RFC 3339",
		},
		{
			name: "unparseable ends_at",
			body: map[string]any{
				"reason":    "kernel upgrade",
				"starts_at": "2026-09-01T10:00:00Z",
				"ends_at":   "later",
			},
			wantMsg: "ends_at must be RFC 3339",
		},
		{
			name: "ends before starts",
			body: map[string]any{
				"reason":    "kernel upgrade",
				"starts_at": "2026-09-01T12:00:00Z",
				"ends_at":   "2026-09-01T10:00:00Z",
			},
			wantMsg: "ends_at must be after starts_at",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r := newRequest(http.MethodPost, "/nodes/"+validID+"/maintenance-windows", tc.body)
			r = withChiURLParam(r, "id", validID)

			h.CreateMaintenanceWindow(rec, r)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeErrorResponse(rec)
			assert.Contains(t, body["error"], tc.wantMsg)
		})
	}
}

func TestCreateMaintenanceWindow_MissingReason(t *testing.T) {
	h := newNodeHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/nodes/"+validID+"/maintenance-windows", map[string]any{
		"starts_at": "2026-09-01T10:00:00Z",
		"ends_at":   "2026-09-01T12:00:00Z",
	})
	r = withChiURLParam(r, "id", validID)

	h.CreateMaintenanceWindow(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
