package handler

import (
	"net/http"
	"sync/atomic"
	"time"

	"campusbus/internal/coordinator"
	"campusbus/internal/hub"
)

type HealthHandler struct {
	hub   *hub.Hub
	coord *coordinator.Coordinator
	ready atomic.Bool
}

func NewHealthHandler(h *hub.Hub, coord *coordinator.Coordinator) *HealthHandler {
	return &HealthHandler{
		hub:   h,
		coord: coord,
	}
}

// SetReady flips readiness; false while starting up and draining
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool             `json:"ready"`
	Mode         coordinator.Mode `json:"mode"`
	VehicleCount int              `json:"vehicleCount"`
	Connections  int              `json:"connections"`
	ServerTime   time.Time        `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.Load()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:        ready,
		Mode:         h.coord.Mode(),
		VehicleCount: len(h.coord.Snapshot().Vehicles),
		Connections:  h.hub.ClientCount(),
		ServerTime:   time.Now(),
	})
}
