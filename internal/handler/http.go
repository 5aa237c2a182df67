package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"campusbus/internal/coordinator"
	"campusbus/internal/domain"
)

type HTTPHandler struct {
	coord *coordinator.Coordinator
}

func NewHTTPHandler(coord *coordinator.Coordinator) *HTTPHandler {
	return &HTTPHandler{coord: coord}
}

type VehiclesResponse struct {
	Mode       coordinator.Mode  `json:"mode"`
	Version    uint64            `json:"version"`
	Vehicles   []*domain.Vehicle `json:"vehicles"`
	Count      int               `json:"count"`
	ServerTime time.Time         `json:"serverTime"`
}

type VehicleResponse struct {
	Vehicle    *domain.Vehicle     `json:"vehicle"`
	Route      domain.RouteSummary `json:"route"`
	ServerTime time.Time           `json:"serverTime"`
}

func (h *HTTPHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()

	vehicles := snap.Vehicles
	if route := strings.TrimSpace(r.URL.Query().Get("route")); route != "" {
		filtered := make([]*domain.Vehicle, 0, len(vehicles))
		for _, v := range vehicles {
			if strings.EqualFold(v.RouteLabel, route) {
				filtered = append(filtered, v)
			}
		}
		vehicles = filtered
	}

	respondJSON(w, http.StatusOK, VehiclesResponse{
		Mode:       h.coord.Mode(),
		Version:    snap.Version,
		Vehicles:   vehicles,
		Count:      len(vehicles),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing vehicle id")
		return
	}

	vehicle, route, err := h.coord.Vehicle(id)
	if errors.Is(err, domain.ErrNotFound) {
		respondError(w, http.StatusNotFound, "vehicle not live")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, VehicleResponse{
		Vehicle:    vehicle,
		Route:      route,
		ServerTime: time.Now(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
