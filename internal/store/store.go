package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"campusbus/internal/domain"
	"campusbus/internal/metrics"
	"campusbus/internal/tracker"
)

// Notifier receives the presence snapshot after every membership change.
// It is called with the registry lock held, so it must not block or call
// back into the registry.
type Notifier interface {
	PresenceChanged(snapshot domain.PresenceSnapshot)
}

// entry is one live vehicle. mu serializes all per-vehicle mutations.
type entry struct {
	mu      sync.Mutex
	vehicle *domain.Vehicle
	route   *tracker.State
	removed bool
}

// Registry is the authoritative live-vehicle directory
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]*entry // vehicleID -> entry
	byConn   map[string]string // connectionID -> vehicleID
	order    []string          // vehicleIDs in go-live order
	version  uint64

	notifier Notifier
	now      func() time.Time
}

func New(notifier Notifier) *Registry {
	return &Registry{
		vehicles: make(map[string]*entry),
		byConn:   make(map[string]string),
		notifier: notifier,
		now:      time.Now,
	}
}

// Registration describes the outcome of RegisterLive
type Registration struct {
	Vehicle *domain.Vehicle
	// EvictedConn is the connection that previously owned the same vehicle ID
	EvictedConn string
	// Released is a different vehicle this connection owned before, now gone
	Released *domain.Vehicle
}

// RegisterLive creates or replaces the vehicle keyed by vehicleID. A previous
// owner connection silently loses the vehicle.
func (r *Registry) RegisterLive(connID, vehicleID, routeLabel, displayName string) (Registration, error) {
	vehicleID = strings.TrimSpace(vehicleID)
	routeLabel = strings.TrimSpace(routeLabel)
	if connID == "" || vehicleID == "" || routeLabel == "" {
		return Registration{}, fmt.Errorf("vehicle id and route label are required: %w", domain.ErrInvalidRequest)
	}

	v := &domain.Vehicle{
		ID:           vehicleID,
		RouteLabel:   routeLabel,
		DisplayName:  strings.TrimSpace(displayName),
		ConnectionID: connID,
		LiveSince:    r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var reg Registration

	// A connection owns at most one vehicle
	if prevID, ok := r.byConn[connID]; ok && prevID != vehicleID {
		reg.Released = r.removeLocked(prevID)
	}

	if old, ok := r.vehicles[vehicleID]; ok {
		if old.vehicle.ConnectionID != connID {
			reg.EvictedConn = old.vehicle.ConnectionID
		}
		delete(r.byConn, old.vehicle.ConnectionID)
		retire(old)
	} else {
		r.order = append(r.order, vehicleID)
	}

	r.vehicles[vehicleID] = &entry{vehicle: v}
	r.byConn[connID] = vehicleID
	r.changedLocked()

	reg.Vehicle = v.Clone()
	return reg, nil
}

// ReportPosition records pos for the vehicle owned by connID. fn, if not
// nil, runs with the vehicle's route state while the vehicle lock is held,
// so the position write and the tracker step form one atomic step.
func (r *Registry) ReportPosition(connID string, pos domain.Position, fn func(v *domain.Vehicle, rs *tracker.State)) (*domain.Vehicle, error) {
	r.mu.RLock()
	e, ok := r.entryByConnLocked(connID)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connection %s owns no live vehicle: %w", connID, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Replaced or removed between lookup and lock
	if e.removed || e.vehicle.ConnectionID != connID {
		return nil, fmt.Errorf("connection %s owns no live vehicle: %w", connID, domain.ErrNotFound)
	}

	p := pos
	e.vehicle.LastPosition = &p
	if e.route == nil {
		e.route = tracker.NewState()
	}

	v := e.vehicle.Clone()
	if fn != nil {
		fn(v, e.route)
	}
	return v, nil
}

// Unregister removes the vehicle owned by connID, if any
func (r *Registry) Unregister(connID string) (*domain.Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vehicleID, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	v := r.removeLocked(vehicleID)
	r.changedLocked()
	return v, true
}

// SnapshotWith calls fn with the current snapshot while membership changes
// are held off. Anything fn hands to the notifier's queue is ordered by
// version against the notifier's own snapshots. fn must not block.
func (r *Registry) SnapshotWith(fn func(domain.PresenceSnapshot)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.snapshotLocked())
}

// Get returns a copy of the vehicle and its route summary
func (r *Registry) Get(vehicleID string) (*domain.Vehicle, domain.RouteSummary, bool) {
	r.mu.RLock()
	e, ok := r.vehicles[vehicleID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.RouteSummary{}, false
	}

	e.mu.Lock()
	v := e.vehicle.Clone()
	rs := e.route
	e.mu.Unlock()

	var sum domain.RouteSummary
	if rs != nil {
		sum = rs.Summary()
	}
	return v, sum, true
}

func (r *Registry) Snapshot() domain.PresenceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

func (r *Registry) entryByConnLocked(connID string) (*entry, bool) {
	vehicleID, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	e, ok := r.vehicles[vehicleID]
	return e, ok
}

func (r *Registry) snapshotLocked() domain.PresenceSnapshot {
	vehicles := make([]*domain.Vehicle, 0, len(r.order))
	for _, id := range r.order {
		e := r.vehicles[id]
		e.mu.Lock()
		vehicles = append(vehicles, e.vehicle.Clone())
		e.mu.Unlock()
	}
	return domain.PresenceSnapshot{Version: r.version, Vehicles: vehicles}
}

func (r *Registry) removeLocked(vehicleID string) *domain.Vehicle {
	e, ok := r.vehicles[vehicleID]
	if !ok {
		return nil
	}
	delete(r.vehicles, vehicleID)
	delete(r.byConn, e.vehicle.ConnectionID)
	if i := slices.Index(r.order, vehicleID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return retire(e)
}

func (r *Registry) changedLocked() {
	r.version++
	metrics.LiveVehicles.Set(float64(len(r.vehicles)))
	if r.notifier != nil {
		r.notifier.PresenceChanged(r.snapshotLocked())
	}
}

// retire marks e dead and closes its route state so in-flight route
// results are discarded.
func retire(e *entry) *domain.Vehicle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	if e.route != nil {
		e.route.Close()
	}
	return e.vehicle.Clone()
}
