package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"campusbus/internal/domain"
	"campusbus/internal/geo"
	"campusbus/internal/hub"
	"campusbus/internal/metrics"
	"campusbus/internal/store"
	"campusbus/internal/tracker"
)

// Mode is the delivery policy for vehicle-scoped events. Presence is
// broadcast in both modes.
type Mode string

const (
	ModeFollow    Mode = "follow"
	ModeBroadcast Mode = "broadcast"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFollow, "":
		return ModeFollow, nil
	case ModeBroadcast:
		return ModeBroadcast, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q", s)
	}
}

// Publisher delivers encoded frames to connected observers
type Publisher interface {
	Broadcast(vehicleID string, data []byte)
	Publish(vehicleID string, data []byte)
	PublishOffline(vehicleID string, data []byte, toAll bool)
	SendTo(clientID string, data []byte)
	Follow(clientID, vehicleID string) string
	Unfollow(clientID string) (string, bool)
}

// Inbound event names, used as metric labels
const (
	EventGoLive    = "go_live"
	EventPosition  = "position"
	EventGoOffline = "go_offline"
	EventFollow    = "follow"
	EventUnfollow  = "unfollow"
	EventPing      = "ping"
)

type GoLiveRequest struct {
	VehicleID   string `json:"vehicleId" validate:"required,max=64"`
	RouteLabel  string `json:"routeLabel" validate:"required,max=128"`
	DisplayName string `json:"displayName" validate:"max=128"`
}

// Coordinator turns inbound connection events into registry and tracker
// operations and publishes the resulting outbound events.
type Coordinator struct {
	registry *store.Registry
	tracker  *tracker.Tracker
	pub      Publisher
	mode     Mode

	// routing calls still running, drained by Wait
	wg sync.WaitGroup

	now    func() time.Time
	logger *slog.Logger
}

func New(registry *store.Registry, tr *tracker.Tracker, pub Publisher, mode Mode, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		tracker:  tr,
		pub:      pub,
		mode:     mode,
		now:      time.Now,
		logger:   logger.With("component", "coordinator"),
	}
}

func (c *Coordinator) Mode() Mode {
	return c.mode
}

func (c *Coordinator) Snapshot() domain.PresenceSnapshot {
	return c.registry.Snapshot()
}

// SendPresence queues the current snapshot for one connection. It is
// queued under the registry lock, so a concurrent membership change cannot
// overtake it with a newer version.
func (c *Coordinator) SendPresence(connID string) {
	c.registry.SnapshotWith(func(s domain.PresenceSnapshot) {
		c.pub.SendTo(connID, hub.PresenceMessage(s))
	})
}

// Vehicle returns a live vehicle with its navigation summary
func (c *Coordinator) Vehicle(vehicleID string) (*domain.Vehicle, domain.RouteSummary, error) {
	v, sum, ok := c.registry.Get(vehicleID)
	if !ok {
		return nil, domain.RouteSummary{}, fmt.Errorf("vehicle %s: %w", vehicleID, domain.ErrNotFound)
	}
	return v, sum, nil
}

// GoLive registers the vehicle for connID. The presence broadcast is issued
// by the registry's notifier.
func (c *Coordinator) GoLive(connID string, role domain.Role, req GoLiveRequest) (v *domain.Vehicle, err error) {
	defer func() { c.observe(EventGoLive, err) }()

	if role != domain.RoleDriver {
		return nil, fmt.Errorf("go live as %q: %w", role, domain.ErrForbidden)
	}

	reg, err := c.registry.RegisterLive(connID, req.VehicleID, req.RouteLabel, req.DisplayName)
	if err != nil {
		return nil, err
	}

	if reg.Released != nil {
		c.pub.PublishOffline(reg.Released.ID, hub.OfflineMessage(reg.Released.ID), c.mode == ModeBroadcast)
	}
	if reg.EvictedConn != "" {
		c.logger.Debug("vehicle taken over by another connection",
			"vehicle_id", reg.Vehicle.ID, "evicted_conn", reg.EvictedConn, "conn_id", connID)
	}

	c.logger.Info("vehicle live", "vehicle_id", reg.Vehicle.ID, "route", reg.Vehicle.RouteLabel, "conn_id", connID)
	return reg.Vehicle, nil
}

// ReportPosition records a fix for the vehicle owned by connID and publishes
// it. A route request, when due, runs in the background.
func (c *Coordinator) ReportPosition(connID string, role domain.Role, lat, lon float64) (v *domain.Vehicle, err error) {
	defer func() { c.observe(EventPosition, err) }()

	if role != domain.RoleDriver {
		return nil, fmt.Errorf("report position as %q: %w", role, domain.ErrForbidden)
	}
	point := geo.Point{Lat: lat, Lon: lon}
	if !geo.Valid(point) {
		return nil, fmt.Errorf("position (%f, %f) out of range: %w", lat, lon, domain.ErrInvalidRequest)
	}

	pos := domain.Position{Lat: lat, Lon: lon, Timestamp: c.now()}

	var (
		req   *tracker.Request
		state *tracker.State
	)
	v, err = c.registry.ReportPosition(connID, pos, func(v *domain.Vehicle, rs *tracker.State) {
		c.deliver(v.ID, hub.PositionMessage(v.ID, pos))

		d, r := c.tracker.Evaluate(rs, point)
		if d.Kind == tracker.Arrived {
			c.deliver(v.ID, hub.ArrivalMessage(v.ID))
			c.logger.Info("vehicle arrived", "vehicle_id", v.ID)
		}
		req, state = r, rs
	})
	if err != nil {
		return nil, err
	}

	if req != nil {
		c.wg.Add(1)
		go c.resolveRoute(v.ID, state, req)
	}
	return v, nil
}

func (c *Coordinator) resolveRoute(vehicleID string, state *tracker.State, req *tracker.Request) {
	defer c.wg.Done()

	// Left to finish after a disconnect; Resolve drops the result.
	route, err := c.tracker.Fetch(context.Background(), req)
	d := c.tracker.ResolveThen(state, req, route, err, func(d tracker.Decision) {
		c.deliver(vehicleID, hub.RouteMessage(vehicleID, d.Route))
	})

	if d.Kind == tracker.Failed {
		c.logger.Debug("route update failed, keeping previous route", "vehicle_id", vehicleID, "error", err)
	}
}

// GoOffline ends the lifecycle of the vehicle owned by connID
func (c *Coordinator) GoOffline(connID string, role domain.Role) (err error) {
	defer func() { c.observe(EventGoOffline, err) }()

	if role != domain.RoleDriver {
		return fmt.Errorf("go offline as %q: %w", role, domain.ErrForbidden)
	}
	if !c.release(connID) {
		return fmt.Errorf("connection %s owns no live vehicle: %w", connID, domain.ErrNotFound)
	}
	return nil
}

// Disconnect is GoOffline for a closed transport. It is a no-op for
// connections that own no vehicle.
func (c *Coordinator) Disconnect(connID string) {
	c.release(connID)
}

func (c *Coordinator) release(connID string) bool {
	v, ok := c.registry.Unregister(connID)
	if !ok {
		return false
	}
	c.pub.PublishOffline(v.ID, hub.OfflineMessage(v.ID), c.mode == ModeBroadcast)
	c.logger.Info("vehicle offline", "vehicle_id", v.ID, "conn_id", connID)
	return true
}

// Follow points observerID at vehicleID. The vehicle need not be live.
func (c *Coordinator) Follow(observerID, vehicleID string) (err error) {
	defer func() { c.observe(EventFollow, err) }()

	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return fmt.Errorf("vehicle id is required: %w", domain.ErrInvalidRequest)
	}
	if prev := c.pub.Follow(observerID, vehicleID); prev != "" && prev != vehicleID {
		c.logger.Debug("follow switched", "conn_id", observerID, "from", prev, "to", vehicleID)
	}
	return nil
}

func (c *Coordinator) Unfollow(observerID string) {
	c.pub.Unfollow(observerID)
	c.observe(EventUnfollow, nil)
}

// Wait blocks until background route requests have finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) deliver(vehicleID string, data []byte) {
	if c.mode == ModeBroadcast {
		c.pub.Broadcast(vehicleID, data)
		return
	}
	c.pub.Publish(vehicleID, data)
}

func (c *Coordinator) observe(event string, err error) {
	metrics.InboundEvents.WithLabelValues(event, Result(err)).Inc()
	if err != nil {
		c.logger.Debug("event rejected", "event", event, "error", err)
	}
}

// Result maps an event error to a short outcome label
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
