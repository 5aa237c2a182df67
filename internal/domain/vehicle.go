package domain

import "time"

// Role is the identity role of a connection as reported by the auth layer
type Role string

const (
	RoleDriver  Role = "driver"
	RoleStudent Role = "student"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleDriver:
		return RoleDriver, true
	case RoleStudent:
		return RoleStudent, true
	default:
		return "", false
	}
}

// Position is a single fix reported by a driver
type Position struct {
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Vehicle is a driver's live tracking session
type Vehicle struct {
	ID           string    `json:"vehicleId"`
	RouteLabel   string    `json:"routeLabel"`
	DisplayName  string    `json:"displayName"`
	ConnectionID string    `json:"connectionId"`
	LastPosition *Position `json:"lastPosition,omitempty"`
	LiveSince    time.Time `json:"liveSince"`
}

// Clone returns a deep copy safe to hand out of a store
func (v *Vehicle) Clone() *Vehicle {
	c := *v
	if v.LastPosition != nil {
		p := *v.LastPosition
		c.LastPosition = &p
	}
	return &c
}

// PresenceSnapshot is the ordered list of live vehicles at a point in time.
// Version increases with every membership change.
type PresenceSnapshot struct {
	Version  uint64     `json:"version"`
	Vehicles []*Vehicle `json:"vehicles"`
}

// Route is the result of one routing-service call
type Route struct {
	Polyline        [][2]float64 `json:"polyline"`
	DistanceMeters  float64      `json:"distanceMeters"`
	DurationSeconds float64      `json:"durationSeconds"`
}

// RouteSummary is the externally visible navigation context of a vehicle
type RouteSummary struct {
	Arrived        bool    `json:"arrived"`
	HasRoute       bool    `json:"hasRoute"`
	DistanceMeters float64 `json:"distanceMeters"`
	ETASeconds     float64 `json:"etaSeconds"`
}
