package hub

import (
	"encoding/json"
	"time"

	"campusbus/internal/domain"
)

// Outbound message types
const (
	TypePresence = "presence"
	TypePosition = "position"
	TypeRoute    = "route"
	TypeArrival  = "arrival"
	TypeOffline  = "offline"
	TypePong     = "pong"
	TypeError    = "error"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type PositionPayload struct {
	VehicleID string    `json:"vehicleId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type RoutePayload struct {
	VehicleID      string       `json:"vehicleId"`
	DistanceMeters float64      `json:"distanceMeters"`
	ETASeconds     float64      `json:"etaSeconds"`
	Polyline       [][2]float64 `json:"polyline,omitempty"`
}

type VehicleRef struct {
	VehicleID string `json:"vehicleId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(msgType string, payload any) []byte {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return nil
	}
	return data
}

func PresenceMessage(s domain.PresenceSnapshot) []byte {
	return encode(TypePresence, s)
}

func PositionMessage(vehicleID string, p domain.Position) []byte {
	return encode(TypePosition, PositionPayload{
		VehicleID: vehicleID,
		Latitude:  p.Lat,
		Longitude: p.Lon,
		Timestamp: p.Timestamp,
	})
}

func RouteMessage(vehicleID string, r *domain.Route) []byte {
	return encode(TypeRoute, RoutePayload{
		VehicleID:      vehicleID,
		DistanceMeters: r.DistanceMeters,
		ETASeconds:     r.DurationSeconds,
		Polyline:       r.Polyline,
	})
}

func ArrivalMessage(vehicleID string) []byte {
	return encode(TypeArrival, VehicleRef{VehicleID: vehicleID})
}

func OfflineMessage(vehicleID string) []byte {
	return encode(TypeOffline, VehicleRef{VehicleID: vehicleID})
}

func PongMessage() []byte {
	return encode(TypePong, nil)
}

func ErrorMessage(code, message string) []byte {
	return encode(TypeError, ErrorPayload{Code: code, Message: message})
}
