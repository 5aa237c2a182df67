package hub

import (
	"context"
	"log/slog"
	"sync"

	"campusbus/internal/domain"
	"campusbus/internal/metrics"
)

// Outbound is one frame queued for a client
type Outbound struct {
	VehicleID string
	// Scoped frames are only written while the client still follows VehicleID
	Scoped bool
	Data   []byte
}

type Client struct {
	ID     string
	UserID string
	Role   domain.Role
	Send   chan Outbound
}

func NewClient(id, userID string, role domain.Role, bufferSize int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		Send:   make(chan Outbound, bufferSize),
	}
}

type scope int

const (
	scopeAll scope = iota
	scopeFollowers
	scopeDirect
)

type envelope struct {
	scope     scope
	vehicleID string
	clientIDs []string
	scoped    bool
	data      []byte
}

// Hub owns the set of connected clients and delivers outbound frames in
// the order they were queued.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	subs    *Subscriptions

	unregister chan *Client
	outbound   chan envelope
	done       chan struct{}

	logger *slog.Logger
}

func NewHub(subs *Subscriptions, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		subs:       subs,
		unregister: make(chan *Client, 16),
		outbound:   make(chan envelope, 1024),
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.unregister:
			h.removeClient(client)

		case env := <-h.outbound:
			h.deliver(env)
		}
	}
}

// Register adds client immediately, so frames queued after Register
// returns reach it.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.Connections.Inc()
	h.logger.Debug("client registered",
		"client_id", client.ID, "user_id", client.UserID, "role", client.Role, "total", total)
}

// Unregister removes client and closes its Send channel from the Run loop
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Subscriptions() *Subscriptions {
	return h.subs
}

// Broadcast queues data for every connected client
func (h *Hub) Broadcast(vehicleID string, data []byte) {
	h.enqueue(envelope{scope: scopeAll, vehicleID: vehicleID, data: data})
}

// Publish queues data for the observers following vehicleID
func (h *Hub) Publish(vehicleID string, data []byte) {
	h.enqueue(envelope{scope: scopeFollowers, vehicleID: vehicleID, scoped: true, data: data})
}

// PublishOffline clears the subscriptions to vehicleID and queues data for
// the observers that held them (or everyone when toAll is set). Followers
// are resolved now, so a follow made after this call keeps its target and
// does not see the frame.
func (h *Hub) PublishOffline(vehicleID string, data []byte, toAll bool) {
	var released []string
	for _, id := range h.subs.ResolveObservers(vehicleID) {
		if h.subs.UnfollowIfMatches(id, vehicleID) {
			released = append(released, id)
		}
	}

	if toAll {
		h.enqueue(envelope{scope: scopeAll, vehicleID: vehicleID, data: data})
		return
	}
	if len(released) == 0 {
		return
	}
	h.enqueue(envelope{scope: scopeDirect, vehicleID: vehicleID, clientIDs: released, data: data})
}

// SendTo queues data for a single client behind everything already queued
func (h *Hub) SendTo(clientID string, data []byte) {
	h.enqueue(envelope{scope: scopeDirect, clientIDs: []string{clientID}, data: data})
}

// PresenceChanged broadcasts the live-vehicle directory to every client
func (h *Hub) PresenceChanged(snapshot domain.PresenceSnapshot) {
	h.Broadcast("", PresenceMessage(snapshot))
}

func (h *Hub) Follow(clientID, vehicleID string) string {
	return h.subs.Follow(clientID, vehicleID)
}

func (h *Hub) Unfollow(clientID string) (string, bool) {
	return h.subs.Unfollow(clientID)
}

// Deliverable reports whether m should still be written to client
func (h *Hub) Deliverable(client *Client, m Outbound) bool {
	if !m.Scoped {
		return true
	}
	following, ok := h.subs.Following(client.ID)
	return ok && following == m.VehicleID
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(env envelope) {
	if env.data == nil {
		return
	}
	select {
	case h.outbound <- env:
	default:
		metrics.OutboundDropped.Inc()
		h.logger.Warn("outbound queue full, dropping message", "vehicle_id", env.vehicleID)
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := Outbound{VehicleID: env.vehicleID, Scoped: env.scoped, Data: env.data}

	switch env.scope {
	case scopeAll:
		for _, client := range h.clients {
			h.trySend(client, msg)
		}
	case scopeFollowers:
		for _, id := range h.subs.ResolveObservers(env.vehicleID) {
			if client, ok := h.clients[id]; ok {
				h.trySend(client, msg)
			}
		}
	case scopeDirect:
		for _, id := range env.clientIDs {
			if client, ok := h.clients[id]; ok {
				h.trySend(client, msg)
			}
		}
	}
}

func (h *Hub) trySend(client *Client, msg Outbound) {
	select {
	case client.Send <- msg:
	default:
		metrics.OutboundDropped.Inc()
		h.logger.Debug("client send buffer full", "client_id", client.ID)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	h.subs.Unfollow(client.ID)
	delete(h.clients, client.ID)
	close(client.Send)
	metrics.Connections.Dec()
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.Send)
		metrics.Connections.Dec()
	}
	h.clients = make(map[string]*Client)
}
