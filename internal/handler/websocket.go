package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"campusbus/internal/coordinator"
	"campusbus/internal/domain"
	"campusbus/internal/hub"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 8 << 10
)

// Identity headers set by the upstream auth layer
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type WSOptions struct {
	BufferSize   int
	ReportErrors bool
}

type WSHandler struct {
	hub      *hub.Hub
	coord    *coordinator.Coordinator
	stats    *Stats
	validate *validator.Validate
	opts     WSOptions
	logger   *slog.Logger
}

func NewWSHandler(h *hub.Hub, coord *coordinator.Coordinator, stats *Stats, opts WSOptions, logger *slog.Logger) *WSHandler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	return &WSHandler{
		hub:      h,
		coord:    coord,
		stats:    stats,
		validate: validator.New(),
		opts:     opts,
		logger:   logger.With("component", "ws"),
	}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type PositionPayload struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
}

type FollowPayload struct {
	VehicleID string `json:"vehicleId" validate:"required,max=64"`
}

// identify reads the caller's identity. Connections without a role are
// treated as observers.
func identify(r *http.Request) (string, domain.Role, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}

	raw := strings.TrimSpace(r.Header.Get(HeaderUserRole))
	if raw == "" {
		raw = r.URL.Query().Get("role")
	}
	if raw == "" {
		return userID, domain.RoleStudent, nil
	}

	role, ok := domain.ParseRole(strings.ToLower(raw))
	if !ok {
		return "", "", fmt.Errorf("unknown role %q: %w", raw, domain.ErrInvalidRequest)
	}
	return userID, role, nil
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, role, err := identify(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	client := hub.NewClient(uuid.New().String(), userID, role, h.opts.BufferSize)
	h.hub.Register(client)
	h.coord.SendPresence(client.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.coord.Disconnect(client.ID)
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		h.stats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reject(client, "", fmt.Errorf("malformed frame: %w", domain.ErrInvalidRequest))
			continue
		}

		if err := h.handle(client, msg); err != nil {
			h.reject(client, msg.Type, err)
		}
	}
}

func (h *WSHandler) handle(client *hub.Client, msg WSMessage) error {
	switch msg.Type {
	case coordinator.EventGoLive:
		var p coordinator.GoLiveRequest
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := h.coord.GoLive(client.ID, client.Role, p)
		return err

	case coordinator.EventPosition:
		var p PositionPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := h.coord.ReportPosition(client.ID, client.Role, *p.Latitude, *p.Longitude)
		return err

	case coordinator.EventGoOffline:
		return h.coord.GoOffline(client.ID, client.Role)

	case coordinator.EventFollow:
		var p FollowPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		return h.coord.Follow(client.ID, p.VehicleID)

	case coordinator.EventUnfollow:
		h.coord.Unfollow(client.ID)
		return nil

	case coordinator.EventPing:
		h.hub.SendTo(client.ID, hub.PongMessage())
		return nil

	default:
		return fmt.Errorf("unknown message type %q: %w", msg.Type, domain.ErrInvalidRequest)
	}
}

func (h *WSHandler) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload: %w", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding payload: %w", errors.Join(domain.ErrInvalidRequest, err))
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("validating payload: %w", errors.Join(domain.ErrInvalidRequest, err))
	}
	return nil
}

// reject logs a dropped event and, if enabled, tells the sender why
func (h *WSHandler) reject(client *hub.Client, msgType string, err error) {
	h.logger.Debug("event dropped", "client_id", client.ID, "type", msgType, "error", err)
	if h.opts.ReportErrors {
		h.hub.SendTo(client.ID, hub.ErrorMessage(coordinator.Result(err), err.Error()))
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			// Follow target changed while the frame was queued
			if !h.hub.Deliverable(client, msg) {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg.Data)
			cancel()
			if err != nil {
				return
			}
			h.stats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
