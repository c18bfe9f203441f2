package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"delivery/internal/domain"
	"delivery/internal/logx"
	"delivery/internal/presence"
	"delivery/internal/service"
)

// Inbound and control event names.
const (
	EventUpdatePosition = "update-position"
	EventJoinDelivery   = "join-delivery"
	EventLeaveDelivery  = "leave-delivery"
	EventAck            = "ack"
	EventError          = "error"
)

// Registry is the part of the presence registry the hub mutates.
type Registry interface {
	Register(ns presence.Namespace, userID string, role domain.Role, conn presence.Conn) presence.Conn
	Unregister(ns presence.Namespace, userID string, conn presence.Conn)
	JoinRoom(ns presence.Namespace, room, userID string, conn presence.Conn)
	LeaveRoom(ns presence.Namespace, room, userID string)
}

// PositionUpdater stores driver positions.
type PositionUpdater interface {
	UpdateLocation(ctx context.Context, caller domain.Caller, p domain.GeoPoint) error
}

// DeliveryReader authorizes room membership.
type DeliveryReader interface {
	Get(ctx context.Context, caller domain.Caller, id string) (*domain.Delivery, error)
}

// Inbound is one decoded frame waiting for dispatch.
type Inbound struct {
	Client *Client
	Frame  Frame
}

// HubConfig holds Hub dependencies.
type HubConfig struct {
	Registry   Registry
	Positions  PositionUpdater
	Deliveries DeliveryReader
	InboxSize  int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
	Log         logx.Logger
}

// Hub accepts connections and dispatches their inbound frames from a single
// goroutine.
type Hub struct {
	registry   Registry
	positions  PositionUpdater
	deliveries DeliveryReader
	upgrader   websocket.Upgrader
	inbox      chan Inbound
	log        logx.Logger
}

// NewHub creates a Hub. Run must be started for inbound frames to be handled.
func NewHub(cfg HubConfig) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	if cfg.Log == nil {
		cfg.Log = logx.Nop()
	}
	return &Hub{
		registry:   cfg.Registry,
		positions:  cfg.Positions,
		deliveries: cfg.Deliveries,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		inbox: make(chan Inbound, cfg.InboxSize),
		log:   cfg.Log,
	}
}

// Serve upgrades the request and blocks until the connection ends. The
// caller must already be authenticated.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, ns presence.Namespace, caller domain.Caller) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}

	client := newClient(uuid.New().String(), ns, caller, ws, h.log)
	if prev := h.registry.Register(ns, caller.UserID, caller.Role, client); prev != nil {
		prev.Close()
	}
	h.log.Info("live connection opened",
		logx.String("namespace", string(ns)),
		logx.String("user_id", caller.UserID),
		logx.String("conn_id", client.ID()))

	go client.writePump()
	client.readPump(func(f Frame) { h.enqueue(client, f) })

	h.registry.Unregister(ns, caller.UserID, client)
	client.Close()
	h.log.Info("live connection closed",
		logx.String("namespace", string(ns)),
		logx.String("user_id", caller.UserID),
		logx.String("conn_id", client.ID()))
}

func (h *Hub) enqueue(c *Client, f Frame) {
	select {
	case h.inbox <- Inbound{Client: c, Frame: f}:
	default:
		_ = c.Emit(EventError, errorData{Event: f.Event, Message: "server busy"})
	}
}

// Run dispatches inbound frames until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-h.inbox:
			h.dispatch(ctx, in)
		}
	}
}

type errorData struct {
	Event   string `json:"event,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type ackData struct {
	Event string `json:"event"`
}

type roomRequest struct {
	DeliveryID string `json:"deliveryId"`
}

func (h *Hub) dispatch(ctx context.Context, in Inbound) {
	c, f := in.Client, in.Frame

	var err error
	switch f.Event {
	case EventUpdatePosition:
		var p domain.GeoPoint
		if err = decode(f.Data, &p); err == nil {
			err = h.positions.UpdateLocation(ctx, c.caller, p)
		}

	case EventJoinDelivery:
		var req roomRequest
		if err = decode(f.Data, &req); err == nil {
			if _, err = h.deliveries.Get(ctx, c.caller, req.DeliveryID); err == nil {
				h.registry.JoinRoom(c.ns, req.DeliveryID, c.caller.UserID, c)
			}
		}

	case EventLeaveDelivery:
		var req roomRequest
		if err = decode(f.Data, &req); err == nil {
			h.registry.LeaveRoom(c.ns, req.DeliveryID, c.caller.UserID)
		}

	default:
		_ = c.Emit(EventError, errorData{Event: f.Event, Message: "unknown event"})
		return
	}

	if err != nil {
		h.replyError(c, f.Event, err)
		return
	}
	_ = c.Emit(EventAck, ackData{Event: f.Event})
}

// decodeError marks a frame whose data did not match the event's shape.
type decodeError struct{ err error }

func (e decodeError) Error() string { return "decode: " + e.err.Error() }

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return decodeError{err: err}
	}
	return nil
}

func (h *Hub) replyError(c *Client, event string, err error) {
	kind := service.KindOf(err)
	var de decodeError
	switch {
	case kind != service.KindInternal:
	case errors.As(err, &de):
		kind = service.KindInvalidInput
	default:
		h.log.Error("live event failed", logx.String("event", event), logx.Err(err))
	}

	msg := string(kind)
	if kind == service.KindInternal {
		msg = "internal error"
	}
	_ = c.Emit(EventError, errorData{Event: event, Kind: string(kind), Message: msg})
}
