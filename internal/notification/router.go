// Package notification fans committed domain events out to their recipients,
// live over the presence registry or through a fallback push.
package notification

import (
	"context"
	"time"

	"delivery/internal/domain"
	"delivery/internal/events"
	"delivery/internal/logx"
	"delivery/internal/presence"
)

// Presence is the subset of the registry the router reads.
type Presence interface {
	Lookup(ns presence.Namespace, userID string) (presence.Conn, bool)
	RoleMembers(ns presence.Namespace, role domain.Role) []presence.Conn
	RoomMembers(room string) []presence.Conn
	DropRoom(room string)
}

// Profiles resolves push token and language of a user.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*domain.User, error)
}

// Recorder counts notification outcomes.
type Recorder interface {
	Notification(channel, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Notification(string, string) {}

// Outcome labels.
const (
	ChannelLive = "live"
	ChannelPush = "push"

	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeOffline = "offline"
	OutcomeNoToken = "no_token"
)

// Router is the single live-vs-fallback decision point.
type Router struct {
	presence    Presence
	profiles    Profiles
	pusher      Pusher
	catalog     *Catalog
	recorder    Recorder
	pushTimeout time.Duration
	log         logx.Logger
}

// Config holds Router dependencies.
type Config struct {
	Presence    Presence
	Profiles    Profiles
	Pusher      Pusher
	Catalog     *Catalog
	Recorder    Recorder
	PushTimeout time.Duration
	Log         logx.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg Config) *Router {
	if cfg.Log == nil {
		cfg.Log = logx.Nop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Catalog == nil {
		cfg.Catalog = NewCatalog("en")
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	return &Router{
		presence:    cfg.Presence,
		profiles:    cfg.Profiles,
		pusher:      cfg.Pusher,
		catalog:     cfg.Catalog,
		recorder:    cfg.Recorder,
		pushTimeout: cfg.PushTimeout,
		log:         cfg.Log.With(logx.String("component", "notification_router")),
	}
}

// Handle routes one event. It is an events.Handler and never returns an
// error: failed notifications are logged and dropped.
func (r *Router) Handle(ctx context.Context, e events.Event) {
	rt, ok := routes[e.Name]
	if !ok {
		r.log.Debug("no route for event", logx.String("event", string(e.Name)))
		return
	}

	emitted := make(map[string]struct{})

	for _, rcpt := range recipients(e, rt) {
		r.deliver(ctx, e, rcpt, emitted)
	}

	if rt.operators {
		for _, conn := range r.presence.RoleMembers(presence.NamespaceConflict, operatorRole) {
			r.emit(e, conn, emitted)
		}
	}

	if rt.room {
		for _, conn := range r.presence.RoomMembers(e.EntityID) {
			r.emit(e, conn, emitted)
		}
	}

	if rt.dropRoom {
		r.presence.DropRoom(e.EntityID)
	}
}

func (r *Router) deliver(ctx context.Context, e events.Event, rcpt recipient, emitted map[string]struct{}) {
	if conn, ok := r.presence.Lookup(rcpt.ns, rcpt.userID); ok {
		r.emit(e, conn, emitted)
		return
	}

	if !rcpt.fallback {
		r.recorder.Notification(ChannelLive, OutcomeOffline)
		return
	}

	r.push(ctx, e, rcpt.userID)
}

// emit writes the event on conn once per event; a write failure drops it.
func (r *Router) emit(e events.Event, conn presence.Conn, emitted map[string]struct{}) {
	if _, done := emitted[conn.ID()]; done {
		return
	}
	emitted[conn.ID()] = struct{}{}

	if err := conn.Emit(string(e.Name), e.Payload); err != nil {
		r.recorder.Notification(ChannelLive, OutcomeFailed)
		r.log.Warn("live emit failed",
			logx.String("event", string(e.Name)),
			logx.String("entity_id", e.EntityID),
			logx.String("conn_id", conn.ID()),
			logx.Err(err),
		)
		return
	}
	r.recorder.Notification(ChannelLive, OutcomeSent)
}

func (r *Router) push(ctx context.Context, e events.Event, userID string) {
	user, err := r.profiles.Profile(ctx, userID)
	if err != nil {
		r.recorder.Notification(ChannelPush, OutcomeFailed)
		r.log.Warn("profile lookup failed",
			logx.String("event", string(e.Name)),
			logx.String("user_id", userID),
			logx.Err(err),
		)
		return
	}
	if user == nil || user.PushToken == "" {
		r.recorder.Notification(ChannelPush, OutcomeNoToken)
		return
	}

	msg := r.catalog.Message(e.Name, user.Language)

	pushCtx, cancel := context.WithTimeout(ctx, r.pushTimeout)
	defer cancel()

	err = r.pusher.Push(pushCtx, PushMessage{
		Token: user.PushToken,
		Title: msg.Title,
		Body:  msg.Body,
		Data: map[string]string{
			"event":     string(e.Name),
			"event_id":  e.ID,
			"entity_id": e.EntityID,
		},
	})
	if err != nil {
		r.recorder.Notification(ChannelPush, OutcomeFailed)
		r.log.Error("push hand-off failed",
			logx.String("event", string(e.Name)),
			logx.String("entity_id", e.EntityID),
			logx.String("user_id", userID),
			logx.Err(err),
		)
		return
	}
	r.recorder.Notification(ChannelPush, OutcomeSent)
}
