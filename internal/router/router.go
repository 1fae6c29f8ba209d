package router

import (
	"context"
	"fmt"
	"log/slog"

	"pokerroom/internal/protocol"
	"pokerroom/internal/registry"
)

// Session is the per-connection context a handler receives: the transport
// connection plus the identity established during handshake and join.
type Session struct {
	Conn   registry.Conn
	UserID string
	RoomID string
}

// Handler processes one inbound message type. Implementations send their own
// success and error responses; the router only dispatches.
type Handler interface {
	MessageType() string
	Handle(ctx context.Context, sess Session, env protocol.Envelope)
}

// Router maps message types to handlers. room.join.v1 and room.leave.v1
// never reach it; the session handler intercepts those before routing.
type Router struct {
	handlers map[string]Handler
	log      *slog.Logger
}

func New(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Register wires a handler at startup. Registering two handlers for the same
// type is a programmer error.
func (r *Router) Register(h Handler) {
	if _, dup := r.handlers[h.MessageType()]; dup {
		panic(fmt.Sprintf("duplicate handler for message type %q", h.MessageType()))
	}
	r.handlers[h.MessageType()] = h
}

// Dispatch invokes the handler registered for the envelope's type. Unknown
// types are ignored: newer clients may speak message types this server does
// not know yet.
func (r *Router) Dispatch(ctx context.Context, sess Session, env protocol.Envelope) {
	h, ok := r.handlers[env.Type]
	if !ok {
		r.log.Debug("ignoring unknown message type",
			"type", env.Type, "connId", sess.Conn.ID())
		return
	}
	h.Handle(ctx, sess, env)
}
