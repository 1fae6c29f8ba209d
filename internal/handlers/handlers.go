// Package handlers contains one message handler per inbound message type.
// Every handler validates its payload, checks the caller's room role, invokes
// the round state machine and emits events; failures become error.v1
// responses to the caller and never escape to the connection's read loop.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"pokerroom/internal/auth"
	"pokerroom/internal/domain"
	"pokerroom/internal/protocol"
	"pokerroom/internal/registry"
	"pokerroom/internal/router"
)

// Messenger is how handlers emit traffic: room-wide fan-out for success
// events, caller-only unicast for errors.
type Messenger interface {
	Broadcast(roomID string, data []byte)
	Unicast(conn registry.Conn, data []byte)
}

// HistorySink receives revealed rounds for asynchronous persistence.
type HistorySink interface {
	Enqueue(roomID string, round *domain.Round)
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Rooms   *domain.Service
	Roles   auth.RoleLookup
	Out     Messenger
	History HistorySink
	Log     *slog.Logger
}

// All returns the full handler family for router registration.
func All(d Deps) []router.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return []router.Handler{
		&RoundStart{d: d},
		&VoteCast{d: d},
		&RoundReveal{d: d},
	}
}

// sendError unicasts an error.v1 correlated to the triggering request.
func (d Deps) sendError(sess router.Session, requestID, code, msg string) {
	d.Out.Unicast(sess.Conn, protocol.NewError(requestID, code, msg))
}

// requireHost checks that the caller holds the HOST role in the room.
// It reports handled=true when a response was already sent.
func (d Deps) requireHost(ctx context.Context, sess router.Session, requestID string) (handled bool) {
	role, err := d.Roles.RoleOf(ctx, sess.UserID, sess.RoomID)
	if errors.Is(err, auth.ErrNotParticipant) {
		d.sendError(sess, requestID, protocol.CodeForbidden, "not a participant of this room")
		return true
	}
	if err != nil {
		d.Log.Error("role lookup failed",
			"userId", sess.UserID, "room", sess.RoomID, "error", err)
		d.sendError(sess, requestID, protocol.CodeInternal, "role lookup failed")
		return true
	}
	if role != auth.RoleHost {
		d.sendError(sess, requestID, protocol.CodeForbidden, "host role required")
		return true
	}
	return false
}

// guard converts a handler panic into a logged INTERNAL_SERVER_ERROR so the
// read loop never dies on a handler bug.
func (d Deps) guard(sess router.Session, requestID string) {
	if v := recover(); v != nil {
		d.Log.Error("handler panic recovered",
			"connId", sess.Conn.ID(), "userId", sess.UserID, "room", sess.RoomID,
			"panic", v, "stack", string(debug.Stack()))
		d.sendError(sess, requestID, protocol.CodeInternal, "internal server error")
	}
}
