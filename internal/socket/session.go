package socket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pokerroom/internal/auth"
	"pokerroom/internal/config"
	"pokerroom/internal/protocol"
	"pokerroom/internal/registry"
	"pokerroom/internal/router"
)

// Session owns one connection's lifecycle after handshake authentication:
// Authenticated (join pending) -> Joined -> Closed. It intercepts
// room.join.v1 and room.leave.v1 and routes everything else.
type Session struct {
	client *Client
	roomID string

	reg     *registry.Registry
	rt      *router.Router
	fan     *Fanout
	joins   *JoinWatch
	roles   auth.RoleLookup
	metrics *Metrics
	log     *slog.Logger
	cfg     config.Config

	joined   atomic.Bool
	teardown sync.Once
}

// Start registers the connection for heartbeat tracking, arms the join
// deadline and launches the pumps.
func (s *Session) Start() {
	s.reg.Track(s.client)
	s.joins.Schedule(s, s.cfg.JoinTimeout())

	s.metrics.ConnectedClients.Add(1)
	s.metrics.TotalConnections.Add(1)

	go s.client.WritePump()
	go s.readPump()
}

// ExpireJoin is called by the join sweep when the deadline passed without a
// join message.
func (s *Session) ExpireJoin() {
	s.metrics.JoinTimeouts.Add(1)
	s.log.Info("join deadline missed, closing",
		"connId", s.client.ID(), "userId", s.client.UserID(), "room", s.roomID)
	s.client.CloseWithCode(protocol.ClosePolicyViolation, "join timeout")
}

func (s *Session) readPump() {
	c := s.client
	defer s.finish()

	c.conn.SetReadLimit(int64(s.cfg.MaxMessageBytes))
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait()))
	c.conn.SetPongHandler(func(string) error {
		s.reg.TouchHeartbeat(c)
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.IsOpen() {
				s.log.Debug("read error",
					"connId", c.ID(), "userId", c.UserID(), "error", err)
				c.CloseWithCode(protocol.CloseUnexpected, "read error")
			}
			return
		}
		s.metrics.MessagesIn.Add(1)

		env, decErr := protocol.Decode(data)
		if decErr != nil {
			// Malformed envelope: answer the sender, keep the connection.
			// A missing requestId gets a fresh server-generated one.
			s.metrics.ValidationErrors.Add(1)
			s.fan.Unicast(c, protocol.NewError(env.RequestID, protocol.CodeValidation, decErr.Error()))
			continue
		}

		switch env.Type {
		case protocol.MsgRoomJoin:
			s.handleJoin(env)
		case protocol.MsgRoomLeave:
			c.CloseWithCode(protocol.CloseNormal, "leave")
			return
		default:
			s.rt.Dispatch(context.Background(), router.Session{
				Conn:   c,
				UserID: c.UserID(),
				RoomID: s.roomID,
			}, env)
		}
	}
}

func (s *Session) handleJoin(env protocol.Envelope) {
	c := s.client
	s.joins.Cancel(c.ID())

	// Duplicate joins are idempotent: the registry add is a no-op and the
	// joined event is not re-broadcast.
	if s.joined.Swap(true) {
		return
	}

	s.reg.Add(s.roomID, c)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout())
	role, err := s.roles.RoleOf(ctx, c.UserID(), s.roomID)
	cancel()
	if err != nil {
		// The participant record is written by the REST tier; a missing or
		// unreadable record downgrades the announced role rather than
		// rejecting the join.
		s.log.Warn("role lookup at join failed",
			"connId", c.ID(), "userId", c.UserID(), "room", s.roomID, "error", err)
		role = auth.RoleVoter
	}

	data, err := protocol.NewEvent(protocol.EvtParticipantJoined, protocol.ParticipantJoined{
		ParticipantID: c.UserID(),
		DisplayName:   c.DisplayName(),
		Role:          string(role),
		ConnectedAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		s.log.Error("participant joined event encode failed", "room", s.roomID, "error", err)
		return
	}
	s.fan.Broadcast(s.roomID, data)

	s.log.Info("participant joined",
		"connId", c.ID(), "userId", c.UserID(), "room", s.roomID, "role", role)
}

// finish runs exactly once per connection, on any path into Closed: remove
// from the registry, and announce the departure if the join had completed.
func (s *Session) finish() {
	s.teardown.Do(func() {
		c := s.client
		c.CloseWithCode(protocol.CloseNormal, "")
		s.joins.Cancel(c.ID())

		roomID, hadRoom := s.reg.Remove(c)
		if hadRoom {
			reason := protocol.LeaveUserInitiated
			switch c.CloseReason() {
			case "timeout", "join timeout":
				reason = protocol.LeaveTimeout
			case "kicked":
				reason = protocol.LeaveKicked
			}

			data, err := protocol.NewEvent(protocol.EvtParticipantLeft, protocol.ParticipantLeft{
				ParticipantID: c.UserID(),
				LeftAt:        time.Now().UnixMilli(),
				Reason:        reason,
			})
			if err == nil {
				s.fan.Broadcast(roomID, data)
			}

			s.log.Info("participant left",
				"connId", c.ID(), "userId", c.UserID(), "room", roomID, "reason", reason)
		}

		s.metrics.ConnectedClients.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
	})
}
