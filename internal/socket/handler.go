package socket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pokerroom/internal/auth"
	"pokerroom/internal/config"
	"pokerroom/internal/protocol"
	"pokerroom/internal/registry"
	"pokerroom/internal/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origin in prod
	},
}

// Deps is everything the endpoint needs, wired explicitly at startup.
type Deps struct {
	Cfg     config.Config
	Reg     *registry.Registry
	Router  *router.Router
	Fan     *Fanout
	Joins   *JoinWatch
	Tokens  auth.TokenValidator
	RoomDir auth.RoomDirectory
	Roles   auth.RoleLookup
	Metrics *Metrics
	Log     *slog.Logger
}

// Handler serves /ws/room/{roomId}?token={token}. The upgrade happens before
// validation so handshake failures can be reported with a proper close code;
// a connection is registered only after both the token and the room check
// pass.
func Handler(d Deps) http.HandlerFunc {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimPrefix(r.URL.Path, "/ws/room/")
		if roomID == "" || strings.Contains(roomID, "/") {
			http.Error(w, "missing room id", http.StatusNotFound)
			return
		}
		token := r.URL.Query().Get("token")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Log.Debug("upgrade failed", "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), d.Cfg.HandshakeTimeout())
		defer cancel()

		claims, err := d.Tokens.Validate(ctx, token)
		if token == "" || err != nil {
			// Fails closed: timeout, lookup error and invalid token all
			// refuse the connection. The token itself is never logged.
			d.Metrics.HandshakeRejected.Add(1)
			d.Log.Info("handshake rejected: unauthorized", "room", roomID, "error", err)
			closeBeforeRegister(conn, protocol.CloseUnauthorized, "unauthorized", d.Cfg)
			return
		}

		if _, err := d.RoomDir.FindRoom(ctx, roomID); err != nil {
			d.Metrics.HandshakeRejected.Add(1)
			if errors.Is(err, auth.ErrRoomNotFound) {
				d.Log.Info("handshake rejected: room not found",
					"room", roomID, "userId", claims.UserID)
				closeBeforeRegister(conn, protocol.CloseRoomNotFound, "room not found", d.Cfg)
				return
			}
			d.Log.Warn("room lookup failed",
				"room", roomID, "userId", claims.UserID, "error", err)
			closeBeforeRegister(conn, protocol.CloseUnexpected, "room lookup failed", d.Cfg)
			return
		}

		client := NewClient(uuid.NewString(), claims.UserID, claims.DisplayName, conn, d.Cfg)
		sess := &Session{
			client:  client,
			roomID:  roomID,
			reg:     d.Reg,
			rt:      d.Router,
			fan:     d.Fan,
			joins:   d.Joins,
			roles:   d.Roles,
			metrics: d.Metrics,
			log:     d.Log,
			cfg:     d.Cfg,
		}
		sess.Start()

		d.Log.Info("connection authenticated",
			"connId", client.ID(), "userId", claims.UserID, "room", roomID)
	}
}

func closeBeforeRegister(conn *websocket.Conn, code int, reason string, cfg config.Config) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteWait()))
	_ = conn.Close()
}
