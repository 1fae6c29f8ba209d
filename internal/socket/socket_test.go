package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokerroom/internal/auth"
	"pokerroom/internal/config"
	"pokerroom/internal/domain"
	"pokerroom/internal/handlers"
	"pokerroom/internal/protocol"
	"pokerroom/internal/registry"
	"pokerroom/internal/router"
)

type fakeTokens struct {
	claims map[string]auth.Claims // token -> claims
}

func (f *fakeTokens) Validate(_ context.Context, token string) (auth.Claims, error) {
	c, ok := f.claims[token]
	if !ok {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return c, nil
}

type fakeRooms struct {
	rooms map[string]bool
}

func (f *fakeRooms) FindRoom(_ context.Context, roomID string) (auth.Room, error) {
	if !f.rooms[roomID] {
		return auth.Room{}, auth.ErrRoomNotFound
	}
	return auth.Room{ID: roomID}, nil
}

type fakeRoles struct {
	roles map[string]auth.Role // userID -> role
}

func (f *fakeRoles) RoleOf(_ context.Context, userID, _ string) (auth.Role, error) {
	role, ok := f.roles[userID]
	if !ok {
		return "", auth.ErrNotParticipant
	}
	return role, nil
}

type testServer struct {
	srv     *httptest.Server
	reg     *registry.Registry
	rooms   *domain.Service
	sweeper *Sweeper
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()

	tokens := &fakeTokens{claims: map[string]auth.Claims{
		"host-token":  {UserID: "host", DisplayName: "Helen Host"},
		"voter-token": {UserID: "voter", DisplayName: "Vik Voter"},
	}}
	roomDir := &fakeRooms{rooms: map[string]bool{"room1": true}}
	roles := &fakeRoles{roles: map[string]auth.Role{
		"host":  auth.RoleHost,
		"voter": auth.RoleVoter,
	}}

	metrics := NewMetrics()
	reg := registry.New(nil, nil)
	fan := &Fanout{Reg: reg, Metrics: metrics}
	rooms := domain.NewService()
	reg.OnRoomEmpty = rooms.Forget

	rt := router.New(nil)
	for _, h := range handlers.All(handlers.Deps{
		Rooms: rooms,
		Roles: roles,
		Out:   fan,
	}) {
		rt.Register(h)
	}

	joins := NewJoinWatch()
	sweeper := NewSweeper(reg, joins, metrics, cfg, nil)
	sweeper.Start()
	t.Cleanup(sweeper.Stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/room/", Handler(Deps{
		Cfg:     cfg,
		Reg:     reg,
		Router:  rt,
		Fan:     fan,
		Joins:   joins,
		Tokens:  tokens,
		RoomDir: roomDir,
		Roles:   roles,
		Metrics: metrics,
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, reg: reg, rooms: rooms, sweeper: sweeper}
}

func testConfig() config.Config {
	return config.Config{
		WriteWaitMS:        1000,
		PongWaitMS:         60000,
		PingPeriodMS:       30000,
		JoinTimeoutMS:      10000,
		JoinSweepMS:        5000,
		StaleSweepMS:       60000,
		HandshakeTimeoutMS: 1000,
		MaxMessageBytes:    4096,
		SendBuffer:         32,
	}
}

func (ts *testServer) dial(t *testing.T, roomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/room/" + roomID + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType, requestID string, payload any) {
	t.Helper()
	env := map[string]any{"type": msgType, "requestId": requestID}
	if payload != nil {
		env["payload"] = payload
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// expectEvent reads frames until one of the wanted type arrives, skipping
// unrelated events (join/leave notifications interleave freely).
func expectEvent(t *testing.T, conn *websocket.Conn, eventType string) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", eventType)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Type == eventType {
			return env
		}
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue // drain pending events until the close frame
		}
		require.True(t, websocket.IsCloseError(err, code), "want close %d, got %v", code, err)
		return
	}
}

func TestHandshake_InvalidTokenClosesUnauthorized(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t, "room1", "bogus")
	expectClose(t, conn, protocol.CloseUnauthorized)
	assert.Equal(t, 0, ts.reg.TotalConns(), "rejected connections are never registered")
}

func TestHandshake_MissingToken(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t, "room1", "")
	expectClose(t, conn, protocol.CloseUnauthorized)
}

func TestHandshake_UnknownRoomClosesRoomNotFound(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t, "ghost-room", "host-token")
	expectClose(t, conn, protocol.CloseRoomNotFound)
}

func TestJoin_BroadcastsParticipantJoined(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t, "room1", "host-token")

	sendEnvelope(t, conn, protocol.MsgRoomJoin, "j1", nil)

	env := expectEvent(t, conn, protocol.EvtParticipantJoined)
	var p protocol.ParticipantJoined
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "host", p.ParticipantID)
	assert.Equal(t, "Helen Host", p.DisplayName)
	assert.Equal(t, string(auth.RoleHost), p.Role)

	assert.Eventually(t, func() bool { return ts.reg.ConnCount("room1") == 1 },
		time.Second, 10*time.Millisecond)
}

func TestJoinTimeout_ClosedWithPolicyViolation(t *testing.T) {
	cfg := testConfig()
	cfg.JoinTimeoutMS = 150
	cfg.JoinSweepMS = 50
	ts := newTestServer(t, cfg)

	conn := ts.dial(t, "room1", "host-token")
	// send no join message at all
	expectClose(t, conn, protocol.ClosePolicyViolation)

	assert.Eventually(t, func() bool { return ts.reg.TotalConns() == 0 },
		time.Second, 10*time.Millisecond,
		"timed-out connection must vanish from registry queries")
}

func TestLeave_NotifiesRemainingParticipants(t *testing.T) {
	ts := newTestServer(t, testConfig())

	host := ts.dial(t, "room1", "host-token")
	sendEnvelope(t, host, protocol.MsgRoomJoin, "j1", nil)
	expectEvent(t, host, protocol.EvtParticipantJoined)

	voter := ts.dial(t, "room1", "voter-token")
	sendEnvelope(t, voter, protocol.MsgRoomJoin, "j2", nil)
	expectEvent(t, host, protocol.EvtParticipantJoined) // voter's join

	sendEnvelope(t, voter, protocol.MsgRoomLeave, "l1", nil)

	env := expectEvent(t, host, protocol.EvtParticipantLeft)
	var p protocol.ParticipantLeft
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "voter", p.ParticipantID)
	assert.Equal(t, protocol.LeaveUserInitiated, p.Reason)
}

func TestFullRound_StartVoteReveal(t *testing.T) {
	ts := newTestServer(t, testConfig())

	host := ts.dial(t, "room1", "host-token")
	sendEnvelope(t, host, protocol.MsgRoomJoin, "j1", nil)
	voter := ts.dial(t, "room1", "voter-token")
	sendEnvelope(t, voter, protocol.MsgRoomJoin, "j2", nil)

	// both joins must be applied before the round starts
	expectEvent(t, host, protocol.EvtParticipantJoined)
	expectEvent(t, voter, protocol.EvtParticipantJoined)

	sendEnvelope(t, host, protocol.MsgRoundStart, "r1",
		map[string]string{"storyTitle": "payment retries"})
	expectEvent(t, voter, protocol.EvtRoundStarted)

	sendEnvelope(t, voter, protocol.MsgVoteCast, "v1", map[string]string{"card": "5"})
	expectEvent(t, host, protocol.EvtVoteRecorded)

	sendEnvelope(t, host, protocol.MsgVoteCast, "v2", map[string]string{"card": "5"})
	expectEvent(t, host, protocol.EvtVoteRecorded)

	sendEnvelope(t, host, protocol.MsgRoundReveal, "rv1", nil)
	env := expectEvent(t, voter, protocol.EvtRoundRevealed)

	var p struct {
		Average   float64                `json:"average"`
		Consensus bool                   `json:"consensus"`
		Votes     map[string]domain.Vote `json:"votes"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.InDelta(t, 5.0, p.Average, 1e-9)
	assert.True(t, p.Consensus)
	assert.Len(t, p.Votes, 2)
}

func TestNonHostCannotStartRound(t *testing.T) {
	ts := newTestServer(t, testConfig())

	voter := ts.dial(t, "room1", "voter-token")
	sendEnvelope(t, voter, protocol.MsgRoomJoin, "j1", nil)
	expectEvent(t, voter, protocol.EvtParticipantJoined)

	sendEnvelope(t, voter, protocol.MsgRoundStart, "r1", nil)

	env := expectEvent(t, voter, protocol.EvtError)
	assert.Equal(t, "r1", env.RequestID)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, protocol.CodeForbidden, p.Code)
}

func TestMissingRequestID_FreshCorrelationID(t *testing.T) {
	ts := newTestServer(t, testConfig())

	conn := ts.dial(t, "room1", "host-token")
	sendEnvelope(t, conn, protocol.MsgRoomJoin, "j1", nil)
	expectEvent(t, conn, protocol.EvtParticipantJoined)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"vote.cast.v1","payload":{"card":"5"}}`)))

	env := expectEvent(t, conn, protocol.EvtError)
	assert.NotEmpty(t, env.RequestID, "server must generate a correlation id")
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, protocol.CodeValidation, p.Code)
}

func TestUnknownMessageType_SilentlyIgnored(t *testing.T) {
	ts := newTestServer(t, testConfig())

	conn := ts.dial(t, "room1", "host-token")
	sendEnvelope(t, conn, protocol.MsgRoomJoin, "j1", nil)
	expectEvent(t, conn, protocol.EvtParticipantJoined)

	sendEnvelope(t, conn, "future.feature.v9", "f1", map[string]string{"x": "y"})

	// no error response and no state change
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "no response expected for unknown types")
	assert.True(t, strings.Contains(err.Error(), "timeout") ||
		strings.Contains(err.Error(), "deadline"), "got: %v", err)
	_, open := ts.rooms.OpenRound("room1")
	assert.False(t, open)
}

func TestDisconnect_CleansUpRegistry(t *testing.T) {
	ts := newTestServer(t, testConfig())

	conn := ts.dial(t, "room1", "host-token")
	sendEnvelope(t, conn, protocol.MsgRoomJoin, "j1", nil)
	expectEvent(t, conn, protocol.EvtParticipantJoined)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	assert.Eventually(t, func() bool {
		return ts.reg.RoomCount() == 0 && ts.reg.TotalConns() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnect_LastLeaveDropsRoundState(t *testing.T) {
	ts := newTestServer(t, testConfig())

	conn := ts.dial(t, "room1", "host-token")
	sendEnvelope(t, conn, protocol.MsgRoomJoin, "j1", nil)
	expectEvent(t, conn, protocol.EvtParticipantJoined)

	sendEnvelope(t, conn, protocol.MsgRoundStart, "r1", map[string]string{"storyTitle": "s"})
	expectEvent(t, conn, protocol.EvtRoundStarted)
	_, open := ts.rooms.OpenRound("room1")
	require.True(t, open)

	_ = conn.Close()

	assert.Eventually(t, func() bool {
		_, open := ts.rooms.OpenRound("room1")
		return !open && ts.reg.RoomCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "round state must go with the room")
}
