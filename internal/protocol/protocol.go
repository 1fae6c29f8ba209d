package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Inbound message types.
const (
	MsgRoomJoin    = "room.join.v1"
	MsgRoomLeave   = "room.leave.v1"
	MsgRoundStart  = "round.start.v1"
	MsgVoteCast    = "vote.cast.v1"
	MsgRoundReveal = "round.reveal.v1"
)

// Outbound event types.
const (
	EvtParticipantJoined = "room.participant_joined.v1"
	EvtParticipantLeft   = "room.participant_left.v1"
	EvtRoundStarted      = "round.started.v1"
	EvtVoteRecorded      = "vote.recorded.v1"
	EvtRoundRevealed     = "round.revealed.v1"
	EvtError             = "error.v1"
)

// Error codes carried in error.v1 payloads.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeForbidden    = "FORBIDDEN"
	CodeInvalidState = "INVALID_STATE"
	CodeInternal     = "INTERNAL_SERVER_ERROR"
)

// Application close codes (4000-4999 range) plus the standard ones we use.
const (
	CloseUnauthorized = 4001
	// CloseValidation reserves the 4002 code point for clients. The server
	// answers malformed envelopes with error.v1 and keeps the connection.
	CloseValidation      = 4002
	CloseRoomNotFound    = 4004
	ClosePolicyViolation = 4008

	CloseNormal     = websocket.CloseNormalClosure
	CloseUnexpected = websocket.CloseInternalServerErr
)

// Reasons attached to room.participant_left.v1.
const (
	LeaveUserInitiated = "user_initiated"
	LeaveTimeout       = "timeout"
	LeaveKicked        = "kicked"
)

var (
	ErrMalformed        = errors.New("malformed message envelope")
	ErrMissingType      = errors.New("missing message type")
	ErrMissingRequestID = errors.New("missing requestId")
)

// Envelope is the wire wrapper for every client<->server message.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode parses an inbound frame. Type and requestId are mandatory; a missing
// requestId is reported distinctly so the caller can respond with a fresh
// server-generated correlation id.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, ErrMissingType
	}
	if env.RequestID == "" {
		return env, ErrMissingRequestID
	}
	return env, nil
}

// NewEvent builds a server-originated event frame with a fresh correlation id.
func NewEvent(eventType string, payload any) ([]byte, error) {
	return encode(eventType, uuid.NewString(), payload)
}

// ErrorPayload is the body of every error.v1 message.
type ErrorPayload struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NewError builds an error.v1 frame. The triggering requestId is echoed when
// known; otherwise a fresh one is generated.
func NewError(requestID, code, message string) []byte {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	data, err := encode(EvtError, requestID, ErrorPayload{
		Code:      code,
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		// ErrorPayload marshaling cannot fail; keep the compiler honest.
		return nil
	}
	return data
}

func encode(msgType, requestID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{
		Type:      msgType,
		RequestID: requestID,
		Payload:   raw,
	})
}

// ParticipantJoined is the payload of room.participant_joined.v1.
type ParticipantJoined struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	ConnectedAt   int64  `json:"connectedAt"`
}

// ParticipantLeft is the payload of room.participant_left.v1.
type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
	LeftAt        int64  `json:"leftAt"`
	Reason        string `json:"reason"`
}

// JoinPayload is the body of room.join.v1. LastEventID is accepted for
// client compatibility but the server keeps no replay buffer; delivery is
// at-most-once with no catch-up on reconnect.
type JoinPayload struct {
	DisplayName string `json:"displayName,omitempty"`
	LastEventID string `json:"lastEventId,omitempty"`
}

// RoundStartPayload is the body of round.start.v1.
type RoundStartPayload struct {
	StoryTitle string `json:"storyTitle,omitempty"`
}

// VoteCastPayload is the body of vote.cast.v1.
type VoteCastPayload struct {
	Card string `json:"card"`
}
