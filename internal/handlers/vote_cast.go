package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"pokerroom/internal/auth"
	"pokerroom/internal/domain"
	"pokerroom/internal/protocol"
	"pokerroom/internal/router"
)

// VoteCast records a participant's card for the open round. The broadcast
// confirms who voted but never carries the card value; votes stay hidden
// until reveal.
type VoteCast struct {
	d Deps
}

func (h *VoteCast) MessageType() string { return protocol.MsgVoteCast }

type voteRecordedEvent struct {
	RoundID       string `json:"roundId"`
	ParticipantID string `json:"participantId"`
	VoteCount     int    `json:"voteCount"`
}

func (h *VoteCast) Handle(ctx context.Context, sess router.Session, env protocol.Envelope) {
	defer h.d.guard(sess, env.RequestID)

	var p protocol.VoteCastPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Card == "" {
		h.d.sendError(sess, env.RequestID, protocol.CodeValidation, "vote.cast requires a card value")
		return
	}

	role, err := h.d.Roles.RoleOf(ctx, sess.UserID, sess.RoomID)
	if errors.Is(err, auth.ErrNotParticipant) {
		h.d.sendError(sess, env.RequestID, protocol.CodeForbidden, "not a participant of this room")
		return
	}
	if err != nil {
		h.d.Log.Error("role lookup failed",
			"userId", sess.UserID, "room", sess.RoomID, "error", err)
		h.d.sendError(sess, env.RequestID, protocol.CodeInternal, "role lookup failed")
		return
	}
	if role == auth.RoleObserver {
		h.d.sendError(sess, env.RequestID, protocol.CodeForbidden, "observers cannot vote")
		return
	}

	round, err := h.d.Rooms.CastVote(sess.RoomID, sess.UserID, domain.Card(p.Card))
	switch {
	case errors.Is(err, domain.ErrInvalidCard):
		h.d.sendError(sess, env.RequestID, protocol.CodeValidation, "invalid card value")
		return
	case errors.Is(err, domain.ErrNoRoundOpen):
		h.d.sendError(sess, env.RequestID, protocol.CodeInvalidState, "no open round")
		return
	case err != nil:
		h.d.Log.Error("vote cast failed", "room", sess.RoomID, "error", err)
		h.d.sendError(sess, env.RequestID, protocol.CodeInternal, "could not record vote")
		return
	}

	data, err := protocol.NewEvent(protocol.EvtVoteRecorded, voteRecordedEvent{
		RoundID:       round.ID,
		ParticipantID: sess.UserID,
		VoteCount:     len(round.Votes),
	})
	if err != nil {
		h.d.Log.Error("vote recorded event encode failed", "room", sess.RoomID, "error", err)
		return
	}
	h.d.Out.Broadcast(sess.RoomID, data)
}
