package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"pokerroom/internal/domain"
	"pokerroom/internal/protocol"
	"pokerroom/internal/router"
)

// RoundStart opens a new estimation round. Host only; rejected while another
// round is open.
type RoundStart struct {
	d Deps
}

func (h *RoundStart) MessageType() string { return protocol.MsgRoundStart }

type roundStartedEvent struct {
	RoundID    string `json:"roundId"`
	Seq        int    `json:"seq"`
	StoryTitle string `json:"storyTitle,omitempty"`
	StartedBy  string `json:"startedBy"`
	StartedAt  int64  `json:"startedAt"`
}

func (h *RoundStart) Handle(ctx context.Context, sess router.Session, env protocol.Envelope) {
	defer h.d.guard(sess, env.RequestID)

	var p protocol.RoundStartPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.d.sendError(sess, env.RequestID, protocol.CodeValidation, "malformed round.start payload")
			return
		}
	}

	if h.d.requireHost(ctx, sess, env.RequestID) {
		return
	}

	round, err := h.d.Rooms.StartRound(sess.RoomID, p.StoryTitle)
	if err != nil {
		if errors.Is(err, domain.ErrRoundOpen) {
			h.d.sendError(sess, env.RequestID, protocol.CodeInvalidState, "a round is already open")
			return
		}
		h.d.Log.Error("round start failed", "room", sess.RoomID, "error", err)
		h.d.sendError(sess, env.RequestID, protocol.CodeInternal, "could not start round")
		return
	}

	data, err := protocol.NewEvent(protocol.EvtRoundStarted, roundStartedEvent{
		RoundID:    round.ID,
		Seq:        round.Seq,
		StoryTitle: round.StoryTitle,
		StartedBy:  sess.UserID,
		StartedAt:  round.StartedAt.UnixMilli(),
	})
	if err != nil {
		h.d.Log.Error("round started event encode failed", "room", sess.RoomID, "error", err)
		return
	}
	h.d.Out.Broadcast(sess.RoomID, data)
	h.d.Log.Info("round started",
		"room", sess.RoomID, "round", round.ID, "seq", round.Seq, "by", sess.UserID)
}
