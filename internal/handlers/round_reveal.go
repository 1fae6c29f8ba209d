package handlers

import (
	"context"
	"errors"

	"pokerroom/internal/domain"
	"pokerroom/internal/protocol"
	"pokerroom/internal/router"
)

// RoundReveal closes the open round, broadcasts the full vote map with the
// computed aggregates, and hands the immutable round to the history writer.
// Host only.
type RoundReveal struct {
	d Deps
}

func (h *RoundReveal) MessageType() string { return protocol.MsgRoundReveal }

type roundRevealedEvent struct {
	RoundID    string                 `json:"roundId"`
	Seq        int                    `json:"seq"`
	StoryTitle string                 `json:"storyTitle,omitempty"`
	Votes      map[string]domain.Vote `json:"votes"`
	Average    float64                `json:"average"`
	Median     float64                `json:"median"`
	Consensus  bool                   `json:"consensus"`
	RevealedAt int64                  `json:"revealedAt"`
}

func (h *RoundReveal) Handle(ctx context.Context, sess router.Session, env protocol.Envelope) {
	defer h.d.guard(sess, env.RequestID)

	if h.d.requireHost(ctx, sess, env.RequestID) {
		return
	}

	round, err := h.d.Rooms.Reveal(sess.RoomID)
	if err != nil {
		if errors.Is(err, domain.ErrNoRoundOpen) {
			h.d.sendError(sess, env.RequestID, protocol.CodeInvalidState, "no open round to reveal")
			return
		}
		h.d.Log.Error("round reveal failed", "room", sess.RoomID, "error", err)
		h.d.sendError(sess, env.RequestID, protocol.CodeInternal, "could not reveal round")
		return
	}

	data, err := protocol.NewEvent(protocol.EvtRoundRevealed, roundRevealedEvent{
		RoundID:    round.ID,
		Seq:        round.Seq,
		StoryTitle: round.StoryTitle,
		Votes:      round.Votes,
		Average:    round.Average,
		Median:     round.Median,
		Consensus:  round.Consensus,
		RevealedAt: round.RevealedAt.UnixMilli(),
	})
	if err != nil {
		h.d.Log.Error("round revealed event encode failed", "room", sess.RoomID, "error", err)
		return
	}
	h.d.Out.Broadcast(sess.RoomID, data)

	if h.d.History != nil {
		h.d.History.Enqueue(sess.RoomID, round)
	}

	h.d.Log.Info("round revealed",
		"room", sess.RoomID, "round", round.ID, "votes", len(round.Votes),
		"average", round.Average, "consensus", round.Consensus, "by", sess.UserID)
}
