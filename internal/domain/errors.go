package domain

import "errors"

// Common errors
var (
	ErrRoundOpen   = errors.New("a round is already open in this room")
	ErrNoRoundOpen = errors.New("no open round in this room")
	ErrInvalidCard = errors.New("invalid card value")
)
