// Package auth declares the external collaborators the session engine
// consumes: token validation, room lookup, and participant role lookup.
// Issuance, OAuth flows and the REST tier that writes this data live in
// other services; here they are interfaces with Redis-backed implementations
// wired in at startup.
package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotParticipant = errors.New("user is not a participant of the room")
)

// Claims are the authenticated identity attributes extracted from a token.
type Claims struct {
	UserID      string
	DisplayName string
}

// TokenValidator resolves an opaque bearer token to claims. Fails closed:
// any error means the connection is refused.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Claims, error)
}

// Room is the minimal room view the session engine needs.
type Room struct {
	ID   string
	Name string
}

// RoomDirectory checks that a room exists before a connection is registered.
type RoomDirectory interface {
	FindRoom(ctx context.Context, roomID string) (Room, error)
}

// Role of a participant within a room.
type Role string

const (
	RoleHost     Role = "HOST"
	RoleVoter    Role = "VOTER"
	RoleObserver Role = "OBSERVER"
)

// RoleLookup resolves a user's role within a room.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID, roomID string) (Role, error)
}
