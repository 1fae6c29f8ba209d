package socket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watchSession(id string) *Session {
	return &Session{client: &Client{id: id}}
}

func TestJoinWatch_ExpiredRemovesEntries(t *testing.T) {
	w := NewJoinWatch()

	late := watchSession("late")
	fresh := watchSession("fresh")
	w.Schedule(late, -time.Second) // already past deadline
	w.Schedule(fresh, time.Minute)

	expired := w.Expired(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, "late", expired[0].client.ID())
	assert.Equal(t, 1, w.PendingCount())

	// a second sweep must not return the same session again
	assert.Empty(t, w.Expired(time.Now()))
}

func TestJoinWatch_CancelDisarms(t *testing.T) {
	w := NewJoinWatch()

	s := watchSession("c1")
	w.Schedule(s, -time.Second)
	w.Cancel("c1")

	assert.Empty(t, w.Expired(time.Now()))
	assert.Equal(t, 0, w.PendingCount())
}

func TestJoinWatch_CancelUnknownIsNoop(t *testing.T) {
	w := NewJoinWatch()
	w.Cancel("ghost")
	assert.Equal(t, 0, w.PendingCount())
}
