package socket

import (
	"sync"
	"time"
)

// JoinWatch tracks the per-connection join deadline: a client that completes
// the handshake must send room.join.v1 within the window or the join sweep
// closes it.
type JoinWatch struct {
	mu      sync.Mutex
	pending map[string]joinEntry // conn ID -> entry
}

type joinEntry struct {
	sess     *Session
	deadline time.Time
}

func NewJoinWatch() *JoinWatch {
	return &JoinWatch{pending: make(map[string]joinEntry)}
}

// Schedule arms the deadline for a freshly authenticated connection.
func (w *JoinWatch) Schedule(sess *Session, timeout time.Duration) {
	w.mu.Lock()
	w.pending[sess.client.ID()] = joinEntry{
		sess:     sess,
		deadline: time.Now().Add(timeout),
	}
	w.mu.Unlock()
}

// Cancel disarms the deadline; a no-op if it already expired or was never
// scheduled.
func (w *JoinWatch) Cancel(connID string) {
	w.mu.Lock()
	delete(w.pending, connID)
	w.mu.Unlock()
}

// Expired removes and returns every session past its deadline.
func (w *JoinWatch) Expired(now time.Time) []*Session {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []*Session
	for id, e := range w.pending {
		if now.After(e.deadline) {
			out = append(out, e.sess)
			delete(w.pending, id)
		}
	}
	return out
}

// PendingCount reports how many connections still owe a join message.
func (w *JoinWatch) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
