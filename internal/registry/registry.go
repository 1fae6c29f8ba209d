package registry

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Conn is the transport-side view of one connected participant. In production
// it is satisfied by the socket client; tests use mock implementations.
type Conn interface {
	ID() string
	UserID() string
	Send(data []byte) error
	Ping() error
	CloseWithCode(code int, reason string)
	IsOpen() bool
}

// Subscriber receives room lifecycle hooks: Subscribe when a room gains its
// first connection, Unsubscribe when its last connection leaves. The Redis
// event bus uses these to attach to and detach from the room's cross-process
// channel. Hooks fire outside the registry lock because the production
// implementation does network I/O; calls for the same room never overlap, but
// rapid destroy-and-recreate churn can produce a redundant Subscribe or
// Unsubscribe, so implementations must be idempotent.
type Subscriber interface {
	Subscribe(roomID string)
	Unsubscribe(roomID string)
}

// NopSubscriber is used when no cross-process fan-in is configured.
type NopSubscriber struct{}

func (NopSubscriber) Subscribe(string)   {}
func (NopSubscriber) Unsubscribe(string) {}

type room struct {
	mu      sync.RWMutex
	members map[string]Conn // conn ID -> conn
}

// Registry is the single source of truth for which connections belong to
// which room. Locking is two-level: the registry mutex guards the rooms map
// and the side maps, each room guards its own member set, so a broadcast in
// one room never blocks add/remove traffic in another.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	roomOf   map[string]string    // conn ID -> room ID
	tracked  map[string]Conn      // conn ID -> conn, every conn incl. pre-join
	lastSeen map[string]time.Time // conn ID -> last pong

	sub    Subscriber
	hookMu [16]sync.Mutex // stripes serializing subscriber hooks per room
	log    *slog.Logger

	// OnRoomEmpty, when set, runs inside Remove with the registry lock held
	// at the moment a room loses its last connection, so callers can drop
	// per-room state atomically with the eviction. It must be fast, stay
	// in memory and never call back into the registry. Set at wiring time,
	// before any connection is added.
	OnRoomEmpty func(roomID string)
}

func New(sub Subscriber, log *slog.Logger) *Registry {
	if sub == nil {
		sub = NopSubscriber{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		rooms:    make(map[string]*room),
		roomOf:   make(map[string]string),
		tracked:  make(map[string]Conn),
		lastSeen: make(map[string]time.Time),
		sub:      sub,
		log:      log,
	}
}

// Track registers a connection for heartbeat bookkeeping before it has joined
// any room. Idempotent.
func (r *Registry) Track(conn Conn) {
	r.mu.Lock()
	r.tracked[conn.ID()] = conn
	if _, ok := r.lastSeen[conn.ID()]; !ok {
		r.lastSeen[conn.ID()] = time.Now()
	}
	r.mu.Unlock()
}

// Add registers a connection under a room. The room's first connection
// creates the room entry and triggers the subscription hook; re-adding the
// same connection is a no-op.
func (r *Registry) Add(roomID string, conn Conn) {
	r.mu.Lock()

	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{members: make(map[string]Conn)}
		r.rooms[roomID] = rm
	}
	r.roomOf[conn.ID()] = roomID
	r.tracked[conn.ID()] = conn
	if _, ok := r.lastSeen[conn.ID()]; !ok {
		r.lastSeen[conn.ID()] = time.Now()
	}

	rm.mu.Lock()
	rm.members[conn.ID()] = conn
	rm.mu.Unlock()

	r.mu.Unlock()

	if !exists {
		r.reconcileSub(roomID)
	}
}

// Remove deregisters a connection. When the room's member set becomes empty
// the room entry is dropped, the OnRoomEmpty callback runs under the lock,
// and the unsubscribe hook fires after the lock is released. Returns the
// room the connection belonged to, or ok=false if it never completed a join.
func (r *Registry) Remove(conn Conn) (roomID string, ok bool) {
	r.mu.Lock()

	roomID, ok = r.roomOf[conn.ID()]
	delete(r.roomOf, conn.ID())
	delete(r.tracked, conn.ID())
	delete(r.lastSeen, conn.ID())

	emptied := false
	if ok {
		if rm, exists := r.rooms[roomID]; exists {
			rm.mu.Lock()
			delete(rm.members, conn.ID())
			emptied = len(rm.members) == 0
			rm.mu.Unlock()
			if emptied {
				delete(r.rooms, roomID)
				if r.OnRoomEmpty != nil {
					r.OnRoomEmpty(roomID)
				}
			}
		}
	}

	r.mu.Unlock()

	if emptied {
		r.reconcileSub(roomID)
	}
	return roomID, ok
}

// reconcileSub converges the subscriber's attachment for a room with the
// registry's current state. It runs outside the registry lock so the
// subscriber's network I/O never stalls traffic in other rooms. The stripe
// mutex serializes hook calls for the same room, and re-reading the room's
// existence under the stripe makes the last call win when a room is
// destroyed and recreated in quick succession.
func (r *Registry) reconcileSub(roomID string) {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	mu := &r.hookMu[h.Sum32()%uint32(len(r.hookMu))]
	mu.Lock()
	defer mu.Unlock()

	r.mu.RLock()
	_, active := r.rooms[roomID]
	r.mu.RUnlock()

	if active {
		r.sub.Subscribe(roomID)
	} else {
		r.sub.Unsubscribe(roomID)
	}
}

// Broadcast sends data to every open connection in the room. The member set
// is snapshotted under the room's read lock and sends happen outside it, so
// concurrent add/remove during delivery is fine. One recipient's failure
// never affects the others. Returns how many deliveries succeeded and how
// many failed with a send error.
func (r *Registry) Broadcast(roomID string, data []byte) (sent, dropped int) {
	r.mu.RLock()
	rm, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return 0, 0
	}

	rm.mu.RLock()
	conns := make([]Conn, 0, len(rm.members))
	for _, c := range rm.members {
		conns = append(conns, c)
	}
	rm.mu.RUnlock()

	for _, c := range conns {
		if !c.IsOpen() {
			continue
		}
		if err := c.Send(data); err != nil {
			dropped++
			r.log.Warn("broadcast send failed",
				"room", roomID, "connId", c.ID(), "userId", c.UserID(), "error", err)
			continue
		}
		sent++
	}
	return sent, dropped
}

// Unicast sends data to exactly one connection; a closed connection is
// skipped with a debug log, not an error.
func (r *Registry) Unicast(conn Conn, data []byte) error {
	if !conn.IsOpen() {
		r.log.Debug("unicast skipped, connection closed", "connId", conn.ID())
		return nil
	}
	if err := conn.Send(data); err != nil {
		r.log.Warn("unicast send failed",
			"connId", conn.ID(), "userId", conn.UserID(), "error", err)
		return err
	}
	return nil
}

// TouchHeartbeat records now as the connection's last pong. Unknown
// connections (already removed) are ignored.
func (r *Registry) TouchHeartbeat(conn Conn) {
	r.mu.Lock()
	if _, ok := r.tracked[conn.ID()]; ok {
		r.lastSeen[conn.ID()] = time.Now()
	}
	r.mu.Unlock()
}

// Stale returns every tracked connection whose last pong is older than
// now - timeout.
func (r *Registry) Stale(timeout time.Duration) []Conn {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []Conn
	for id, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			if c, ok := r.tracked[id]; ok {
				stale = append(stale, c)
			}
		}
	}
	return stale
}

// AllConns returns every tracked connection, joined or not. Used by the
// heartbeat pinger.
func (r *Registry) AllConns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.tracked))
	for _, c := range r.tracked {
		conns = append(conns, c)
	}
	return conns
}

// RoomOf returns the room a connection has joined, if any.
func (r *Registry) RoomOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.roomOf[conn.ID()]
	return roomID, ok
}

// ConnCount returns the number of connections joined to a room.
func (r *Registry) ConnCount(roomID string) int {
	r.mu.RLock()
	rm, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// RoomCount returns the number of rooms with at least one connection.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// TotalConns returns the number of tracked connections across all rooms,
// including authenticated connections that have not joined yet.
func (r *Registry) TotalConns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracked)
}
