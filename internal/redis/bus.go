package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"pokerroom/internal/registry"
)

// frame is the cross-process wrapper around a broadcast payload. Origin is
// the publishing node's instance id so a node can skip frames it published
// itself (it already delivered them locally).
type frame struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Bus fans room broadcasts out across server processes via Redis pub/sub.
// It implements registry.Subscriber: the registry attaches a room's channel
// when the room gains its first local connection and detaches it when the
// last one leaves.
type Bus struct {
	rdb      *goredis.Client
	instance string
	log      *slog.Logger

	mu   sync.Mutex
	subs map[string]*goredis.PubSub // room ID -> subscription

	// Local delivers a remote-origin broadcast to this node's connections.
	// Set once at wiring time, before any Subscribe can fire.
	Local interface {
		Broadcast(roomID string, data []byte) (sent, dropped int)
	}

	published atomic.Uint64
	received  atomic.Uint64
	errors    atomic.Uint64
}

func NewBus(rdb *goredis.Client, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		rdb:      rdb,
		instance: uuid.NewString(),
		log:      log,
		subs:     make(map[string]*goredis.PubSub),
	}
}

func channelFor(roomID string) string {
	return "room:events:" + roomID
}

// Publish sends a broadcast payload to every other node serving the room.
func (b *Bus) Publish(roomID string, data []byte) {
	raw, err := json.Marshal(frame{Origin: b.instance, Data: data})
	if err != nil {
		b.errors.Add(1)
		b.log.Error("bus frame marshal failed", "room", roomID, "error", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), channelFor(roomID), raw).Err(); err != nil {
		b.errors.Add(1)
		b.log.Warn("bus publish failed", "room", roomID, "error", err)
		return
	}
	b.published.Add(1)
}

// Subscribe attaches to the room's channel and starts a goroutine delivering
// remote-origin frames locally. The registry serializes hook calls per room
// and may repeat one after rapid room churn; attaching twice is a no-op.
func (b *Bus) Subscribe(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[roomID]; ok {
		return
	}

	ps := b.rdb.Subscribe(context.Background(), channelFor(roomID))
	b.subs[roomID] = ps

	go b.receiveLoop(roomID, ps)
}

// Unsubscribe detaches from the room's channel; the receive loop ends when
// the subscription's message channel closes.
func (b *Bus) Unsubscribe(roomID string) {
	b.mu.Lock()
	ps, ok := b.subs[roomID]
	delete(b.subs, roomID)
	b.mu.Unlock()

	if ok {
		if err := ps.Close(); err != nil {
			b.log.Warn("bus unsubscribe failed", "room", roomID, "error", err)
		}
	}
}

func (b *Bus) receiveLoop(roomID string, ps *goredis.PubSub) {
	for msg := range ps.Channel() {
		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			b.errors.Add(1)
			b.log.Warn("bus frame decode failed", "room", roomID, "error", err)
			continue
		}
		if f.Origin == b.instance {
			continue
		}
		b.received.Add(1)
		if b.Local != nil {
			b.Local.Broadcast(roomID, f.Data)
		}
	}
}

// Stats returns published, received and error counts.
func (b *Bus) Stats() (published, received, errors uint64) {
	return b.published.Load(), b.received.Load(), b.errors.Load()
}

// Close detaches every active subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*goredis.PubSub)
	b.mu.Unlock()

	for roomID, ps := range subs {
		if err := ps.Close(); err != nil {
			b.log.Warn("bus close failed", "room", roomID, "error", err)
		}
	}
}

var _ registry.Subscriber = (*Bus)(nil)
