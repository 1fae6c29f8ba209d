package socket

import (
	"pokerroom/internal/registry"
)

// Publisher forwards a room broadcast to other server processes. Satisfied by
// the Redis event bus.
type Publisher interface {
	Publish(roomID string, data []byte)
}

// Fanout is the single emit path for room traffic: local delivery through the
// registry plus cross-process publication. Handlers and the session both send
// through it.
type Fanout struct {
	Reg     *registry.Registry
	Pub     Publisher // nil when running single-process
	Metrics *Metrics
}

func (f *Fanout) Broadcast(roomID string, data []byte) {
	f.Metrics.Broadcasts.Add(1)
	sent, dropped := f.Reg.Broadcast(roomID, data)
	f.Metrics.MessagesOut.Add(uint64(sent))
	f.Metrics.DroppedSends.Add(uint64(dropped))
	if f.Pub != nil {
		f.Pub.Publish(roomID, data)
	}
}

func (f *Fanout) Unicast(conn registry.Conn, data []byte) {
	if err := f.Reg.Unicast(conn, data); err != nil {
		f.Metrics.DroppedSends.Add(1)
		return
	}
	f.Metrics.MessagesOut.Add(1)
}
