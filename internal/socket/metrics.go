package socket

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

type Metrics struct {
	ConnectedClients atomic.Int64

	TotalConnections  atomic.Uint64
	TotalDisconnects  atomic.Uint64
	HandshakeRejected atomic.Uint64

	MessagesIn       atomic.Uint64
	MessagesOut      atomic.Uint64
	Broadcasts       atomic.Uint64
	DroppedSends     atomic.Uint64
	ValidationErrors atomic.Uint64

	JoinTimeouts  atomic.Uint64
	StaleClosed   atomic.Uint64
	SweepsSkipped atomic.Uint64

	StartTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// The round service, the history writer and the event bus contribute their
// own counters to the snapshot.
type roundStats interface {
	Stats() (started, votes, revealed uint64)
}

type writerStats interface {
	Stats() (enqueued, dropped, written, errors uint64)
}

type busStats interface {
	Stats() (published, received, errors uint64)
}

type metricsSnapshot struct {
	UptimeSeconds float64 `json:"uptimeSeconds"`

	ConnectedClients int64 `json:"connectedClients"`
	ActiveRooms      int   `json:"activeRooms"`

	TotalConnections  uint64 `json:"totalConnections"`
	TotalDisconnects  uint64 `json:"totalDisconnects"`
	HandshakeRejected uint64 `json:"handshakeRejected"`

	MessagesIn       uint64 `json:"messagesIn"`
	MessagesOut      uint64 `json:"messagesOut"`
	Broadcasts       uint64 `json:"broadcasts"`
	DroppedSends     uint64 `json:"droppedSends"`
	ValidationErrors uint64 `json:"validationErrors"`

	JoinTimeouts  uint64 `json:"joinTimeouts"`
	StaleClosed   uint64 `json:"staleClosed"`
	SweepsSkipped uint64 `json:"sweepsSkipped"`

	RoundsStarted  uint64 `json:"roundsStarted"`
	VotesRecorded  uint64 `json:"votesRecorded"`
	RoundsRevealed uint64 `json:"roundsRevealed"`

	HistoryEnqueued uint64 `json:"historyEnqueued"`
	HistoryDropped  uint64 `json:"historyDropped"`
	HistoryWritten  uint64 `json:"historyWritten"`
	HistoryErrors   uint64 `json:"historyErrors"`

	BusPublished uint64 `json:"busPublished"`
	BusReceived  uint64 `json:"busReceived"`
	BusErrors    uint64 `json:"busErrors"`
}

// RoomCounter reports the number of active rooms; satisfied by the registry.
type RoomCounter interface {
	RoomCount() int
}

func MetricsHandler(m *Metrics, rooms RoomCounter, rounds roundStats, writer writerStats, bus busStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := metricsSnapshot{
			UptimeSeconds: time.Since(m.StartTime).Seconds(),

			ConnectedClients: m.ConnectedClients.Load(),

			TotalConnections:  m.TotalConnections.Load(),
			TotalDisconnects:  m.TotalDisconnects.Load(),
			HandshakeRejected: m.HandshakeRejected.Load(),

			MessagesIn:       m.MessagesIn.Load(),
			MessagesOut:      m.MessagesOut.Load(),
			Broadcasts:       m.Broadcasts.Load(),
			DroppedSends:     m.DroppedSends.Load(),
			ValidationErrors: m.ValidationErrors.Load(),

			JoinTimeouts:  m.JoinTimeouts.Load(),
			StaleClosed:   m.StaleClosed.Load(),
			SweepsSkipped: m.SweepsSkipped.Load(),
		}
		if rooms != nil {
			snap.ActiveRooms = rooms.RoomCount()
		}
		if rounds != nil {
			snap.RoundsStarted, snap.VotesRecorded, snap.RoundsRevealed = rounds.Stats()
		}
		if writer != nil {
			snap.HistoryEnqueued, snap.HistoryDropped, snap.HistoryWritten, snap.HistoryErrors = writer.Stats()
		}
		if bus != nil {
			snap.BusPublished, snap.BusReceived, snap.BusErrors = bus.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	}
}
