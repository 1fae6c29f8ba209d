package redis

import (
	"log/slog"
	"sync/atomic"
	"time"

	"pokerroom/internal/domain"
)

// HistoryWriter persists revealed-round snapshots asynchronously so a reveal
// never blocks on Redis. Enqueue drops on a full queue rather than stalling
// the handler.
type HistoryWriter struct {
	store *Store
	log   *slog.Logger

	queue   chan revealedRound
	workers int
	stopCh  chan struct{}

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	written  atomic.Uint64
	errors   atomic.Uint64
}

type revealedRound struct {
	roomID string
	round  *domain.Round
}

type HistoryWriterConfig struct {
	QueueSize int
	Workers   int
}

func NewHistoryWriter(store *Store, cfg HistoryWriterConfig, log *slog.Logger) *HistoryWriter {
	if log == nil {
		log = slog.Default()
	}
	w := &HistoryWriter{
		store:   store,
		log:     log,
		queue:   make(chan revealedRound, cfg.QueueSize),
		workers: cfg.Workers,
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < w.workers; i++ {
		go w.workerLoop(i)
	}

	return w
}

func (w *HistoryWriter) Enqueue(roomID string, round *domain.Round) {
	select {
	case w.queue <- revealedRound{roomID: roomID, round: round}:
		w.enqueued.Add(1)
	default:
		w.dropped.Add(1)
	}
}

func (w *HistoryWriter) workerLoop(workerID int) {
	for {
		select {
		case rr := <-w.queue:
			if err := w.store.SaveRound(rr.roomID, rr.round); err != nil {
				w.errors.Add(1)
				w.log.Warn("round history save failed",
					"worker", workerID, "room", rr.roomID, "round", rr.round.ID, "error", err)
				time.Sleep(20 * time.Millisecond)
				continue
			}
			w.written.Add(1)

		case <-w.stopCh:
			return
		}
	}
}

func (w *HistoryWriter) Shutdown() {
	close(w.stopCh)
}

func (w *HistoryWriter) Stats() (enqueued, dropped, written, errors uint64) {
	return w.enqueued.Load(), w.dropped.Load(), w.written.Load(), w.errors.Load()
}
