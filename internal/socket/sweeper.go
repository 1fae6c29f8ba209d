package socket

import (
	"log/slog"
	"sync/atomic"
	"time"

	"pokerroom/internal/config"
	"pokerroom/internal/protocol"
	"pokerroom/internal/registry"
)

// Sweeper runs the three scheduled maintenance tasks: heartbeat pings, stale
// connection eviction and join-deadline enforcement. The tasks run on
// independent tickers so a slow sweep never delays the next ping, and a tick
// is skipped, not queued, while the previous run of the same task is still
// executing.
type Sweeper struct {
	reg     *registry.Registry
	joins   *JoinWatch
	metrics *Metrics
	log     *slog.Logger
	cfg     config.Config

	stopCh chan struct{}

	pingRunning  atomic.Bool
	staleRunning atomic.Bool
	joinRunning  atomic.Bool
}

func NewSweeper(reg *registry.Registry, joins *JoinWatch, metrics *Metrics, cfg config.Config, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		reg:     reg,
		joins:   joins,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.loop(s.cfg.PingPeriod(), &s.pingRunning, s.pingAll)
	go s.loop(s.cfg.StaleSweep(), &s.staleRunning, s.sweepStale)
	go s.loop(s.cfg.JoinSweep(), &s.joinRunning, s.sweepJoins)
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) loop(period time.Duration, running *atomic.Bool, task func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				s.metrics.SweepsSkipped.Add(1)
				continue
			}
			go func() {
				defer running.Store(false)
				task()
			}()
		case <-s.stopCh:
			return
		}
	}
}

// pingAll sends a protocol-level ping to every tracked connection. Closed
// connections are skipped, individual failures are not errors.
func (s *Sweeper) pingAll() {
	for _, c := range s.reg.AllConns() {
		if !c.IsOpen() {
			continue
		}
		if err := c.Ping(); err != nil {
			s.log.Debug("ping failed", "connId", c.ID(), "error", err)
		}
	}
}

// sweepStale closes every connection with no pong inside the heartbeat
// window, one at a time; a failing close never stops the sweep.
func (s *Sweeper) sweepStale() {
	for _, c := range s.reg.Stale(s.cfg.PongWait()) {
		s.metrics.StaleClosed.Add(1)
		s.log.Info("closing stale connection",
			"connId", c.ID(), "userId", c.UserID())
		c.CloseWithCode(protocol.CloseNormal, "timeout")
	}
}

// sweepJoins closes connections that missed the join deadline.
func (s *Sweeper) sweepJoins() {
	for _, sess := range s.joins.Expired(time.Now()) {
		sess.ExpireJoin()
	}
}
