package socket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"pokerroom/internal/config"
	"pokerroom/internal/registry"
)

type sweepConn struct {
	id     string
	mu     sync.Mutex
	open   bool
	pings  int
	closed []int
}

func (c *sweepConn) ID() string     { return c.id }
func (c *sweepConn) UserID() string { return "user-" + c.id }

func (c *sweepConn) Send([]byte) error { return nil }

func (c *sweepConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *sweepConn) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed = append(c.closed, code)
}

func (c *sweepConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *sweepConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func TestPingAll_SkipsClosedConnections(t *testing.T) {
	reg := registry.New(nil, nil)
	open := &sweepConn{id: "open", open: true}
	closed := &sweepConn{id: "closed", open: false}
	reg.Track(open)
	reg.Track(closed)

	s := NewSweeper(reg, NewJoinWatch(), NewMetrics(), config.Config{}, nil)
	s.pingAll()

	assert.Equal(t, 1, open.pingCount())
	assert.Equal(t, 0, closed.pingCount())
}

func TestSweepStale_ClosesOnlyStaleConnections(t *testing.T) {
	reg := registry.New(nil, nil)
	c := &sweepConn{id: "c1", open: true}
	reg.Track(c)

	// PongWaitMS zero means every tracked connection counts as stale.
	metrics := NewMetrics()
	s := NewSweeper(reg, NewJoinWatch(), metrics, config.Config{PongWaitMS: 0}, nil)
	s.sweepStale()

	assert.False(t, c.IsOpen())
	assert.Equal(t, uint64(1), metrics.StaleClosed.Load())

	// a healthy heartbeat window keeps connections alive
	reg2 := registry.New(nil, nil)
	healthy := &sweepConn{id: "c2", open: true}
	reg2.Track(healthy)
	s2 := NewSweeper(reg2, NewJoinWatch(), NewMetrics(), config.Config{PongWaitMS: 60000}, nil)
	s2.sweepStale()
	assert.True(t, healthy.IsOpen())
}
