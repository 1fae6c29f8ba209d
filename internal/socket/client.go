package socket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pokerroom/internal/config"
)

var errSendBufferFull = errors.New("send buffer full")

// Client wraps one websocket connection and implements registry.Conn. All
// writes go through the send channel and the write pump; ping and close
// control frames use WriteControl, which gorilla allows concurrently.
type Client struct {
	id          string
	userID      string
	displayName string

	conn *websocket.Conn
	send chan []byte
	cfg  config.Config

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	// Close-frame text recorded at close time; the session maps it to the
	// participant_left reason tag.
	closeReason atomic.Value
}

func NewClient(id, userID, displayName string, conn *websocket.Conn, cfg config.Config) *Client {
	return &Client{
		id:          id,
		userID:      userID,
		displayName: displayName,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		cfg:         cfg,
		done:        make(chan struct{}),
	}
}

func (c *Client) ID() string          { return c.id }
func (c *Client) UserID() string      { return c.userID }
func (c *Client) DisplayName() string { return c.displayName }
func (c *Client) IsOpen() bool        { return !c.closed.Load() }

// Send queues a frame for the write pump. It never blocks: a full buffer
// means the client is too slow and the frame is dropped with an error.
func (c *Client) Send(data []byte) error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Ping writes a protocol-level ping control frame.
func (c *Client) Ping() error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait()))
}

// CloseWithCode sends a close frame with the given code and reason text, then
// tears the transport down. Safe to call from any goroutine, once wins.
func (c *Client) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeReason.Store(reason)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait()))
		_ = c.conn.Close()
		close(c.done)
	})
}

// CloseReason returns the reason text recorded by CloseWithCode, or "" when
// the peer closed the transport first.
func (c *Client) CloseReason() string {
	if v := c.closeReason.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// WritePump drains the send channel onto the wire. Pings come from the
// central sweeper, not from here.
func (c *Client) WritePump() {
	defer c.CloseWithCode(websocket.CloseInternalServerErr, "write failure")

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait()))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

			// Drain whatever is already queued under the same deadline.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-c.done:
			return
		}
	}
}
