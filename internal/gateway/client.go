package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// ErrSendBufferFull is returned when a slow client cannot keep up with
// its outbound frames.
var ErrSendBufferFull = errors.New("send buffer full")

// Client is one live websocket connection. It implements
// registry.Session: the registry and dispatcher only ever see this
// interface.
type Client struct {
	handle    string
	conn      *websocket.Conn
	send      chan outboundFrame
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		handle: uuid.NewString(),
		conn:   conn,
		send:   make(chan outboundFrame, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Handle returns the unique id of this connection.
func (c *Client) Handle() string {
	return c.handle
}

// Established probes transport liveness.
func (c *Client) Established() bool {
	return !c.closed.Load()
}

// Push enqueues an outbound frame. Frames to one session are delivered
// in push order by the single write pump. Never blocks: a full buffer
// is an error the caller logs and moves on from.
func (c *Client) Push(frameType string, data any) error {
	if c.closed.Load() {
		return errors.New("session closed")
	}
	select {
	case c.send <- outboundFrame{Type: frameType, Data: data}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// pushMessage enqueues a {type, message} frame.
func (c *Client) pushMessage(frameType, message string) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- outboundFrame{Type: frameType, Message: message}:
	default:
	}
}

// Kick sends a terminal kicked frame and starts a graceful close. The
// write pump drains the queue, so the kicked frame reaches the old
// session before its transport closes.
func (c *Client) Kick(message string) {
	c.pushMessage(frameKicked, message)
	c.shutdown()
}

// shutdown makes the write pump drain and close the transport.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// writePump owns all writes on the connection: queued frames in order,
// keepalive pings, and the final close message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			// Drain what was queued before the close, kicked included.
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if c.conn.WriteJSON(frame) != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
