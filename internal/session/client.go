package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"codecollab/internal/models"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Client is one websocket connection. Its ID is the sender identity used for
// echo suppression. Frames are queued and written by a single writer
// goroutine, so Send never blocks on a slow peer. A peer that lets its queue
// fill up is disconnected.
type Client struct {
	ID   string
	Conn *websocket.Conn

	mu      sync.RWMutex
	hook    func(models.WSFrame)
	limiter *rate.Limiter
	send    chan models.WSFrame
	closed  bool
	done    chan struct{}
}

func NewClient(conn *websocket.Conn) *Client {
	c := &Client{ID: uuid.NewString(), Conn: conn, done: make(chan struct{})}
	if conn == nil {
		close(c.done)
		return c
	}
	c.send = make(chan models.WSFrame, sendBuffer)
	go c.writePump()
	return c
}

// SetSendHook replaces the default WebSocket sender (used in tests). Hooked
// frames are delivered synchronously.
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// SetRateLimit bounds inbound events to perSecond with the given burst.
func (c *Client) SetRateLimit(perSecond float64, burst int) {
	c.mu.Lock()
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	c.mu.Unlock()
}

// Allow reports whether one more inbound event fits the rate limit.
func (c *Client) Allow() bool {
	c.mu.RLock()
	l := c.limiter
	c.mu.RUnlock()
	return l == nil || l.Allow()
}

func (c *Client) Send(frame models.WSFrame) {
	c.mu.RLock()
	if hook := c.hook; hook != nil {
		c.mu.RUnlock()
		c.deliver(hook, frame)
		return
	}
	if c.closed || c.send == nil {
		c.mu.RUnlock()
		return
	}
	select {
	case c.send <- frame:
		c.mu.RUnlock()
	default:
		c.mu.RUnlock()
		c.Close()
	}
}

// deliver serializes hooked frames the way the writer serializes socket
// frames.
func (c *Client) deliver(hook func(models.WSFrame), frame models.WSFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hook(frame)
}

func (c *Client) writePump() {
	defer close(c.done)
	for frame := range c.send {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.Close()
			return
		}
		if err := c.Conn.WriteJSON(frame); err != nil {
			c.Close()
			return
		}
	}
}

func (c *Client) SendError(event string, err error) {
	resp := models.ToErrorResponse(err)
	c.Send(models.WSFrame{Type: models.EventError, Data: models.ErrorEvent{
		Code:    resp.Code,
		Message: resp.Message,
		Event:   event,
	}})
}

// Close stops the writer and closes the socket, which also ends the
// connection's read loop. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.send != nil {
		close(c.send)
	}
	c.mu.Unlock()
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// Done is closed once the writer has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

func clientID(c *Client) string {
	if c == nil {
		return ""
	}
	return c.ID
}
