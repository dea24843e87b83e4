package editor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codecollab/internal/models"
)

const writeWait = 10 * time.Second

// WSTransport carries room protocol frames over a gorilla websocket.
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func Dial(ctx context.Context, url string, header http.Header) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WSTransport{conn: conn}, nil
}

func (t *WSTransport) Send(frame models.WSFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(frame)
}

// Run reads frames until the connection closes or ctx is done, passing each
// to handle in arrival order.
func (t *WSTransport) Run(ctx context.Context, handle func(models.InboundFrame)) error {
	stop := context.AfterFunc(ctx, func() { _ = t.conn.Close() })
	defer stop()

	for {
		var frame models.InboundFrame
		if err := t.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		handle(frame)
	}
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return t.conn.Close()
}

// Connect dials url and runs a Controller for roomID over it until ctx is
// done. The returned channel yields the read loop's result.
func Connect(ctx context.Context, url, roomID, username string, opts ...Option) (*Controller, <-chan error, error) {
	t, err := Dial(ctx, url, nil)
	if err != nil {
		return nil, nil, err
	}
	c := NewController(t, roomID, username, opts...)
	done := make(chan error, 1)
	go func() {
		defer c.Close()
		done <- t.Run(ctx, func(frame models.InboundFrame) {
			if err := c.HandleEvent(frame); err != nil {
				c.log.Warn("bad frame from server", "type", frame.Type, "error", err)
			}
		})
	}()
	if err := c.Join(); err != nil {
		_ = t.Close()
		return nil, nil, err
	}
	return c, done, nil
}
