package push

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/pushgate/internal/common"
	"github.com/Tyrowin/pushgate/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// State is the lifecycle stage of a push channel.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// Conn is one push channel. It implements session.Channel.
type Conn struct {
	id      string
	addr    string
	ws      *websocket.Conn
	manager *Manager
	limiter *tokenBucket
	log     logging.Logger

	// mu guards state and the send channel's lifetime: senders hold the read
	// lock, Close takes the write lock before closing send.
	mu    sync.RWMutex
	state State
	send  chan []byte
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Addr() string { return c.addr }

func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) Closed() bool {
	return c.State() == Closed
}

// Send queues payload for the write pump. A closed channel returns
// common.ErrChannelClosed. A channel whose buffer is full is a slow consumer;
// it is closed and the payload dropped.
func (c *Conn) Send(payload []byte) error {
	c.mu.RLock()
	if c.state == Closed {
		c.mu.RUnlock()
		return common.ErrChannelClosed
	}
	select {
	case c.send <- payload:
		c.mu.RUnlock()
		return nil
	default:
	}
	c.mu.RUnlock()

	c.log.Warn(context.Background(), "send buffer full, closing slow channel")
	_ = c.Close()
	return common.ErrChannelClosed
}

// Close moves the channel to Closed, unbinds it from its session and then
// lets the write pump send a close frame and release the socket. Further
// calls are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	c.mu.Unlock()

	c.manager.release(c)

	// senders check state under the read lock, so none can be mid-send here
	close(c.send)
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		_ = c.Close()
	}()

	c.ws.SetReadLimit(c.manager.opts.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn(context.Background(), "setting read deadline failed", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.limiter.allow() {
			c.log.Warn(context.Background(), "rate limit exceeded, dropping message",
				"burst", c.manager.opts.RateLimitBurst, "interval", c.manager.opts.RateLimitInterval)
			continue
		}
		c.manager.dispatch(c, payload)
	}
}

func (c *Conn) logReadError(err error) {
	ctx := context.Background()
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn(ctx, "message exceeded size limit", "limit", c.manager.opts.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug(ctx, "peer closed channel", "error", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug(ctx, "channel connection closed", "error", err)
	default:
		c.log.Warn(ctx, "channel read failed", "error", err)
	}
}

// writePump is the only writer of c.ws.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn(context.Background(), "closing socket failed", "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				err := c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				if err != nil && !isExpectedCloseError(err) {
					c.log.Debug(context.Background(), "writing close frame failed", "error", err)
				}
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn(context.Background(), "channel write failed", "error", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug(context.Background(), "ping failed", "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

// isExpectedCloseError reports errors that only mean the socket is already gone.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
