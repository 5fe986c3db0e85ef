package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/pushgate/internal/logging"
	"github.com/Tyrowin/pushgate/internal/session"
)

// HandshakeMessage is the first frame every channel receives once open.
const HandshakeMessage = "WebSocket connection established"

var ErrShuttingDown = errors.New("push: manager is shutting down")

var handshakeFrame, _ = json.Marshal(map[string]string{"message": HandshakeMessage})

// Inbound is a frame received on a channel together with its sender identity.
// Username is empty for channels not bound to a session.
type Inbound struct {
	ChannelID string
	Addr      string
	Username  string
	Payload   []byte
}

// Dispatcher receives inbound frames. It runs on the channel's read pump, so
// a slow dispatcher delays only that channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Inbound)
}

type DispatcherFunc func(ctx context.Context, msg Inbound)

func (f DispatcherFunc) Dispatch(ctx context.Context, msg Inbound) { f(ctx, msg) }

// Sessions is the part of the session registry the manager needs.
type Sessions interface {
	UnbindOnClose(ch session.Channel)
	Owner(channelID string) (string, bool)
}

// Options tune every channel opened by a Manager.
type Options struct {
	MaxMessageSize    int64
	SendBuffer        int
	RateLimitBurst    int
	RateLimitInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 512
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 5
	}
	if o.RateLimitInterval <= 0 {
		o.RateLimitInterval = time.Second
	}
	return o
}

// Manager accepts push channels and tracks the open ones.
type Manager struct {
	opts       Options
	sessions   Sessions
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	log        logging.Logger

	mu       sync.RWMutex
	conns    map[string]*Conn
	shutdown bool
	wg       sync.WaitGroup
}

func NewManager(sessions Sessions, dispatcher Dispatcher, origins *OriginPolicy, opts Options, log logging.Logger) *Manager {
	m := &Manager{
		opts:       opts.withDefaults(),
		sessions:   sessions,
		dispatcher: dispatcher,
		log:        log,
		conns:      make(map[string]*Conn),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.Allow,
	}
	return m
}

// Accept upgrades the request and opens a channel on it. On failure the
// upgrader has already written the HTTP error response.
func (m *Manager) Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return m.Open(ws, r.RemoteAddr)
}

// Open registers ws as a new channel, queues the handshake and starts its
// pumps.
func (m *Manager) Open(ws *websocket.Conn, addr string) (*Conn, error) {
	id := uuid.NewString()
	c := &Conn{
		id:      id,
		addr:    addr,
		ws:      ws,
		manager: m,
		limiter: newTokenBucket(m.opts.RateLimitBurst, m.opts.RateLimitInterval, nil),
		log:     m.log.With("channel", id, "remote", addr),
		state:   Connecting,
		send:    make(chan []byte, m.opts.SendBuffer),
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		_ = ws.Close()
		return nil, ErrShuttingDown
	}
	m.conns[id] = c
	count := len(m.conns)
	m.wg.Add(2)
	m.mu.Unlock()

	// a concurrent Shutdown may already have closed the channel
	c.mu.Lock()
	opened := c.state == Connecting
	if opened {
		c.send <- handshakeFrame
		c.state = Open
	}
	c.mu.Unlock()

	go func() {
		defer m.wg.Done()
		c.writePump()
	}()
	go func() {
		defer m.wg.Done()
		c.readPump()
	}()

	if !opened {
		return nil, ErrShuttingDown
	}
	c.log.Info(context.Background(), "channel opened", "open_channels", count)
	return c, nil
}

// release is called exactly once per channel, from Conn.Close, before the
// socket is released.
func (m *Manager) release(c *Conn) {
	m.sessions.UnbindOnClose(c)

	m.mu.Lock()
	delete(m.conns, c.id)
	count := len(m.conns)
	m.mu.Unlock()

	c.log.Info(context.Background(), "channel closed", "open_channels", count)
}

func (m *Manager) dispatch(c *Conn, payload []byte) {
	msg := Inbound{ChannelID: c.id, Addr: c.addr, Payload: payload}
	if username, ok := m.sessions.Owner(c.id); ok {
		msg.Username = username
	}
	m.dispatcher.Dispatch(context.Background(), msg)
}

// Get returns the open channel with the given ID.
func (m *Manager) Get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// Count returns the number of open channels.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Shutdown closes every channel, refuses new ones and waits for all pumps to
// finish or the timeout to pass.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	m.shutdown = true
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	m.log.Info(context.Background(), "shutting down push channels", "count", len(conns))
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		m.log.Warn(context.Background(), "push shutdown timed out", "timeout", timeout)
		return context.DeadlineExceeded
	}
}
