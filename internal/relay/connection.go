package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

const (
	defaultConnectTimeout = 10 * time.Second
	pongWriteTimeout      = 5 * time.Second
	sendWriteTimeout      = 10 * time.Second
)

var (
	// ErrNotConnected indicates a send or receive on a closed connection.
	ErrNotConnected = errors.New("relay: not connected")
	// ErrReceiveTimeout indicates that no frame arrived within the caller's
	// receive window. The connection remains usable.
	ErrReceiveTimeout = errors.New("relay: receive timed out")
)

// ConnectionError wraps a dial or transport failure against one relay.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Connection is a single duplex websocket session to one relay. Callers
// own the receive loop and must close the connection on every exit path.
type Connection struct {
	url            string
	connectTimeout time.Duration
	logger         *zap.Logger
	clock          func() time.Time

	mu         sync.Mutex
	ws         *websocket.Conn
	lastActive time.Time
}

// ConnectionConfig carries construction options for NewConnection.
type ConnectionConfig struct {
	URL            string
	ConnectTimeout time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewConnection builds an unconnected session for the given relay URL.
func NewConnection(cfg ConnectionConfig) *Connection {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Connection{
		url:            cfg.URL,
		connectTimeout: timeout,
		logger:         logger,
		clock:          clock,
	}
}

// URL returns the relay URL this connection targets.
func (c *Connection) URL() string {
	return c.url
}

// Connected reports whether the websocket is currently open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// LastActive returns the time of the most recent successful traffic.
func (c *Connection) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Connect dials the relay. It is idempotent: an already-open connection is
// left untouched.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return &ConnectionError{URL: c.url, Err: err}
	}

	// Answer relay pings transparently; they never surface as frames. The
	// handler runs inside ReadMessage, so the write must take the same
	// mutex Send uses.
	ws.SetPingHandler(func(payload string) error {
		return c.writeControl(websocket.PongMessage, []byte(payload))
	})

	c.ws = ws
	c.lastActive = c.clock()
	c.logger.Debug("relay connected", zap.String("url", c.url))
	return nil
}

// Send writes one outbound frame. It fails with ErrNotConnected when the
// socket is closed, and closes the socket on a transport error.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(sendWriteTimeout)); err != nil {
		c.teardownLocked()
		return &ConnectionError{URL: c.url, Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.teardownLocked()
		return &ConnectionError{URL: c.url, Err: err}
	}
	c.lastActive = c.clock()
	return nil
}

// Receive blocks for up to timeout waiting for one inbound frame. A quiet
// interval returns ErrReceiveTimeout with the connection intact; a
// malformed frame returns nostr.ErrMalformedFrame with the connection
// intact; a transport error closes the connection.
func (c *Connection) Receive(timeout time.Duration) (nostr.Frame, error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil, ErrNotConnected
	}

	if err := ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		c.Close()
		return nil, &ConnectionError{URL: c.url, Err: err}
	}

	_, payload, err := ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrReceiveTimeout
		}
		c.Close()
		return nil, &ConnectionError{URL: c.url, Err: err}
	}

	c.mu.Lock()
	c.lastActive = c.clock()
	c.mu.Unlock()

	frame, err := nostr.ParseFrame(payload)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// Close shuts the websocket down. Safe to call repeatedly.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Connection) writeControl(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	return c.ws.WriteControl(messageType, payload, time.Now().Add(pongWriteTimeout))
}

func (c *Connection) teardownLocked() {
	if c.ws == nil {
		return
	}
	if err := c.ws.Close(); err != nil {
		c.logger.Debug("relay close failed", zap.String("url", c.url), zap.Error(err))
	}
	c.ws = nil
}
