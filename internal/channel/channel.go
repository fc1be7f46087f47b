// Package channel is the client side of the hub connection: an ordered,
// bidirectional event channel with named handlers.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/serroba/coderoom/internal/ws"
	"go.uber.org/zap"
)

// EventConnectError is delivered, with an ws.ErrorPayload, when an open
// channel fails for any reason other than Disconnect.
const EventConnectError ws.MessageType = "connect_error"

// Common errors.
var (
	ErrConnect   = errors.New("connect failed")
	ErrHandshake = errors.New("hub handshake failed")
	ErrClosed    = errors.New("channel is closed")
)

// Defaults for Options.
//
// The hub limits what it reads, not what it forwards: it re-encodes every
// relayed frame, adding a target and escaping characters such as '<' as
// six-byte sequences. DefaultReadLimit leaves room for that growth over the
// hub's default inbound limit of 1 MiB; raising the hub's limit means raising
// this one too.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadLimit        = 8 << 20
	DefaultPingInterval     = 20 * time.Second
	DefaultPingTimeout      = 10 * time.Second
)

// Handler receives the raw payload of one event.
// Handlers run one at a time, in arrival order.
type Handler func(payload json.RawMessage)

// Channel is what a session needs from the transport.
type Channel interface {
	// ID returns the connection ID the hub assigned.
	ID() string
	// Emit sends an event; a non-empty target makes it a unicast.
	Emit(ctx context.Context, t ws.MessageType, payload any, target string) error
	// On installs the handler for t, replacing any previous one.
	On(t ws.MessageType, h Handler)
	// Off removes the handler for t.
	Off(t ws.MessageType)
	// Disconnect closes the channel.
	Disconnect() error
}

// Dialer opens a new channel.
type Dialer func(ctx context.Context) (Channel, error)

// Options configures Dial.
type Options struct {
	Logger           *zap.Logger
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Header           http.Header
	// PingInterval is how often the hub is pinged; a pong missing after
	// PingTimeout fails the channel with connect_error.
	PingInterval time.Duration
	PingTimeout  time.Duration
}

type envelope struct {
	Type    ws.MessageType  `json:"type"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn is a Channel over a WebSocket connection to the hub.
type Conn struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	done   chan struct{}

	pingInterval time.Duration
	pingTimeout  time.Duration
	failMu       sync.Mutex
	failErr      error

	mu       sync.RWMutex
	handlers map[ws.MessageType]Handler
}

// Dial connects to the hub at url and waits for its connected message.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	readLimit := opts.ReadLimit
	if readLimit == 0 {
		readLimit = DefaultReadLimit
	}

	pingInterval := opts.PingInterval
	if pingInterval == 0 {
		pingInterval = DefaultPingInterval
	}

	pingTimeout := opts.PingTimeout
	if pingTimeout == 0 {
		pingTimeout = DefaultPingTimeout
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: opts.Header})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	conn.SetReadLimit(readLimit)

	id, err := handshake(ctx, conn, timeout)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")

		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		id:       id,
		conn:     conn,
		logger:   logger.With(zap.String("connection_id", id)),
		ctx:      loopCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: make(map[ws.MessageType]Handler),

		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
	}

	go c.readLoop()
	go c.keepAlive()

	return c, nil
}

// NewDialer returns a Dialer that calls Dial with url and opts.
func NewDialer(url string, opts Options) Dialer {
	return func(ctx context.Context) (Channel, error) {
		return Dial(ctx, url, opts)
	}
}

func handshake(ctx context.Context, conn *websocket.Conn, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var hello envelope
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if hello.Type != ws.MessageTypeConnected {
		return "", fmt.Errorf("%w: unexpected %q", ErrHandshake, hello.Type)
	}

	var payload ws.ConnectedPayload
	if err := json.Unmarshal(hello.Payload, &payload); err != nil || payload.ConnectionID == "" {
		return "", fmt.Errorf("%w: missing connection id", ErrHandshake)
	}

	return payload.ConnectionID, nil
}

// ID returns the connection ID the hub assigned.
func (c *Conn) ID() string {
	return c.id
}

// Emit sends an event to the hub.
func (c *Conn) Emit(ctx context.Context, t ws.MessageType, payload any, target string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	return wsjson.Write(ctx, c.conn, ws.Message{Type: t, Target: target, Payload: payload})
}

// On installs the handler for t.
func (c *Conn) On(t ws.MessageType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[t] = h
}

// Off removes the handler for t.
func (c *Conn) Off(t ws.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers, t)
}

// HandlerCount returns the number of installed handlers.
func (c *Conn) HandlerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.handlers)
}

// Disconnect starts the close handshake and returns. No connect_error is
// delivered for a disconnect. It is safe to call from a handler; Done reports
// when the read loop has stopped.
func (c *Conn) Disconnect() error {
	if c.closed.Swap(true) {
		return nil
	}

	go func() {
		defer c.cancel()

		if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			c.logger.Debug("close handshake", zap.Error(err))
		}
	}()

	return nil
}

// Done is closed when the read loop has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		var env envelope
		if err := wsjson.Read(c.ctx, c.conn, &env); err != nil {
			if c.closed.Swap(true) {
				return
			}

			c.cancel()
			c.fail(c.cause(err))

			return
		}

		c.dispatch(env.Type, env.Payload)
	}
}

// keepAlive pings the hub until the read loop stops. A missed pong cancels
// the read loop, which then reports the ping failure; connect_error is
// always delivered from the read loop so handlers never run concurrently.
// Pongs are only read while readLoop is reading, which it always is.
func (c *Conn) keepAlive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.pingTimeout)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				if c.closed.Load() {
					return
				}

				c.failMu.Lock()
				c.failErr = fmt.Errorf("hub did not answer ping: %w", err)
				c.failMu.Unlock()

				c.logger.Warn("ping failed", zap.Error(err))
				c.cancel()

				return
			}
		case <-c.done:
			return
		}
	}
}

// cause prefers a recorded ping failure over the read error it provoked.
func (c *Conn) cause(readErr error) error {
	c.failMu.Lock()
	defer c.failMu.Unlock()

	if c.failErr != nil {
		return c.failErr
	}

	return readErr
}

func (c *Conn) fail(err error) {
	c.logger.Warn("channel failed", zap.Error(err))

	payload, _ := json.Marshal(ws.ErrorPayload{
		Code:    string(EventConnectError),
		Message: err.Error(),
	})

	c.dispatch(EventConnectError, payload)
}

func (c *Conn) dispatch(t ws.MessageType, payload json.RawMessage) {
	c.mu.RLock()
	h, ok := c.handlers[t]
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug("no handler", zap.String("event", string(t)))

		return
	}

	h(payload)
}

// Ensure Conn implements Channel.
var _ Channel = (*Conn)(nil)
