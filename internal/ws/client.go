package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Common errors.
var (
	ErrClientClosed  = errors.New("client is closed")
	ErrSlowClient    = errors.New("client send queue is full")
	ErrUnknownType   = errors.New("unknown message type")
	ErrInvalidFormat = errors.New("invalid message payload")
)

// DefaultQueueSize is the number of outbound messages buffered per client.
const DefaultQueueSize = 256

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Client represents one hub-side connection.
// Outbound messages go through a bounded queue drained by WritePump,
// so a slow peer never blocks the caller of Send.
type Client struct {
	id   string
	conn Conn

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a new client wrapper with the default queue size.
func NewClient(id string, conn Conn) *Client {
	return NewClientWithQueue(id, conn, DefaultQueueSize)
}

// NewClientWithQueue creates a client whose send queue holds size messages.
func NewClientWithQueue(id string, conn Conn, size int) *Client {
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Client{
		id:   id,
		conn: conn,
		send: make(chan Message, size),
		done: make(chan struct{}),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string {
	return c.id
}

// Send queues a message for the client.
// A full queue closes the client and returns ErrSlowClient.
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		_ = c.Close()

		return ErrSlowClient
	}
}

// SendError queues an error message for the client.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// WritePump writes queued messages to the connection in order.
// It returns when the client is closed or a write fails.
func (c *Client) WritePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				_ = c.Close()

				return
			}
		case <-c.done:
			return
		}
	}
}

// Receive reads a message from the client.
func (c *Client) Receive() (Message, error) {
	var raw struct {
		Type    MessageType     `json:"type"`
		Target  string          `json:"target"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := c.conn.ReadJSON(&raw); err != nil {
		if isDecodeError(err) {
			return Message{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}

		return Message{}, err
	}

	payload, err := decodePayload(raw.Type, raw.Payload)
	if err != nil {
		return Message{Type: raw.Type}, err
	}

	return Message{Type: raw.Type, Target: raw.Target, Payload: payload}, nil
}

// isDecodeError reports whether err came from a bad frame rather than the
// connection; the connection stays usable after one.
func isDecodeError(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// decodePayload parses a client-originated payload based on message type.
func decodePayload(t MessageType, raw json.RawMessage) (any, error) {
	var payload any

	switch t {
	case MessageTypeJoin:
		payload = &JoinPayload{}
	case MessageTypeSync:
		payload = &SyncPayload{}
	case MessageTypeCodeChange:
		payload = &CodeChangePayload{}
	case MessageTypeLeave:
		return nil, nil
	case MessageTypeConnected, MessageTypeMemberJoined, MessageTypeMemberLeft, MessageTypeError:
		// Server-to-client messages - keep raw payload
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no payload", ErrInvalidFormat, t)
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	switch p := payload.(type) {
	case *JoinPayload:
		return *p, nil
	case *SyncPayload:
		return *p, nil
	case *CodeChangePayload:
		return *p, nil
	}

	return payload, nil
}

// Close closes the client connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
