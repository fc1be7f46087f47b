package ws_test

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/serroba/coderoom/internal/ws"
	"github.com/stretchr/testify/require"
)

// mockConn is a test double for ws.Conn.
type mockConn struct {
	mu       sync.Mutex
	messages []ws.Message
	closed   bool
	writeErr error

	// For ReadJSON simulation
	incoming chan string
}

func newMockConn() *mockConn {
	return &mockConn{
		messages: make([]ws.Message, 0),
		incoming: make(chan string, 10),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.messages = append(m.messages, msg)

	return nil
}

func (m *mockConn) ReadJSON(v any) error {
	raw, ok := <-m.incoming
	if !ok {
		return io.EOF
	}

	return json.Unmarshal([]byte(raw), v)
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *mockConn) Messages() []ws.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]ws.Message, len(m.messages))
	copy(result, m.messages)

	return result
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func startClient(t *testing.T, id string, conn *mockConn) *ws.Client {
	t.Helper()

	client := ws.NewClient(id, conn)
	go client.WritePump()

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := startClient(t, "c1", conn)

	err := client.Send(ws.Message{
		Type:    ws.MessageTypeCodeChange,
		Payload: ws.CodeChangePayload{Text: "hello"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(conn.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	if conn.Messages()[0].Type != ws.MessageTypeCodeChange {
		t.Errorf("expected code_change type, got %s", conn.Messages()[0].Type)
	}
}

func TestClient_Send_PreservesOrder(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := startClient(t, "c1", conn)

	texts := []string{"a", "ab", "abc", "abcd"}
	for _, text := range texts {
		require.NoError(t, client.Send(ws.Message{
			Type:    ws.MessageTypeCodeChange,
			Payload: ws.CodeChangePayload{Text: text},
		}))
	}

	require.Eventually(t, func() bool { return len(conn.Messages()) == len(texts) }, time.Second, 5*time.Millisecond)

	for i, msg := range conn.Messages() {
		payload, ok := msg.Payload.(map[string]any)
		require.True(t, ok)
		require.Equal(t, texts[i], payload["text"])
	}
}

func TestClient_SendError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := startClient(t, "c1", conn)

	require.NoError(t, client.SendError(ws.ErrorCodeInvalidRoom, "bad room"))

	require.Eventually(t, func() bool { return len(conn.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	if conn.Messages()[0].Type != ws.MessageTypeError {
		t.Errorf("expected error type, got %s", conn.Messages()[0].Type)
	}
}

func TestClient_Send_FullQueueClosesClient(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClientWithQueue("c1", conn, 1) // no pump: the queue never drains

	require.NoError(t, client.Send(ws.Message{Type: ws.MessageTypeCodeChange}))

	err := client.Send(ws.Message{Type: ws.MessageTypeCodeChange})
	if !errors.Is(err, ws.ErrSlowClient) {
		t.Fatalf("expected ErrSlowClient, got %v", err)
	}

	if !conn.IsClosed() {
		t.Error("expected slow client connection to be closed")
	}

	err = client.Send(ws.Message{Type: ws.MessageTypeCodeChange})
	if !errors.Is(err, ws.ErrClientClosed) {
		t.Errorf("expected ErrClientClosed after drop, got %v", err)
	}
}

func TestClient_WritePump_StopsOnWriteError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	conn.writeErr = errors.New("broken pipe")

	client := ws.NewClient("c1", conn)
	done := make(chan struct{})

	go func() {
		client.WritePump()
		close(done)
	}()

	require.NoError(t, client.Send(ws.Message{Type: ws.MessageTypeCodeChange}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop after write error")
	}

	if !conn.IsClosed() {
		t.Error("expected connection to be closed")
	}
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", conn)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	if !conn.IsClosed() {
		t.Error("expected connection to be closed")
	}

	select {
	case <-client.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestClient_Receive(t *testing.T) {
	t.Parallel()

	t.Run("decodes join", func(t *testing.T) {
		t.Parallel()

		conn := newMockConn()
		client := ws.NewClient("c1", conn)
		conn.incoming <- `{"type":"join","payload":{"roomId":"r1","displayName":"ada"}}`

		msg, err := client.Receive()
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeJoin, msg.Type)
		require.Equal(t, ws.JoinPayload{RoomID: "r1", DisplayName: "ada"}, msg.Payload)
	})

	t.Run("decodes sync with target", func(t *testing.T) {
		t.Parallel()

		conn := newMockConn()
		client := ws.NewClient("c1", conn)
		conn.incoming <- `{"type":"sync","target":"c2","payload":{"text":"X","connectionId":"c2"}}`

		msg, err := client.Receive()
		require.NoError(t, err)
		require.Equal(t, "c2", msg.Target)
		require.Equal(t, ws.SyncPayload{Text: "X", ConnectionID: "c2"}, msg.Payload)
	})

	t.Run("decodes leave without payload", func(t *testing.T) {
		t.Parallel()

		conn := newMockConn()
		client := ws.NewClient("c1", conn)
		conn.incoming <- `{"type":"leave"}`

		msg, err := client.Receive()
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeLeave, msg.Type)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		t.Parallel()

		conn := newMockConn()
		client := ws.NewClient("c1", conn)
		conn.incoming <- `{"type":"shout","payload":{}}`

		_, err := client.Receive()
		if !errors.Is(err, ws.ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		t.Parallel()

		conn := newMockConn()
		client := ws.NewClient("c1", conn)
		conn.incoming <- `{"type":"code_change","payload":"not an object"}`

		_, err := client.Receive()
		if !errors.Is(err, ws.ErrInvalidFormat) {
			t.Errorf("expected ErrInvalidFormat, got %v", err)
		}
	})

	t.Run("flags broken json as invalid format", func(t *testing.T) {
		t.Parallel()

		conn := newMockConn()
		client := ws.NewClient("c1", conn)
		conn.incoming <- `{"type":`

		_, err := client.Receive()
		if !errors.Is(err, ws.ErrInvalidFormat) {
			t.Errorf("expected ErrInvalidFormat, got %v", err)
		}
	})

	t.Run("returns transport errors", func(t *testing.T) {
		t.Parallel()

		conn := newMockConn()
		client := ws.NewClient("c1", conn)
		close(conn.incoming)

		_, err := client.Receive()
		if !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})
}
