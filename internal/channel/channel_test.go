package channel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/serroba/coderoom/internal/channel"
	"github.com/serroba/coderoom/internal/ws"
	"github.com/stretchr/testify/require"
)

// scriptedHub accepts one connection, says hello, records what it receives
// and sends whatever the test pushes on out.
type scriptedHub struct {
	hello    any
	out      chan ws.Message
	received chan ws.Message
	closeNow chan struct{}
}

func newScriptedHub() *scriptedHub {
	return &scriptedHub{
		hello: ws.Message{
			Type:    ws.MessageTypeConnected,
			Payload: ws.ConnectedPayload{ConnectionID: "conn-1"},
		},
		out:      make(chan ws.Message, 8),
		received: make(chan ws.Message, 8),
		closeNow: make(chan struct{}),
	}
}

func (h *scriptedHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	if err := wsjson.Write(ctx, conn, h.hello); err != nil {
		return
	}

	gone := make(chan struct{})

	go func() {
		defer close(gone)

		for {
			var msg ws.Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}

			h.received <- msg
		}
	}()

	for {
		select {
		case msg := <-h.out:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		case <-h.closeNow:
			return
		case <-gone:
			return
		}
	}
}

func startScripted(t *testing.T, h *scriptedHub) string {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_Handshake(t *testing.T) {
	t.Parallel()

	url := startScripted(t, newScriptedHub())

	conn, err := channel.Dial(context.Background(), url, channel.Options{})
	require.NoError(t, err)

	defer func() { _ = conn.Disconnect() }()

	require.Equal(t, "conn-1", conn.ID())
}

func TestDial_BadHello(t *testing.T) {
	t.Parallel()

	hub := newScriptedHub()
	hub.hello = ws.Message{Type: ws.MessageTypeMemberLeft, Payload: ws.MemberLeftPayload{}}
	url := startScripted(t, hub)

	_, err := channel.Dial(context.Background(), url, channel.Options{HandshakeTimeout: time.Second})
	require.ErrorIs(t, err, channel.ErrHandshake)
}

func TestDial_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := channel.Dial(context.Background(), url, channel.Options{})
	require.ErrorIs(t, err, channel.ErrConnect)
}

func TestConn_EmitAndDispatch(t *testing.T) {
	t.Parallel()

	hub := newScriptedHub()
	url := startScripted(t, hub)

	conn, err := channel.Dial(context.Background(), url, channel.Options{})
	require.NoError(t, err)

	defer func() { _ = conn.Disconnect() }()

	var (
		mu  sync.Mutex
		got []string
	)

	conn.On(ws.MessageTypeCodeChange, func(raw json.RawMessage) {
		var p ws.CodeChangePayload
		_ = json.Unmarshal(raw, &p)

		mu.Lock()
		defer mu.Unlock()

		got = append(got, p.Text)
	})

	require.NoError(t, conn.Emit(context.Background(), ws.MessageTypeSync, ws.SyncPayload{Text: "x", ConnectionID: "c2"}, "c2"))

	select {
	case msg := <-hub.received:
		require.Equal(t, ws.MessageTypeSync, msg.Type)
		require.Equal(t, "c2", msg.Target)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not receive the emit")
	}

	for _, text := range []string{"a", "b", "c"} {
		hub.out <- ws.Message{Type: ws.MessageTypeCodeChange, Payload: ws.CodeChangePayload{Text: text}}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestConn_Off(t *testing.T) {
	t.Parallel()

	url := startScripted(t, newScriptedHub())

	conn, err := channel.Dial(context.Background(), url, channel.Options{})
	require.NoError(t, err)

	defer func() { _ = conn.Disconnect() }()

	conn.On(ws.MessageTypeSync, func(json.RawMessage) {})
	conn.On(ws.MessageTypeCodeChange, func(json.RawMessage) {})
	require.Equal(t, 2, conn.HandlerCount())

	conn.Off(ws.MessageTypeSync)
	conn.Off(ws.MessageTypeCodeChange)
	require.Equal(t, 0, conn.HandlerCount())
}

func TestConn_ConnectErrorOnDrop(t *testing.T) {
	t.Parallel()

	hub := newScriptedHub()
	url := startScripted(t, hub)

	conn, err := channel.Dial(context.Background(), url, channel.Options{})
	require.NoError(t, err)

	failed := make(chan ws.ErrorPayload, 1)
	conn.On(channel.EventConnectError, func(raw json.RawMessage) {
		var p ws.ErrorPayload
		_ = json.Unmarshal(raw, &p)
		failed <- p
	})

	close(hub.closeNow)

	select {
	case p := <-failed:
		require.Equal(t, string(channel.EventConnectError), p.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("expected connect_error")
	}

	require.ErrorIs(t, conn.Emit(context.Background(), ws.MessageTypeLeave, struct{}{}, ""), channel.ErrClosed)
}

func TestConn_DisconnectIsQuiet(t *testing.T) {
	t.Parallel()

	url := startScripted(t, newScriptedHub())

	conn, err := channel.Dial(context.Background(), url, channel.Options{})
	require.NoError(t, err)

	failed := make(chan struct{}, 1)
	conn.On(channel.EventConnectError, func(json.RawMessage) { failed <- struct{}{} })

	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.Disconnect())

	select {
	case <-conn.Done():
	case <-time.After(6 * time.Second):
		t.Fatal("read loop did not stop")
	}

	select {
	case <-failed:
		t.Fatal("disconnect must not report connect_error")
	default:
	}

	require.ErrorIs(t, conn.Emit(context.Background(), ws.MessageTypeLeave, struct{}{}, ""), channel.ErrClosed)
}

// silentHub says hello and then never reads again, so pings go unanswered
// while the TCP connection stays open.
func silentHub(t *testing.T) string {
	t.Helper()

	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		hello := ws.Message{Type: ws.MessageTypeConnected, Payload: ws.ConnectedPayload{ConnectionID: "conn-1"}}
		if err := wsjson.Write(r.Context(), conn, hello); err != nil {
			return
		}

		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn_ConnectErrorOnUnresponsiveHub(t *testing.T) {
	t.Parallel()

	conn, err := channel.Dial(context.Background(), silentHub(t), channel.Options{
		PingInterval: 20 * time.Millisecond,
		PingTimeout:  50 * time.Millisecond,
	})
	require.NoError(t, err)

	failed := make(chan ws.ErrorPayload, 1)
	conn.On(channel.EventConnectError, func(raw json.RawMessage) {
		var p ws.ErrorPayload
		_ = json.Unmarshal(raw, &p)
		failed <- p
	})

	select {
	case p := <-failed:
		require.Equal(t, string(channel.EventConnectError), p.Code)
		require.Contains(t, p.Message, "ping")
	case <-time.After(2 * time.Second):
		t.Fatal("expected connect_error from an unresponsive hub")
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}

	require.ErrorIs(t, conn.Emit(context.Background(), ws.MessageTypeLeave, struct{}{}, ""), channel.ErrClosed)
}

func TestConn_ResponsiveHubKeepsChannelOpen(t *testing.T) {
	t.Parallel()

	url := startScripted(t, newScriptedHub())

	conn, err := channel.Dial(context.Background(), url, channel.Options{
		PingInterval: 10 * time.Millisecond,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)

	defer func() { _ = conn.Disconnect() }()

	failed := make(chan struct{}, 1)
	conn.On(channel.EventConnectError, func(json.RawMessage) { failed <- struct{}{} })

	select {
	case <-failed:
		t.Fatal("a hub answering pings must not fail the channel")
	case <-time.After(200 * time.Millisecond):
	}
}
