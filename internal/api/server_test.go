package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/serroba/coderoom/internal/api"
	"github.com/serroba/coderoom/internal/room"
	"github.com/serroba/coderoom/internal/ws"
	"github.com/stretchr/testify/require"
)

type fakePeer struct{ id string }

func (p fakePeer) ID() string              { return p.id }
func (p fakePeer) Send(_ ws.Message) error { return nil }

func TestNewServer(t *testing.T) {
	t.Parallel()

	server := api.NewServer(api.ServerConfig{})

	if server == nil {
		t.Fatal("NewServer returned nil")
	}

	if server.Registry() == nil {
		t.Error("expected a default registry")
	}

	if server.Handler() == nil {
		t.Error("Handler returned nil")
	}
}

func TestServerHandler(t *testing.T) {
	t.Parallel()

	registry := room.NewRegistry(room.Config{})
	_, err := registry.Join("busy", fakePeer{id: "c1"}, "ada")
	require.NoError(t, err)

	handler := api.NewServer(api.ServerConfig{Registry: registry}).Handler()

	t.Run("healthz reports counts", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp api.HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, api.HealthResponse{Status: "ok", Rooms: 1, Members: 1}, resp)
	})

	t.Run("creates room ids", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", nil))

		require.Equal(t, http.StatusCreated, rec.Code)

		var resp api.CreateRoomResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.NoError(t, room.ValidateRoomID(resp.RoomID))
	})

	t.Run("lists members", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/busy/members", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp api.RoomMembersResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, []ws.Member{{ConnectionID: "c1", DisplayName: "ada", RoomID: "busy"}}, resp.Members)
	})

	t.Run("unknown room has no members", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/empty/members", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"roomId":"empty","members":[]}`, rec.Body.String())
	})

	t.Run("rejects malformed room id", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/no%20spaces/members", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("routes PUT to method not allowed", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/rooms", nil))

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("ws endpoint requires an upgrade", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for plain GET, got %d", rec.Code)
		}
	})
}
