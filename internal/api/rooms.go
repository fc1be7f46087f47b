package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/serroba/coderoom/internal/room"
	"github.com/serroba/coderoom/internal/ws"
)

// CreateRoomResponse is the response body for creating a room.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// RoomMembersResponse is the response body for listing a room's members.
type RoomMembersResponse struct {
	RoomID  string      `json:"roomId"`
	Members []ws.Member `json:"members"`
}

// HealthResponse is the response body for the health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Rooms   int    `json:"rooms"`
	Members int    `json:"members"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleCreateRoom handles POST /rooms. Rooms exist once someone joins, so
// this only hands out a fresh id.
func (s *Server) handleCreateRoom(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: uuid.NewString()})
}

// handleRoomMembers handles GET /rooms/{roomID}/members.
func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	if err := room.ValidateRoomID(roomID); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})

		return
	}

	s.writeJSON(w, http.StatusOK, RoomMembersResponse{
		RoomID:  roomID,
		Members: s.registry.Members(roomID),
	})
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Rooms:   s.registry.RoomCount(),
		Members: s.registry.MemberCount(),
	})
}
