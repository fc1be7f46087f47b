// Package api serves the hub: the WebSocket endpoint members connect to and
// a few JSON endpoints around the room registry.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/serroba/coderoom/internal/room"
	"go.uber.org/zap"
)

// Defaults for ServerConfig. DefaultMaxMessageBytes bounds inbound frames only;
// relayed frames can grow on re-encoding, which channel.DefaultReadLimit allows for.
const (
	DefaultPingInterval    = 25 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultMaxMessageBytes = 1 << 20

	writeWait = 10 * time.Second
)

// Server handles HTTP and WebSocket requests for the hub.
type Server struct {
	registry *room.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader

	pingInterval    time.Duration
	pongWait        time.Duration
	maxMessageBytes int64
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Registry        *room.Registry
	Logger          *zap.Logger
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = room.NewRegistry(room.Config{Logger: logger})
	}

	pingInterval := cfg.PingInterval
	if pingInterval == 0 {
		pingInterval = DefaultPingInterval
	}

	pongWait := cfg.PongWait
	if pongWait == 0 {
		pongWait = DefaultPongWait
	}

	maxMessageBytes := cfg.MaxMessageBytes
	if maxMessageBytes == 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}

	return &Server{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Members connect from any origin
			},
		},
		pingInterval:    pingInterval,
		pongWait:        pongWait,
		maxMessageBytes: maxMessageBytes,
	}
}

// Registry returns the room registry the server routes into.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", s.handleCreateRoom)
		r.Get("/{roomID}/members", s.handleRoomMembers)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
