package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/serroba/coderoom/internal/room"
	"github.com/serroba/coderoom/internal/ws"
	"go.uber.org/zap"
)

// handleWebSocket handles GET /ws.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))

		return
	}

	client := ws.NewClient(uuid.NewString(), conn)
	logger := s.logger.With(zap.String("connection_id", client.ID()))

	defer s.disconnect(client, logger)

	if err := client.Send(ws.Message{
		Type:    ws.MessageTypeConnected,
		Payload: ws.ConnectedPayload{ConnectionID: client.ID()},
	}); err != nil {
		return
	}

	go client.WritePump()
	go s.keepAlive(conn, client)

	conn.SetReadLimit(s.maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	logger.Debug("connected")

	s.handleMessages(client, logger)
}

// disconnect is the single exit path for a connection, whether it left
// cleanly, timed out, or dropped.
func (s *Server) disconnect(client *ws.Client, logger *zap.Logger) {
	s.registry.Leave(client.ID())
	_ = client.Close()

	logger.Debug("disconnected")
}

// keepAlive pings the peer until the client closes.
func (s *Server) keepAlive(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = client.Close()

				return
			}
		case <-client.Done():
			return
		}
	}
}

// handleMessages processes incoming messages from a client until the
// connection fails.
func (s *Server) handleMessages(client *ws.Client, logger *zap.Logger) {
	for {
		msg, err := client.Receive()
		if err != nil {
			if errors.Is(err, ws.ErrUnknownType) || errors.Is(err, ws.ErrInvalidFormat) {
				_ = client.SendError(ws.ErrorCodeInvalidMessage, err.Error())

				continue
			}

			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("connection lost", zap.Error(err))
			}

			return
		}

		switch msg.Type {
		case ws.MessageTypeJoin:
			s.handleJoin(client, msg, logger)
		case ws.MessageTypeSync:
			s.handleSync(client, msg)
		case ws.MessageTypeCodeChange:
			s.handleCodeChange(client, msg)
		case ws.MessageTypeLeave:
			s.registry.Leave(client.ID())
		case ws.MessageTypeConnected, ws.MessageTypeMemberJoined, ws.MessageTypeMemberLeft, ws.MessageTypeError:
			// Server-to-client messages - reject if received from client
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")
		}
	}
}

// handleJoin admits the client to a room. Rejections go to the requester
// only. Re-joining the current room changes nothing in the registry, so the
// requester gets the member list directly.
func (s *Server) handleJoin(client *ws.Client, msg ws.Message, logger *zap.Logger) {
	payload, ok := msg.Payload.(ws.JoinPayload)
	if !ok {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid join payload")

		return
	}

	current, _ := s.registry.RoomOf(client.ID())

	members, err := s.registry.Join(payload.RoomID, client, payload.DisplayName)
	if err != nil {
		logger.Info("join rejected", zap.String("room_id", payload.RoomID), zap.Error(err))

		switch {
		case errors.Is(err, room.ErrInvalidRoom):
			_ = client.SendError(ws.ErrorCodeInvalidRoom, err.Error())
		case errors.Is(err, room.ErrInvalidName):
			_ = client.SendError(ws.ErrorCodeInvalidName, err.Error())
		default:
			_ = client.SendError(ws.ErrorCodeInvalidMessage, err.Error())
		}

		return
	}

	if current == payload.RoomID {
		self := selfMember(members, client.ID())

		_ = client.Send(ws.Message{
			Type: ws.MessageTypeMemberJoined,
			Payload: ws.MemberJoinedPayload{
				Members:      members,
				DisplayName:  self.DisplayName,
				ConnectionID: client.ID(),
			},
		})
	}
}

func selfMember(members []ws.Member, connID string) ws.Member {
	for _, m := range members {
		if m.ConnectionID == connID {
			return m
		}
	}

	return ws.Member{ConnectionID: connID}
}

// handleSync forwards a full-text snapshot to the one member it targets.
func (s *Server) handleSync(client *ws.Client, msg ws.Message) {
	payload, ok := msg.Payload.(ws.SyncPayload)
	if !ok {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid sync payload")

		return
	}

	target := msg.Target
	if target == "" {
		target = payload.ConnectionID
	}

	if target == "" {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "sync needs a target")

		return
	}

	err := s.registry.Unicast(client.ID(), target, ws.Message{
		Type:    ws.MessageTypeSync,
		Target:  target,
		Payload: payload,
	})
	if err != nil {
		_ = client.SendError(ws.ErrorCodeNotInRoom, err.Error())
	}
}

// handleCodeChange relays an edit to the rest of the sender's room.
func (s *Server) handleCodeChange(client *ws.Client, msg ws.Message) {
	payload, ok := msg.Payload.(ws.CodeChangePayload)
	if !ok {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid code_change payload")

		return
	}

	err := s.registry.Broadcast(client.ID(), ws.Message{
		Type:    ws.MessageTypeCodeChange,
		Payload: payload,
	})
	if err != nil {
		_ = client.SendError(ws.ErrorCodeNotInRoom, err.Error())
	}
}
