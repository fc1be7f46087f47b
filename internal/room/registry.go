// Package room holds the hub-side room registry: which connection is in which
// room, and the membership broadcasts that go with every change.
package room

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/serroba/coderoom/internal/ws"
	"go.uber.org/zap"
)

// Common errors.
var (
	ErrInvalidRoom = errors.New("invalid room id")
	ErrInvalidName = errors.New("invalid display name")
	ErrNotInRoom   = errors.New("connection is not in a room")
)

// Limits applied to join requests.
const (
	MaxRoomIDLength      = 128
	MaxDisplayNameLength = 64
)

// Peer is the outbound side of a member connection.
type Peer interface {
	ID() string
	Send(msg ws.Message) error
}

type entry struct {
	member ws.Member
	peer   Peer
}

// room keeps members in join order; lookups go through the map.
type room struct {
	id      string
	order   []string
	members map[string]*entry
}

func (rm *room) snapshot() []ws.Member {
	result := make([]ws.Member, 0, len(rm.order))
	for _, id := range rm.order {
		result = append(result, rm.members[id].member)
	}

	return result
}

func (rm *room) remove(connID string) (*entry, bool) {
	e, ok := rm.members[connID]
	if !ok {
		return nil, false
	}

	delete(rm.members, connID)

	for i, id := range rm.order {
		if id == connID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)

			break
		}
	}

	return e, true
}

// Registry maps room IDs to their members.
// Every mutation and the broadcasts it causes happen under one lock, so
// observers never see a membership message interleaved with another change.
type Registry struct {
	mu sync.Mutex

	// rooms maps room ID to room
	rooms map[string]*room

	// index maps connection ID to the room it is in
	index map[string]string

	logger *zap.Logger
}

// Config holds configuration for creating a registry.
type Config struct {
	Logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		rooms:  make(map[string]*room),
		index:  make(map[string]string),
		logger: logger,
	}
}

// ValidateRoomID reports whether id is an acceptable room identifier.
func ValidateRoomID(id string) error {
	if id == "" || len(id) > MaxRoomIDLength {
		return ErrInvalidRoom
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ErrInvalidRoom
		}
	}

	return nil
}

func normalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", ErrInvalidName
	}

	return name, nil
}

// Join registers peer under roomID and returns the members including it.
// Every member, the newcomer included, receives a member_joined message.
// Joining the room the peer is already in changes nothing; joining another
// room leaves the current one first.
func (r *Registry) Join(roomID string, peer Peer, displayName string) ([]ws.Member, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	connID := peer.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.index[connID]; ok {
		if current == roomID {
			return r.rooms[roomID].snapshot(), nil
		}

		r.leaveLocked(connID)
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, members: make(map[string]*entry)}
		r.rooms[roomID] = rm
	}

	member := ws.Member{ConnectionID: connID, DisplayName: name, RoomID: roomID}
	rm.members[connID] = &entry{member: member, peer: peer}
	rm.order = append(rm.order, connID)
	r.index[connID] = roomID

	r.fanOut(rm, ws.Message{
		Type: ws.MessageTypeMemberJoined,
		Payload: ws.MemberJoinedPayload{
			Members:      rm.snapshot(),
			DisplayName:  name,
			ConnectionID: connID,
		},
	}, "")

	r.logger.Info("member joined",
		zap.String("room_id", roomID),
		zap.String("connection_id", connID),
		zap.Int("members", len(rm.order)),
	)

	return rm.snapshot(), nil
}

// Leave removes connID from its room and tells the remaining members.
// It reports whether anything was removed; repeated calls are no-ops.
func (r *Registry) Leave(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(connID)
}

func (r *Registry) leaveLocked(connID string) bool {
	roomID, ok := r.index[connID]
	if !ok {
		return false
	}

	delete(r.index, connID)

	rm := r.rooms[roomID]

	e, ok := rm.remove(connID)
	if !ok {
		return false
	}

	if len(rm.order) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.fanOut(rm, ws.Message{
			Type: ws.MessageTypeMemberLeft,
			Payload: ws.MemberLeftPayload{
				ConnectionID: connID,
				DisplayName:  e.member.DisplayName,
			},
		}, "")
	}

	r.logger.Info("member left",
		zap.String("room_id", roomID),
		zap.String("connection_id", connID),
		zap.Int("members", len(rm.order)),
	)

	return true
}

// Broadcast sends msg to every member of the sender's room except the sender.
func (r *Registry) Broadcast(fromID string, msg ws.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.index[fromID]
	if !ok {
		return ErrNotInRoom
	}

	r.fanOut(r.rooms[roomID], msg, fromID)

	return nil
}

// Unicast sends msg to toID, provided both connections share a room.
func (r *Registry) Unicast(fromID, toID string, msg ws.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.index[fromID]
	if !ok {
		return ErrNotInRoom
	}

	target, ok := r.rooms[roomID].members[toID]
	if !ok {
		return ErrNotInRoom
	}

	r.deliver(roomID, target, msg)

	return nil
}

func (r *Registry) fanOut(rm *room, msg ws.Message, excludeID string) {
	for _, id := range rm.order {
		if id == excludeID {
			continue
		}

		r.deliver(rm.id, rm.members[id], msg)
	}
}

// deliver only enqueues; a peer that cannot keep up is dropped by its own
// connection and leaves through the normal disconnect path.
func (r *Registry) deliver(roomID string, e *entry, msg ws.Message) {
	if err := e.peer.Send(msg); err != nil {
		r.logger.Warn("dropping message",
			zap.String("room_id", roomID),
			zap.String("connection_id", e.member.ConnectionID),
			zap.String("event", string(msg.Type)),
			zap.Error(err),
		)
	}
}

// Members returns the members of roomID in join order.
func (r *Registry) Members(roomID string) []ws.Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return []ws.Member{}
	}

	return rm.snapshot()
}

// RoomOf returns the room connID is in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.index[connID]

	return roomID, ok
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

// MemberCount returns the number of connections in any room.
func (r *Registry) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.index)
}
