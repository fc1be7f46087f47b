package ws

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypeJoin  MessageType = "join"  // Client asks to enter a room
	MessageTypeLeave MessageType = "leave" // Client leaves its room explicitly

	// Client to Client messages, relayed by the hub.
	MessageTypeSync       MessageType = "sync"        // Full text for a newcomer (unicast)
	MessageTypeCodeChange MessageType = "code_change" // Full text after a local edit (broadcast)

	// Server to Client messages.
	MessageTypeConnected    MessageType = "connected"     // Hub tells a client its connection ID
	MessageTypeMemberJoined MessageType = "member_joined" // Hub pushes membership after a join
	MessageTypeMemberLeft   MessageType = "member_left"   // Hub announces a departure
	MessageTypeError        MessageType = "error"         // Hub reports an error to one client
)

// Message is the envelope for all WebSocket communication.
// Target is set only on unicast messages and names the receiving connection.
type Message struct {
	Type    MessageType `json:"type"`
	Target  string      `json:"target,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

// Member is one connection's identity inside a room.
type Member struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	RoomID       string `json:"roomId"`
}

// ConnectedPayload is the first message on every connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// JoinPayload is sent by a client to enter a room.
type JoinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// MemberJoinedPayload carries the full member list and the newcomer.
type MemberJoinedPayload struct {
	Members      []Member `json:"members"`
	DisplayName  string   `json:"displayName"`
	ConnectionID string   `json:"connectionId"`
}

// SyncPayload carries a member's current text to the newcomer named by ConnectionID.
type SyncPayload struct {
	Text         string `json:"text"`
	ConnectionID string `json:"connectionId"`
}

// CodeChangePayload carries the full text after an edit.
type CodeChangePayload struct {
	Text string `json:"text"`
}

// MemberLeftPayload names the member that left.
type MemberLeftPayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeInvalidRoom    = "invalid_room"
	ErrorCodeInvalidName    = "invalid_name"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeNotInRoom      = "not_in_room"
)
