package session

import (
	"fmt"

	"github.com/serroba/coderoom/internal/ws"
)

// NotificationKind classifies a notification.
type NotificationKind int

const (
	NotifyMemberJoined NotificationKind = iota
	NotifyMemberLeft
	NotifyConnectionError
	NotifyRejected
)

// Notification is a short, user-facing event.
type Notification struct {
	Kind    NotificationKind
	Member  ws.Member
	Message string
}

func (n Notification) String() string {
	switch n.Kind {
	case NotifyMemberJoined:
		return fmt.Sprintf("%s joined the room", n.Member.DisplayName)
	case NotifyMemberLeft:
		return fmt.Sprintf("%s left the room", n.Member.DisplayName)
	case NotifyConnectionError:
		return "connection error: " + n.Message
	case NotifyRejected:
		return "join rejected: " + n.Message
	default:
		return n.Message
	}
}

// Notifier receives notifications. Notify is called from the channel's
// event loop and must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
