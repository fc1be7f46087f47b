// Package session drives one member's participation in a room: joining,
// answering newcomers with the current text, relaying local edits, and
// applying remote ones.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/serroba/coderoom/internal/channel"
	"github.com/serroba/coderoom/internal/document"
	"github.com/serroba/coderoom/internal/presence"
	"github.com/serroba/coderoom/internal/ws"
	"go.uber.org/zap"
)

// Common errors.
var (
	ErrConnection    = errors.New("connection error")
	ErrAlreadyActive = errors.New("session already active")
	ErrNotJoined     = errors.New("not joined")
	ErrNoDialer      = errors.New("no dialer configured")
)

// DefaultDebounce is how long local edits are coalesced before sending.
const DefaultDebounce = 100 * time.Millisecond

const errorBuffer = 8

// HubError is an error the hub reported with a wire error code.
type HubError struct {
	Code    string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub error %s: %s", e.Code, e.Message)
}

// State is the controller's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var handledEvents = []ws.MessageType{
	ws.MessageTypeMemberJoined,
	ws.MessageTypeMemberLeft,
	ws.MessageTypeSync,
	ws.MessageTypeCodeChange,
	ws.MessageTypeError,
	channel.EventConnectError,
}

// Config holds configuration for creating a controller.
type Config struct {
	Dial     channel.Dialer
	Document *document.Document
	Presence *presence.Tracker
	Notifier Notifier
	Logger   *zap.Logger
	Debounce time.Duration
	// OnText is called after a remote update changed the document.
	OnText func(text string)
}

// Controller is the client-side state machine:
// Disconnected -> Joining -> Joined -> Disconnected.
//
// Every handler installed on a channel is tagged with the generation that
// installed it; teardown bumps the generation and removes the handlers, so
// events from an old channel never touch a later session.
type Controller struct {
	dial     channel.Dialer
	doc      *document.Document
	presence *presence.Tracker
	notifier Notifier
	logger   *zap.Logger
	debounce time.Duration
	onText   func(string)
	errs     chan error

	// sendMu keeps sync, code_change and leave emits in edit order.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	gen        uint64
	ch         channel.Channel
	ctx        context.Context
	cancel     context.CancelFunc
	roomID     string
	joinResult chan error
	dirty      bool
	timer      *time.Timer
}

// New creates a disconnected controller.
func New(cfg Config) *Controller {
	doc := cfg.Document
	if doc == nil {
		doc = document.New(document.DefaultLanguage)
	}

	tracker := cfg.Presence
	if tracker == nil {
		tracker = presence.NewTracker()
	}

	var notifier Notifier = nopNotifier{}
	if cfg.Notifier != nil {
		notifier = cfg.Notifier
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	return &Controller{
		dial:     cfg.Dial,
		doc:      doc,
		presence: tracker,
		notifier: notifier,
		logger:   logger,
		debounce: debounce,
		onText:   cfg.OnText,
		errs:     make(chan error, errorBuffer),
	}
}

// Join connects and enters roomID as displayName. It blocks until the hub
// confirms membership, the join fails, or ctx is done. On any failure the
// controller is back in StateDisconnected.
func (c *Controller) Join(ctx context.Context, roomID, displayName string) error {
	if c.dial == nil {
		return ErrNoDialer
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()

		return ErrAlreadyActive
	}

	c.gen++
	gen := c.gen
	result := make(chan error, 1)
	c.state = StateJoining
	c.roomID = roomID
	c.joinResult = result
	c.mu.Unlock()

	ch, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateDisconnected
			c.joinResult = nil
		}
		c.mu.Unlock()

		c.logger.Warn("dial failed", zap.String("room_id", roomID), zap.Error(err))

		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = ch.Disconnect()

		return fmt.Errorf("%w: left while connecting", ErrNotJoined)
	}

	c.ch = ch
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.install(ch, gen)
	c.mu.Unlock()

	logger := c.logger.With(zap.String("room_id", roomID), zap.String("connection_id", ch.ID()))
	logger.Debug("joining")

	err = ch.Emit(ctx, ws.MessageTypeJoin, ws.JoinPayload{RoomID: roomID, DisplayName: displayName}, "")
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		c.teardown(gen, err)

		return err
	}

	select {
	case err := <-result:
		if err != nil {
			logger.Info("join failed", zap.Error(err))

			return err
		}

		logger.Info("joined")

		return nil
	case <-ctx.Done():
		c.teardown(gen, ctx.Err())

		return ctx.Err()
	}
}

func (c *Controller) install(ch channel.Channel, gen uint64) {
	ch.On(ws.MessageTypeMemberJoined, func(raw json.RawMessage) { c.onMemberJoined(gen, raw) })
	ch.On(ws.MessageTypeMemberLeft, func(raw json.RawMessage) { c.onMemberLeft(gen, raw) })
	ch.On(ws.MessageTypeSync, func(raw json.RawMessage) { c.onRemoteText(gen, ws.MessageTypeSync, raw) })
	ch.On(ws.MessageTypeCodeChange, func(raw json.RawMessage) { c.onRemoteText(gen, ws.MessageTypeCodeChange, raw) })
	ch.On(ws.MessageTypeError, func(raw json.RawMessage) { c.onHubError(gen, raw) })
	ch.On(channel.EventConnectError, func(raw json.RawMessage) { c.onConnectError(gen, raw) })
}

func (c *Controller) onMemberJoined(gen uint64, raw json.RawMessage) {
	var p ws.MemberJoinedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warn("bad member_joined payload", zap.Error(err))

		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()

		return
	}

	c.presence.Replace(p.Members)

	self := p.ConnectionID == c.ch.ID()

	switch {
	case self && c.state == StateJoining:
		c.state = StateJoined
		result := c.joinResult
		c.joinResult = nil
		pending := c.dirty
		c.mu.Unlock()

		result <- nil

		if pending {
			c.flush(gen)
		}
	case !self && c.state == StateJoined:
		c.mu.Unlock()
		c.syncNewcomer(gen, p.ConnectionID)

		c.notifier.Notify(Notification{
			Kind:   NotifyMemberJoined,
			Member: ws.Member{ConnectionID: p.ConnectionID, DisplayName: p.DisplayName, RoomID: c.roomOf(p)},
		})
	default:
		c.mu.Unlock()
	}
}

// syncNewcomer sends the current text to connID. The text is read under
// sendMu so a code_change can never overtake it with older content.
func (c *Controller) syncNewcomer(gen uint64, connID string) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()

		return
	}

	ch, ctx := c.ch, c.ctx
	text := c.doc.Text()
	c.mu.Unlock()

	err := ch.Emit(ctx, ws.MessageTypeSync, ws.SyncPayload{Text: text, ConnectionID: connID}, connID)
	if err != nil {
		c.logger.Warn("sync to newcomer failed", zap.String("target", connID), zap.Error(err))
	}
}

func (c *Controller) roomOf(p ws.MemberJoinedPayload) string {
	for _, m := range p.Members {
		if m.ConnectionID == p.ConnectionID {
			return m.RoomID
		}
	}

	return ""
}

func (c *Controller) onMemberLeft(gen uint64, raw json.RawMessage) {
	var p ws.MemberLeftPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warn("bad member_left payload", zap.Error(err))

		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()

		return
	}

	c.presence.Remove(p.ConnectionID)
	c.mu.Unlock()

	c.notifier.Notify(Notification{
		Kind:   NotifyMemberLeft,
		Member: ws.Member{ConnectionID: p.ConnectionID, DisplayName: p.DisplayName},
	})
}

// onRemoteText applies sync and code_change. The last text to arrive wins;
// a local edit still waiting for its debounce is superseded.
func (c *Controller) onRemoteText(gen uint64, t ws.MessageType, raw json.RawMessage) {
	var p ws.CodeChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warn("bad text payload", zap.String("event", string(t)), zap.Error(err))

		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateJoined {
		c.mu.Unlock()

		return
	}

	changed := c.doc.Set(p.Text)
	if changed {
		c.dirty = false
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	if changed && c.onText != nil {
		c.onText(p.Text)
	}
}

func (c *Controller) onHubError(gen uint64, raw json.RawMessage) {
	var p ws.ErrorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warn("bad error payload", zap.Error(err))

		return
	}

	hubErr := &HubError{Code: p.Code, Message: p.Message}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()

		return
	}

	joining := c.state == StateJoining
	c.mu.Unlock()

	if joining {
		c.teardown(gen, hubErr)
		c.notifier.Notify(Notification{Kind: NotifyRejected, Message: p.Message})

		return
	}

	c.logger.Warn("hub error", zap.String("code", p.Code), zap.String("message", p.Message))
	c.report(hubErr)
}

func (c *Controller) onConnectError(gen uint64, raw json.RawMessage) {
	var p ws.ErrorPayload
	_ = json.Unmarshal(raw, &p)

	err := fmt.Errorf("%w: %s", ErrConnection, p.Message)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()

		return
	}

	joined := c.state == StateJoined
	c.mu.Unlock()

	c.teardown(gen, err)

	if joined {
		c.report(err)
	}

	c.notifier.Notify(Notification{Kind: NotifyConnectionError, Message: p.Message})
}

func (c *Controller) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("error dropped", zap.Error(err))
	}
}

// Edit replaces the local text. While a session is active the change is
// sent to the room after the debounce delay; rapid edits are coalesced and
// only the latest text is sent.
func (c *Controller) Edit(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.doc.Set(text) {
		c.editedLocked()
	}
}

// Append adds text to the end of the local text. The read and the write
// happen under one lock, so a remote update can't slip in between them.
func (c *Controller) Append(text string) {
	if text == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.doc.Set(c.doc.Text() + text) {
		c.editedLocked()
	}
}

// SetLanguage selects the local language. The choice itself is never sent;
// when it swaps in a new starter template, that text goes out like an edit.
func (c *Controller) SetLanguage(lang document.Language) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.doc.SetLanguage(lang) {
		c.editedLocked()
	}
}

func (c *Controller) editedLocked() {
	if c.state == StateDisconnected {
		return
	}

	c.dirty = true

	if c.state != StateJoined {
		return
	}

	gen := c.gen
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.debounce, func() { c.flush(gen) })
}

// Flush sends a pending local edit now.
func (c *Controller) Flush() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	c.flush(gen)
}

func (c *Controller) flush(gen uint64) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.gen != gen || c.state != StateJoined || !c.dirty {
		c.mu.Unlock()

		return
	}

	c.dirty = false
	c.stopTimerLocked()
	text := c.doc.Text()
	ch, ctx := c.ch, c.ctx
	c.mu.Unlock()

	if err := ch.Emit(ctx, ws.MessageTypeCodeChange, ws.CodeChangePayload{Text: text}, ""); err != nil {
		c.logger.Warn("code_change failed", zap.Error(err))
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Leave sends any pending edit, leaves the room, and closes the channel.
// It is a no-op when disconnected.
func (c *Controller) Leave() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()

		return nil
	}

	gen := c.gen
	joined := c.state == StateJoined
	c.mu.Unlock()

	if joined {
		c.flush(gen)

		c.sendMu.Lock()
		c.mu.Lock()
		ch, ctx, current := c.ch, c.ctx, c.gen == gen
		c.mu.Unlock()

		if current {
			if err := ch.Emit(ctx, ws.MessageTypeLeave, struct{}{}, ""); err != nil {
				c.logger.Warn("leave failed", zap.Error(err))
			}
		}
		c.sendMu.Unlock()
	}

	c.teardown(gen, fmt.Errorf("%w: left before joining", ErrNotJoined))

	return nil
}

// teardown returns to StateDisconnected if gen is still current: it removes
// every handler it installed, fails a pending join with cause, clears
// presence, and disconnects the channel.
func (c *Controller) teardown(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateDisconnected {
		c.mu.Unlock()

		return
	}

	c.gen++
	c.state = StateDisconnected
	c.dirty = false
	c.stopTimerLocked()

	ch := c.ch
	c.ch = nil

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	result := c.joinResult
	c.joinResult = nil

	if ch != nil {
		for _, t := range handledEvents {
			ch.Off(t)
		}
	}

	c.presence.Reset()
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Disconnect(); err != nil {
			c.logger.Debug("disconnect", zap.Error(err))
		}
	}

	if result != nil {
		result <- cause
	}
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// RoomID returns the room of the current or most recent session.
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.roomID
}

// ConnectionID returns the hub-assigned id, or "" when disconnected.
func (c *Controller) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return ""
	}

	return c.ch.ID()
}

// Text returns the local document text.
func (c *Controller) Text() string {
	return c.doc.Text()
}

// Document returns the local document.
func (c *Controller) Document() *document.Document {
	return c.doc
}

// Members returns the current room members in hub order.
func (c *Controller) Members() []ws.Member {
	return c.presence.Members()
}

// Errors delivers connection and hub errors that happen after Join returned.
func (c *Controller) Errors() <-chan error {
	return c.errs
}
