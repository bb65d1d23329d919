// Package session implements the chat session reconciliation engine: it
// owns a room's in-memory timeline, merges paginated history with live
// streamed events, derives typing/connection/viewport state, and drives
// outbound sends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/yhkim-dev/brandtalk/api"
	"github.com/yhkim-dev/brandtalk/models"
	"github.com/yhkim-dev/brandtalk/ws"
)

var (
	// ErrNotConnected is returned by outbound actions while the session
	// is not in the connected state.
	ErrNotConnected = errors.New("session: not connected")
	// ErrClosed is returned when the session has been closed.
	ErrClosed = errors.New("session: closed")
)

const (
	pubMessage  = "/pub/message"
	pubActivity = "/pub/room_activity"
)

// RoomTopic is the chat event topic of a room.
func RoomTopic(roomID string) string {
	return fmt.Sprintf("/sub/room/%s", roomID)
}

// ActivityTopic is the presence event topic of a room.
func ActivityTopic(roomID string) string {
	return fmt.Sprintf("/sub/room_activity/%s", roomID)
}

// HistoryAPI is the REST surface the session needs. *api.Client
// implements it.
type HistoryAPI interface {
	ChatLogs(ctx context.Context, roomID string, offset *int64) (*api.ChatLogPage, error)
	UploadFile(ctx context.Context, roomID, filename string, r io.Reader) error
}

// Socket is the streaming surface the session needs. *ws.Client
// implements it.
type Socket interface {
	Subscribe(destination string, h ws.Handler)
	Unsubscribe(destination string)
	Publish(destination string, v any) error
}

// Cache persists timeline entries locally for warm starts. Optional.
type Cache interface {
	Put(ctx context.Context, msg models.Message) error
	PutBatch(ctx context.Context, msgs []models.Message) error
}

type Config struct {
	RoomID string
	// UserID is the local user; its own activity events are not shown.
	UserID string
	API    HistoryAPI
	Socket Socket
	// Cache is optional; when set, merged messages are written through.
	Cache  Cache
	Logger *slog.Logger

	TypingWindow    time.Duration
	Policy          PresencePolicy
	BottomThreshold int
	// Metrics reports the embedder's viewport at decision time. When nil
	// the session behaves as if pinned to the bottom.
	Metrics func() Metrics
}

// Session reconciles three independently arriving inputs, paginated
// history, live socket events and local user input, into one consistent
// timeline. All timeline mutations serialize through the session lock;
// network fetches happen outside it.
type Session struct {
	cfg    Config
	logger *slog.Logger

	presence *Presence

	mu              sync.Mutex
	timeline        *Timeline
	view            *Viewport
	state           ConnectionState
	historyInFlight bool
	inputHeight     int
	closed          bool

	onTimeline func(Diff, Directive)
	onState    func(ConnectionState)
	onPresence func(display string)
}

func New(cfg Config) (*Session, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("session: room id is required")
	}
	if cfg.API == nil || cfg.Socket == nil {
		return nil, errors.New("session: api and socket are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Session{
		cfg:         cfg,
		logger:      cfg.Logger.With(slog.String("room.id", cfg.RoomID)),
		timeline:    NewTimeline(),
		view:        NewViewport(cfg.BottomThreshold),
		state:       StateUninitialized,
		inputHeight: defaultInputHeight,
	}
	s.presence = NewPresence(PresenceConfig{
		SelfID:  cfg.UserID,
		Window:  cfg.TypingWindow,
		Policy:  cfg.Policy,
		Publish: s.publishActivity,
		Notify:  s.notifyPresence,
	})
	return s, nil
}

// OnTimeline registers the callback invoked after every timeline
// mutation with the diff and the viewport directive for it. Safe to
// call while events are already flowing.
func (s *Session) OnTimeline(f func(Diff, Directive)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTimeline = f
}

func (s *Session) OnState(f func(ConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = f
}

// OnPresence registers the callback invoked whenever the typing roster's
// display string changes.
func (s *Session) OnPresence(f func(display string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPresence = f
}

// Open subscribes the session to its room topics. Events start flowing
// as soon as the socket is connected.
func (s *Session) Open() {
	s.cfg.Socket.Subscribe(RoomTopic(s.cfg.RoomID), s.handleChatEvent)
	s.cfg.Socket.Subscribe(ActivityTopic(s.cfg.RoomID), s.handleActivityEvent)
}

// Close tears the session down: topics are unsubscribed, the typing
// debounce timer is cancelled, and any event or fetch completing
// afterwards is dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cfg.Socket.Unsubscribe(RoomTopic(s.cfg.RoomID))
	s.cfg.Socket.Unsubscribe(ActivityTopic(s.cfg.RoomID))
	s.presence.Stop()
	s.logger.Info("session closed")
}

// HandleConnect is the transport's connect callback. The session is
// classified user-disconnected instead of connected when the newest
// timeline entry already terminated the conversation.
func (s *Session) HandleConnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	last, ok := s.timeline.Last()
	if ok && last.Speaker == models.SpeakerSystem && last.SystemActivityType.Terminated() {
		s.state = StateUserDisconnected
	} else {
		s.state = StateConnected
	}
	state, cb := s.state, s.onState
	s.mu.Unlock()

	s.logger.Info("socket connected", slog.String("state", state.String()))
	if cb != nil {
		cb(state)
	}
}

// HandleDisconnect is the transport's disconnect callback. Sends are
// disabled but the timeline is kept.
func (s *Session) HandleDisconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	state, cb := s.state, s.onState
	s.mu.Unlock()

	s.logger.Info("socket disconnected")
	if cb != nil {
		cb(state)
	}
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the current timeline, oldest first.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Messages()
}

// HasMore reports whether older history may still be paged in.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.HasMore()
}

// TypingDisplay renders the current typing roster.
func (s *Session) TypingDisplay() string {
	return s.presence.Display()
}

// InputChanged reports local keystroke activity: it feeds the typing
// debounce and tracks the input affordance height.
func (s *Session) InputChanged(value string, contentHeight int) {
	s.mu.Lock()
	if value == "" {
		s.inputHeight = defaultInputHeight
	} else if contentHeight > 0 {
		s.inputHeight = min(contentHeight, maxInputHeight)
	}
	s.mu.Unlock()
	s.presence.InputChanged(value)
}

// InputHeight is the current height of the input affordance.
func (s *Session) InputHeight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputHeight
}

// LoadInitialPage fetches the newest history page. Racing live events
// are kept: the page is merged ahead of whatever arrived meanwhile.
func (s *Session) LoadInitialPage(ctx context.Context) error {
	return s.loadPage(ctx, nil)
}

// LoadOlderPage fetches the page behind the current cursor and merges it
// ahead of the timeline. It is a no-op while another load is in flight
// or when no more history exists.
func (s *Session) LoadOlderPage(ctx context.Context) error {
	s.mu.Lock()
	if !s.timeline.HasMore() {
		s.mu.Unlock()
		return nil
	}
	offset := s.timeline.Offset()
	s.mu.Unlock()
	return s.loadPage(ctx, offset)
}

func (s *Session) loadPage(ctx context.Context, offset *int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.historyInFlight {
		s.mu.Unlock()
		return nil
	}
	s.historyInFlight = true
	s.mu.Unlock()

	// The fetch happens outside the lock so live events keep flowing
	// while the page is on the wire.
	page, err := s.cfg.API.ChatLogs(ctx, s.cfg.RoomID, offset)
	metrics := s.metricsNow()

	s.mu.Lock()
	s.historyInFlight = false
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Error(fmt.Sprintf("ChatLogs: %v", err))
		return err
	}

	// Pages are served newest first; the timeline is oldest first.
	batch := make([]models.Message, len(page.Data))
	for i, m := range page.Data {
		batch[len(page.Data)-1-i] = m
	}

	if first, ok := s.timeline.First(); ok {
		s.view.SetAnchor(first.ID)
	}
	diff := s.timeline.Prepend(batch)
	s.timeline.SetOffset(page.NextOffset)
	directive := s.view.Observe(diff, metrics, s.timeline.Len())
	cb := s.onTimeline
	s.mu.Unlock()

	if s.cfg.Cache != nil && len(batch) > 0 {
		if err := s.cfg.Cache.PutBatch(context.Background(), batch); err != nil {
			s.logger.Error(fmt.Sprintf("Cache.PutBatch: %v", err))
		}
	}
	if cb != nil && !diff.Empty() {
		cb(diff, directive)
	}
	return nil
}

// Scroll reacts to the embedder's viewport movement: reaching the top
// edge pages older history in (once per gesture), reaching the bottom
// clears the new-message affordance.
func (s *Session) Scroll(ctx context.Context, m Metrics) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	paginate, cleared := s.view.ObserveScroll(m, s.timeline.HasMore())
	s.mu.Unlock()

	if cleared {
		s.logger.Debug("new message affordance cleared")
	}
	if paginate {
		go func() {
			_ = s.LoadOlderPage(ctx)
		}()
	}
}

// Notice returns the message behind the raised new-message affordance,
// nil when none is showing.
func (s *Session) Notice() *models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Notice()
}

// DismissNotice clears the affordance by click; the returned directive
// pins the viewport to the bottom.
func (s *Session) DismissNotice() Directive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Dismiss()
}

// handleChatEvent routes a live chat event into the timeline.
func (s *Session) handleChatEvent(_ string, body json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		s.logger.Error(fmt.Sprintf("Unmarshal chat event: %v", err))
		return
	}
	if msg.ID == "" {
		s.logger.Error("chat event without id dropped")
		return
	}

	metrics := s.metricsNow()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	diff := s.timeline.Apply(msg)
	directive := s.view.Observe(diff, metrics, s.timeline.Len())
	cb := s.onTimeline
	s.mu.Unlock()

	// The write-through runs off the read-loop goroutine; handlers must
	// not block and a slow disk must not stall pong handling.
	if s.cfg.Cache != nil {
		go func() {
			if err := s.cfg.Cache.Put(context.Background(), msg); err != nil {
				s.logger.Error(fmt.Sprintf("Cache.Put: %v", err))
			}
		}()
	}
	if cb != nil {
		cb(diff, directive)
	}
}

// handleActivityEvent routes a presence event into the typing roster.
func (s *Session) handleActivityEvent(_ string, body json.RawMessage) {
	var act models.RoomActivity
	if err := json.Unmarshal(body, &act); err != nil {
		s.logger.Error(fmt.Sprintf("Unmarshal activity event: %v", err))
		return
	}
	s.presence.Remote(act)
}

func (s *Session) notifyPresence(display string) {
	s.mu.Lock()
	cb := s.onPresence
	s.mu.Unlock()
	if cb != nil {
		cb(display)
	}
}

func (s *Session) metricsNow() Metrics {
	if s.cfg.Metrics == nil {
		// No viewport report available: behave pinned to the bottom.
		return Metrics{}
	}
	return s.cfg.Metrics()
}
