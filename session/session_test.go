package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhkim-dev/brandtalk/api"
	"github.com/yhkim-dev/brandtalk/models"
	"github.com/yhkim-dev/brandtalk/ws"
)

type fakeAPI struct {
	mu      sync.Mutex
	calls   int
	offsets []*int64
	pages   []api.ChatLogPage
	err     error
	// gate, when non-nil, blocks ChatLogs until closed. It simulates a
	// page that is slow on the wire.
	gate      chan struct{}
	uploads   []string
	uploadErr error
}

func (f *fakeAPI) ChatLogs(_ context.Context, _ string, offset *int64) (*api.ChatLogPage, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.offsets = append(f.offsets, offset)
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if idx >= len(f.pages) {
		return &api.ChatLogPage{NextOffset: models.NoMoreHistory}, nil
	}
	page := f.pages[idx]
	return &page, nil
}

func (f *fakeAPI) UploadFile(_ context.Context, _, filename string, _ io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, filename)
	return nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type publishedFrame struct {
	destination string
	body        any
}

type fakeSocket struct {
	mu         sync.Mutex
	handlers   map[string]ws.Handler
	unsubbed   []string
	published  []publishedFrame
	publishErr error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[string]ws.Handler)}
}

func (f *fakeSocket) Subscribe(destination string, h ws.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[destination] = h
}

func (f *fakeSocket) Unsubscribe(destination string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, destination)
	f.unsubbed = append(f.unsubbed, destination)
}

func (f *fakeSocket) Publish(destination string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedFrame{destination: destination, body: v})
	return nil
}

// push delivers a server event to the subscribed handler, the way the
// socket read loop would.
func (f *fakeSocket) push(t *testing.T, destination string, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	f.mu.Lock()
	h := f.handlers[destination]
	f.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", destination)
	h(destination, body)
}

func (f *fakeSocket) sent() []publishedFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedFrame, len(f.published))
	copy(out, f.published)
	return out
}

type fakeCache struct {
	mu      sync.Mutex
	puts    []string
	batches [][]string
	// block, when non-nil, stalls Put until closed.
	block chan struct{}
}

func (c *fakeCache) Put(_ context.Context, msg models.Message) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, msg.ID)
	return nil
}

func (c *fakeCache) PutBatch(_ context.Context, msgs []models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, ids(msgs))
	return nil
}

// page builds a history page the way the server serves it, newest first,
// from ids given oldest first.
func page(next int64, speaker models.Speaker, oldestFirst ...string) api.ChatLogPage {
	data := make([]models.Message, len(oldestFirst))
	for i, id := range oldestFirst {
		data[len(oldestFirst)-1-i] = msg(id, speaker)
	}
	return api.ChatLogPage{Data: data, NextOffset: next}
}

func newTestSession(t *testing.T, f *fakeAPI, sock *fakeSocket, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		RoomID: "room-1",
		UserID: "me",
		API:    f,
		Socket: sock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	s.Open()
	t.Cleanup(s.Close)
	return s
}

func TestSessionRequiresRoomAndTransports(t *testing.T) {
	_, err := New(Config{API: &fakeAPI{}, Socket: newFakeSocket()})
	assert.Error(t, err)
	_, err = New(Config{RoomID: "r"})
	assert.Error(t, err)
}

func TestSessionInitialLoad(t *testing.T) {
	f := &fakeAPI{pages: []api.ChatLogPage{
		page(40, models.SpeakerCustomer, "m0", "m1", "m2"),
	}}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	var gotDiff Diff
	var gotDirective Directive
	s.OnTimeline(func(d Diff, dir Directive) {
		gotDiff, gotDirective = d, dir
	})

	require.NoError(t, s.LoadInitialPage(context.Background()))

	assert.Equal(t, []string{"m0", "m1", "m2"}, ids(s.Messages()))
	assert.True(t, s.HasMore())
	assert.Equal(t, 3, gotDiff.Prepended)
	assert.Equal(t, DirectiveScrollToBottom, gotDirective.Kind)
	require.Len(t, f.offsets, 1)
	assert.Nil(t, f.offsets[0], "initial page carries no cursor")
}

func TestSessionOlderPageUsesCursor(t *testing.T) {
	f := &fakeAPI{pages: []api.ChatLogPage{
		page(40, models.SpeakerCustomer, "m20", "m21"),
		page(models.NoMoreHistory, models.SpeakerUser, "m0", "m1"),
	}}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	require.NoError(t, s.LoadInitialPage(context.Background()))
	require.NoError(t, s.LoadOlderPage(context.Background()))

	assert.Equal(t, []string{"m0", "m1", "m20", "m21"}, ids(s.Messages()))
	assert.False(t, s.HasMore())
	require.Len(t, f.offsets, 2)
	require.NotNil(t, f.offsets[1])
	assert.Equal(t, int64(40), *f.offsets[1])

	// Exhausted history: further requests never reach the server.
	require.NoError(t, s.LoadOlderPage(context.Background()))
	assert.Equal(t, 2, f.callCount())
}

func TestSessionHistoryRaceKeepsLiveEvents(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeAPI{
		gate:  gate,
		pages: []api.ChatLogPage{page(models.NoMoreHistory, models.SpeakerCustomer, "m0", "m1", "m2")},
	}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	done := make(chan error, 1)
	go func() { done <- s.LoadInitialPage(context.Background()) }()
	require.Eventually(t, func() bool {
		return f.callCount() == 1
	}, time.Second, time.Millisecond)

	// While the page is on the wire, the room streams one message the
	// page also contains and one it does not.
	sock.push(t, RoomTopic("room-1"), msg("m2", models.SpeakerCustomer))
	sock.push(t, RoomTopic("room-1"), msg("live1", models.SpeakerUser))

	close(gate)
	require.NoError(t, <-done)

	// The page merges ahead of the live entries; the shared id is not
	// duplicated.
	assert.Equal(t, []string{"m0", "m1", "m2", "live1"}, ids(s.Messages()))
	assertAdjacency(t, s.Messages())
}

func TestSessionSingleFlightHistory(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeAPI{
		gate:  gate,
		pages: []api.ChatLogPage{page(models.NoMoreHistory, models.SpeakerCustomer, "m0")},
	}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	done := make(chan error, 1)
	go func() { done <- s.LoadInitialPage(context.Background()) }()
	require.Eventually(t, func() bool {
		return f.callCount() == 1
	}, time.Second, time.Millisecond)

	// A second request while one is in flight is dropped, not queued.
	require.NoError(t, s.LoadInitialPage(context.Background()))
	assert.Equal(t, 1, f.callCount())

	close(gate)
	require.NoError(t, <-done)
}

func TestSessionScrollPaginatesOncePerGesture(t *testing.T) {
	f := &fakeAPI{pages: []api.ChatLogPage{
		page(40, models.SpeakerCustomer, "m20"),
		page(models.NoMoreHistory, models.SpeakerCustomer, "m0"),
	}}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)
	require.NoError(t, s.LoadInitialPage(context.Background()))

	top := Metrics{Top: 0, Height: 2000, ViewportHeight: 400}
	s.Scroll(context.Background(), top)
	s.Scroll(context.Background(), top)

	require.Eventually(t, func() bool {
		return f.callCount() == 2
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, f.callCount(), "edge bounce must not fetch twice")
	assert.Equal(t, []string{"m0", "m20"}, ids(s.Messages()))
}

func TestSessionConnectDerivesUserDisconnected(t *testing.T) {
	blocked := msg("sys1", models.SpeakerSystem)
	blocked.SystemActivityType = models.ActivityUserBlocked
	f := &fakeAPI{pages: []api.ChatLogPage{{
		Data:       []models.Message{blocked, msg("m0", models.SpeakerCustomer)},
		NextOffset: models.NoMoreHistory,
	}}}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	var states []ConnectionState
	s.OnState(func(st ConnectionState) { states = append(states, st) })

	require.NoError(t, s.LoadInitialPage(context.Background()))
	s.HandleConnect()

	assert.Equal(t, StateUserDisconnected, s.State())
	assert.Equal(t, []ConnectionState{StateUserDisconnected}, states)

	assert.ErrorIs(t, s.SendText("hello"), ErrNotConnected)
	assert.Empty(t, sock.sent())
}

func TestSessionSendText(t *testing.T) {
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	assert.ErrorIs(t, s.SendText("hello"), ErrNotConnected)

	s.HandleConnect()
	assert.Equal(t, StateConnected, s.State())

	require.NoError(t, s.SendText("hello"))
	require.NoError(t, s.SendText("   "), "whitespace-only input is a no-op")

	sent := sock.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "/pub/message", sent[0].destination)
	env, ok := sent[0].body.(models.MessageEnvelope)
	require.True(t, ok)
	assert.Equal(t, "room-1", env.ChatRoomID)
	assert.Equal(t, "hello", env.MessageText)
	assert.Nil(t, env.RefKey, "ref keys are server-assigned")
	assert.Nil(t, env.BotEvent)

	s.HandleDisconnect()
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.SendText("again"), ErrNotConnected)
}

func TestSessionSendFile(t *testing.T) {
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	err := s.SendFile(context.Background(), "a.png", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	s.HandleConnect()
	require.NoError(t, s.SendFile(context.Background(), "a.png", nil))
	assert.Equal(t, []string{"a.png"}, f.uploads)

	f.uploadErr = errors.New("boom")
	assert.Error(t, s.SendFile(context.Background(), "b.png", nil))
}

func TestSessionLiveEventIdempotent(t *testing.T) {
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	sock.push(t, RoomTopic("room-1"), msg("m1", models.SpeakerCustomer))
	sock.push(t, RoomTopic("room-1"), msg("m1", models.SpeakerCustomer))

	assert.Equal(t, []string{"m1"}, ids(s.Messages()))
}

func TestSessionDropsMalformedEvents(t *testing.T) {
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	sock.push(t, RoomTopic("room-1"), map[string]string{"messageText": "no id"})
	sock.mu.Lock()
	h := sock.handlers[RoomTopic("room-1")]
	sock.mu.Unlock()
	h(RoomTopic("room-1"), json.RawMessage(`{not json`))

	assert.Empty(t, s.Messages())
}

func TestSessionNoticeLifecycle(t *testing.T) {
	current := atBottom
	var mu sync.Mutex
	f := &fakeAPI{pages: []api.ChatLogPage{page(models.NoMoreHistory, models.SpeakerCustomer, "m0")}}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, func(cfg *Config) {
		cfg.Metrics = func() Metrics {
			mu.Lock()
			defer mu.Unlock()
			return current
		}
	})

	require.NoError(t, s.LoadInitialPage(context.Background()))
	require.Nil(t, s.Notice())

	// Scrolled away from the tail: a live message raises the affordance
	// instead of moving the viewport.
	mu.Lock()
	current = farFromBottom
	mu.Unlock()

	var gotDirective Directive
	s.OnTimeline(func(_ Diff, dir Directive) { gotDirective = dir })
	sock.push(t, RoomTopic("room-1"), msg("live1", models.SpeakerCustomer))

	assert.Equal(t, DirectiveNotify, gotDirective.Kind)
	require.NotNil(t, s.Notice())
	assert.Equal(t, "live1", s.Notice().ID)

	d := s.DismissNotice()
	assert.Equal(t, DirectiveScrollToBottom, d.Kind)
	assert.Nil(t, s.Notice())
}

func TestSessionTypingRoundtrip(t *testing.T) {
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, func(cfg *Config) {
		cfg.TypingWindow = 30 * time.Millisecond
	})

	var mu sync.Mutex
	var displays []string
	s.OnPresence(func(display string) {
		mu.Lock()
		displays = append(displays, display)
		mu.Unlock()
	})

	s.InputChanged("h", 40)
	assert.Equal(t, 40, s.InputHeight())

	require.Eventually(t, func() bool {
		sent := sock.sent()
		if len(sent) != 2 {
			return false
		}
		first, _ := sent[0].body.(models.ActivityEnvelope)
		second, _ := sent[1].body.(models.ActivityEnvelope)
		return sent[0].destination == "/pub/room_activity" && first.Writing && !second.Writing
	}, time.Second, 5*time.Millisecond)

	s.InputChanged("", 0)
	assert.Equal(t, defaultInputHeight, s.InputHeight())

	// Remote typists surface through the presence callback; the local
	// user's own events do not.
	sock.push(t, ActivityTopic("room-1"), activity("u1", "Alice", true))
	sock.push(t, ActivityTopic("room-1"), activity("me", "Me", true))
	assert.Equal(t, "Alice is typing", s.TypingDisplay())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Alice is typing"}, displays)
}

func TestSessionInputHeightClamped(t *testing.T) {
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	s.InputChanged("multi\nline", 500)
	assert.Equal(t, maxInputHeight, s.InputHeight())

	s.HandleConnect()
	require.NoError(t, s.SendText("multi\nline"))
	assert.Equal(t, defaultInputHeight, s.InputHeight(), "send resets the affordance")
}

func TestSessionWritesThroughCache(t *testing.T) {
	cache := &fakeCache{}
	f := &fakeAPI{pages: []api.ChatLogPage{page(models.NoMoreHistory, models.SpeakerCustomer, "m0", "m1")}}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, func(cfg *Config) {
		cfg.Cache = cache
	})

	require.NoError(t, s.LoadInitialPage(context.Background()))
	sock.push(t, RoomTopic("room-1"), msg("live1", models.SpeakerUser))

	cache.mu.Lock()
	assert.Equal(t, [][]string{{"m0", "m1"}}, cache.batches)
	cache.mu.Unlock()

	// Live-event writes are detached from the handler.
	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.puts) == 1 && cache.puts[0] == "live1"
	}, time.Second, time.Millisecond)
}

func TestSessionSlowCacheDoesNotStallEvents(t *testing.T) {
	release := make(chan struct{})
	cache := &fakeCache{block: release}
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, func(cfg *Config) {
		cfg.Cache = cache
	})

	// The handler must return while the cache write is still stuck.
	done := make(chan struct{})
	go func() {
		sock.push(t, RoomTopic("room-1"), msg("m1", models.SpeakerCustomer))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event handler blocked on the cache write")
	}
	assert.Equal(t, []string{"m1"}, ids(s.Messages()))

	close(release)
	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.puts) == 1
	}, time.Second, time.Millisecond)
}

func TestSessionCallbackRegistrationDuringEvents(t *testing.T) {
	f := &fakeAPI{}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	// Registration may happen after Open, racing the read loop.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.OnTimeline(func(Diff, Directive) {})
			s.OnState(func(ConnectionState) {})
			s.OnPresence(func(string) {})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			sock.push(t, RoomTopic("room-1"), msg(fmt.Sprintf("m%d", i), models.SpeakerCustomer))
			sock.push(t, ActivityTopic("room-1"), activity("u1", "Alice", i%2 == 0))
		}
	}()
	wg.Wait()
	assert.Len(t, s.Messages(), 50)
}

func TestSessionHistoryErrorLeavesTimeline(t *testing.T) {
	f := &fakeAPI{err: errors.New("boom")}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)

	require.Error(t, s.LoadInitialPage(context.Background()))
	assert.Empty(t, s.Messages())
	assert.True(t, s.HasMore(), "a failed fetch does not consume the cursor")

	f.mu.Lock()
	f.err = nil
	// The first call burned a page slot; only the second serves data.
	f.pages = []api.ChatLogPage{{}, page(models.NoMoreHistory, models.SpeakerCustomer, "m0")}
	f.mu.Unlock()

	require.NoError(t, s.LoadInitialPage(context.Background()))
	assert.Equal(t, []string{"m0"}, ids(s.Messages()))
}

func TestSessionCloseDropsEverything(t *testing.T) {
	f := &fakeAPI{pages: []api.ChatLogPage{page(models.NoMoreHistory, models.SpeakerCustomer, "m0")}}
	sock := newFakeSocket()
	s := newTestSession(t, f, sock, nil)
	s.HandleConnect()

	s.Close()

	assert.Contains(t, sock.unsubbed, RoomTopic("room-1"))
	assert.Contains(t, sock.unsubbed, ActivityTopic("room-1"))
	assert.ErrorIs(t, s.LoadInitialPage(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.SendText("hello"), ErrClosed)
	assert.Empty(t, s.Messages())
}
