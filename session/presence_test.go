package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhkim-dev/brandtalk/models"
)

type publishRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *publishRecorder) publish(writing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, writing)
}

func (r *publishRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.events))
	copy(out, r.events)
	return out
}

func activity(id, name string, writing bool) models.RoomActivity {
	return models.RoomActivity{ID: id, Name: name, ChatRoomID: "room-1", Writing: writing}
}

func TestPresenceDebouncesBurstToOnePair(t *testing.T) {
	rec := &publishRecorder{}
	p := NewPresence(PresenceConfig{
		SelfID:  "me",
		Window:  60 * time.Millisecond,
		Publish: rec.publish,
	})
	defer p.Stop()

	// A burst of keystrokes within the window must produce exactly one
	// writing=true followed by exactly one writing=false.
	p.InputChanged("h")
	time.Sleep(20 * time.Millisecond)
	p.InputChanged("he")
	time.Sleep(20 * time.Millisecond)
	p.InputChanged("hel")

	assert.Equal(t, []bool{true}, rec.snapshot())

	require.Eventually(t, func() bool {
		evs := rec.snapshot()
		return len(evs) == 2 && !evs[1]
	}, time.Second, 5*time.Millisecond)

	// Quiet afterwards: nothing else fires.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestPresenceKeystrokeRestartsWindow(t *testing.T) {
	rec := &publishRecorder{}
	p := NewPresence(PresenceConfig{
		SelfID:  "me",
		Window:  80 * time.Millisecond,
		Publish: rec.publish,
	})
	defer p.Stop()

	p.InputChanged("a")
	time.Sleep(50 * time.Millisecond)
	p.InputChanged("ab")
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first keystroke but only 50ms after the last: the
	// trailing edge has not fired yet.
	assert.Equal(t, []bool{true}, rec.snapshot())

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPresenceNewBurstAfterExpiry(t *testing.T) {
	rec := &publishRecorder{}
	p := NewPresence(PresenceConfig{
		SelfID:  "me",
		Window:  30 * time.Millisecond,
		Publish: rec.publish,
	})
	defer p.Stop()

	p.InputChanged("a")
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	p.InputChanged("ab")
	assert.Equal(t, []bool{true, false, true}, rec.snapshot())
}

func TestPresenceStaleExpiryIgnored(t *testing.T) {
	rec := &publishRecorder{}
	p := NewPresence(PresenceConfig{
		SelfID:  "me",
		Window:  time.Hour,
		Publish: rec.publish,
	})
	defer p.Stop()

	// Two keystrokes: the first timer may have fired right before the
	// second keystroke re-armed the window, in which case its expiry
	// runs with a stale generation and must not emit writing=false.
	p.InputChanged("a")
	p.InputChanged("ab")

	p.expire(1)
	assert.Equal(t, []bool{true}, rec.snapshot(), "stale expiry must stay silent")

	p.expire(2)
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	// A later keystroke starts a fresh burst.
	p.InputChanged("abc")
	assert.Equal(t, []bool{true, false, true}, rec.snapshot())
}

func TestPresenceRosterDisplay(t *testing.T) {
	p := NewPresence(PresenceConfig{SelfID: "me"})
	defer p.Stop()

	assert.Equal(t, "", p.Display())

	p.Remote(activity("u1", "Alice", true))
	assert.Equal(t, "Alice is typing", p.Display())

	p.Remote(activity("u2", "Bob", true))
	assert.Equal(t, "Alice,Bob is typing", p.Display())

	p.Remote(activity("u3", "Carol", true))
	assert.Equal(t, "several people are typing", p.Display())

	p.Remote(activity("u3", "Carol", false))
	assert.Equal(t, "Alice,Bob is typing", p.Display())

	p.Remote(activity("u1", "Alice", false))
	p.Remote(activity("u2", "Bob", false))
	assert.Equal(t, "", p.Display())
}

func TestPresenceIgnoresSelf(t *testing.T) {
	p := NewPresence(PresenceConfig{SelfID: "me"})
	defer p.Stop()

	assert.False(t, p.Remote(activity("me", "Me", true)))
	assert.Equal(t, "", p.Display())
}

func TestPresenceRemoteIdempotent(t *testing.T) {
	var mu sync.Mutex
	var notifications []string
	p := NewPresence(PresenceConfig{
		SelfID: "me",
		Notify: func(display string) {
			mu.Lock()
			notifications = append(notifications, display)
			mu.Unlock()
		},
	})
	defer p.Stop()

	assert.True(t, p.Remote(activity("u1", "Alice", true)))
	assert.False(t, p.Remote(activity("u1", "Alice", true)), "repeat writing=true leaves the roster alone")
	assert.True(t, p.Remote(activity("u1", "Alice", false)))
	assert.Equal(t, "", p.Display())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Alice is typing", ""}, notifications)
}

func TestPresenceRemoteExpiry(t *testing.T) {
	policy := DefaultPresencePolicy()
	policy.RemoteExpiry = 30 * time.Millisecond
	p := NewPresence(PresenceConfig{SelfID: "me", Policy: policy})
	defer p.Stop()

	p.Remote(activity("u1", "Alice", true))
	assert.Equal(t, "Alice is typing", p.Display())

	// Without a refreshing event the entry evicts itself.
	require.Eventually(t, func() bool {
		return p.Display() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestPresenceStopSilences(t *testing.T) {
	rec := &publishRecorder{}
	p := NewPresence(PresenceConfig{SelfID: "me", Window: 20 * time.Millisecond, Publish: rec.publish})

	p.InputChanged("a")
	p.Stop()
	p.InputChanged("ab")
	p.Remote(activity("u1", "Alice", true))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true}, rec.snapshot(), "no trailing false after Stop")
	assert.Equal(t, "", p.Display())
}
