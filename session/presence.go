package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yhkim-dev/brandtalk/models"
)

// DefaultTypingWindow is how long after the last keystroke the local user
// is still reported as writing.
const DefaultTypingWindow = 3 * time.Second

// PresencePolicy decides how the typing roster is rendered. The strings
// are content decisions, not protocol, so embedders may localize them.
type PresencePolicy struct {
	// MaxNamed is the largest roster size for which names are spelled
	// out. Beyond it ManyMessage is used regardless of names.
	MaxNamed int
	// NamedFormat is the fmt template applied to the joined names.
	NamedFormat string
	// ManyMessage is the generic multi-typist message.
	ManyMessage string
	// RemoteExpiry, when positive, removes a roster entry that has not
	// re-reported writing within the window. Zero keeps entries until an
	// explicit writing=false arrives.
	RemoteExpiry time.Duration
}

func DefaultPresencePolicy() PresencePolicy {
	return PresencePolicy{
		MaxNamed:    2,
		NamedFormat: "%s is typing",
		ManyMessage: "several people are typing",
	}
}

type PresenceConfig struct {
	// SelfID is the local user id; activity events it originates are
	// ignored for roster purposes.
	SelfID string
	Window time.Duration
	Policy PresencePolicy
	// Publish reports the local user's composing state to the server.
	Publish func(writing bool)
	// Notify is invoked with the new display string whenever the roster
	// changes. May be nil.
	Notify func(display string)
}

// Presence maintains the set of remote users currently composing and the
// debounced reporting of the local user's own typing state. One debounce
// timer exists per session; every keystroke restarts it.
type Presence struct {
	mu      sync.Mutex
	cfg     PresenceConfig
	roster  []rosterEntry
	writing bool
	timer   *time.Timer
	// gen identifies the currently armed timer. Stop() cannot cancel a
	// timer whose function already started, so a fired expiry re-checks
	// the generation under the lock and no-ops when a newer keystroke
	// re-armed the window meanwhile.
	gen     uint64
	stopped bool
}

type rosterEntry struct {
	activity models.RoomActivity
	expiry   *time.Timer
}

func NewPresence(cfg PresenceConfig) *Presence {
	if cfg.Window <= 0 {
		cfg.Window = DefaultTypingWindow
	}
	if cfg.Policy.MaxNamed == 0 {
		cfg.Policy = DefaultPresencePolicy()
	}
	return &Presence{cfg: cfg}
}

// InputChanged records local keystroke activity. The first transition
// into a non-empty input emits writing=true; further keystrokes only
// restart the trailing timer. The timer firing emits writing=false.
func (p *Presence) InputChanged(value string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	emit := value != "" && !p.writing
	if emit {
		p.writing = true
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.cfg.Window, func() { p.expire(gen) })
	p.mu.Unlock()

	if emit && p.cfg.Publish != nil {
		p.cfg.Publish(true)
	}
}

func (p *Presence) expire(gen uint64) {
	p.mu.Lock()
	if p.stopped || gen != p.gen || !p.writing {
		p.mu.Unlock()
		return
	}
	p.writing = false
	p.timer = nil
	p.mu.Unlock()

	if p.cfg.Publish != nil {
		p.cfg.Publish(false)
	}
}

// Remote merges a remote activity event into the roster. Self-originated
// events are ignored. Returns true when the roster changed.
func (p *Presence) Remote(act models.RoomActivity) bool {
	p.mu.Lock()
	if p.stopped || act.ID == p.cfg.SelfID {
		p.mu.Unlock()
		return false
	}

	idx := -1
	for i := range p.roster {
		if p.roster[i].activity.ID == act.ID {
			idx = i
			break
		}
	}

	changed := false
	switch {
	case act.Writing && idx == -1:
		entry := rosterEntry{activity: act}
		if p.cfg.Policy.RemoteExpiry > 0 {
			entry.expiry = time.AfterFunc(p.cfg.Policy.RemoteExpiry, func() {
				p.evict(act.ID)
			})
		}
		p.roster = append(p.roster, entry)
		changed = true
	case act.Writing && idx != -1:
		if p.roster[idx].expiry != nil {
			p.roster[idx].expiry.Reset(p.cfg.Policy.RemoteExpiry)
		}
	case !act.Writing && idx != -1:
		p.removeAt(idx)
		changed = true
	}
	display := p.displayLocked()
	p.mu.Unlock()

	if changed && p.cfg.Notify != nil {
		p.cfg.Notify(display)
	}
	return changed
}

func (p *Presence) evict(id string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	changed := false
	for i := range p.roster {
		if p.roster[i].activity.ID == id {
			p.removeAt(i)
			changed = true
			break
		}
	}
	display := p.displayLocked()
	p.mu.Unlock()

	if changed && p.cfg.Notify != nil {
		p.cfg.Notify(display)
	}
}

func (p *Presence) removeAt(i int) {
	if p.roster[i].expiry != nil {
		p.roster[i].expiry.Stop()
	}
	p.roster = append(p.roster[:i], p.roster[i+1:]...)
}

// Display renders the roster according to the policy.
func (p *Presence) Display() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayLocked()
}

func (p *Presence) displayLocked() string {
	n := len(p.roster)
	switch {
	case n == 0:
		return ""
	case n > p.cfg.Policy.MaxNamed:
		return p.cfg.Policy.ManyMessage
	default:
		names := make([]string, 0, n)
		for i := 0; i < n && i < p.cfg.Policy.MaxNamed; i++ {
			names = append(names, p.roster[i].activity.Name)
		}
		return fmt.Sprintf(p.cfg.Policy.NamedFormat, strings.Join(names, ","))
	}
}

// Stop cancels the debounce timer and any roster expiry timers. The
// tracker accepts no further input afterwards.
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	for i := range p.roster {
		if p.roster[i].expiry != nil {
			p.roster[i].expiry.Stop()
		}
	}
	p.roster = nil
}
