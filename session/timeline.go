package session

import (
	"github.com/yhkim-dev/brandtalk/models"
)

// Timeline is the ordered, deduplicated message sequence of one room,
// oldest first. It is the single source of truth for what a renderer
// shows; only the owning Session mutates it, and every mutation goes
// through one of the methods below while the session lock is held.
type Timeline struct {
	msgs   []models.Message
	index  map[string]int
	offset *int64
}

// Diff describes what a single timeline mutation did. The viewport
// coordinator consumes it directly instead of diffing render output.
type Diff struct {
	// Prepended is the number of entries inserted ahead of the previous
	// head by a history merge.
	Prepended int
	// Appended is set when a new entry was added at the tail.
	Appended *models.Message
	// Replaced is set when an existing entry was updated in place.
	Replaced *models.Message
}

func (d Diff) Empty() bool {
	return d.Prepended == 0 && d.Appended == nil && d.Replaced == nil
}

func NewTimeline() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

// Prepend merges one page of history, given oldest first, ahead of the
// current head. Entries whose id is already in the timeline are dropped:
// a message that arrived live before its page was fetched stays where it
// is. Adjacency flags are recomputed for the inserted block and the join
// boundary.
func (t *Timeline) Prepend(batch []models.Message) Diff {
	fresh := make([]models.Message, 0, len(batch))
	for _, m := range batch {
		if m.ID == "" {
			continue
		}
		if _, ok := t.index[m.ID]; ok {
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return Diff{}
	}

	t.msgs = append(fresh, t.msgs...)
	for i := range t.msgs {
		t.index[t.msgs[i].ID] = i
	}
	for i := 0; i <= len(fresh) && i < len(t.msgs); i++ {
		t.recompute(i)
	}
	return Diff{Prepended: len(fresh)}
}

// Apply merges one live event. A known id replaces the existing entry in
// place, keeping its position; a new id is appended at the tail. Applying
// the same event twice yields the same timeline as applying it once.
func (t *Timeline) Apply(msg models.Message) Diff {
	if i, ok := t.index[msg.ID]; ok {
		t.msgs[i] = msg
		t.recompute(i)
		t.recompute(i + 1)
		replaced := t.msgs[i]
		return Diff{Replaced: &replaced}
	}

	t.msgs = append(t.msgs, msg)
	i := len(t.msgs) - 1
	t.index[msg.ID] = i
	t.recompute(i)
	appended := t.msgs[i]
	return Diff{Appended: &appended}
}

// recompute refreshes the adjacency flag of the entry at i against its
// predecessor.
func (t *Timeline) recompute(i int) {
	if i < 0 || i >= len(t.msgs) {
		return
	}
	t.msgs[i].SameSpeakerAsPrevious = i > 0 && t.msgs[i-1].Speaker == t.msgs[i].Speaker
}

func (t *Timeline) Len() int {
	return len(t.msgs)
}

// Messages returns a copy of the timeline, oldest first.
func (t *Timeline) Messages() []models.Message {
	out := make([]models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Timeline) Last() (models.Message, bool) {
	if len(t.msgs) == 0 {
		return models.Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

// First returns the current head, used as the visual anchor before a
// history prepend.
func (t *Timeline) First() (models.Message, bool) {
	if len(t.msgs) == 0 {
		return models.Message{}, false
	}
	return t.msgs[0], true
}

// HasMore reports whether older history may exist. A timeline that has
// never fetched a page is assumed to have more.
func (t *Timeline) HasMore() bool {
	return t.offset == nil || *t.offset != models.NoMoreHistory
}

// Offset is the pagination cursor of the next older page, nil before the
// first fetch.
func (t *Timeline) Offset() *int64 {
	return t.offset
}

func (t *Timeline) SetOffset(offset int64) {
	t.offset = &offset
}
