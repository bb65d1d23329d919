package session

import (
	"github.com/yhkim-dev/brandtalk/models"
)

// DefaultBottomThreshold is how close to the bottom, in pixels, the
// viewport must be for sticky-tail auto-scrolling to apply.
const DefaultBottomThreshold = 100

// Metrics is the embedder's report of its scroll viewport, in the units
// the embedder renders in.
type Metrics struct {
	// Top is the scroll offset from the top of the content.
	Top int
	// Height is the total content height.
	Height int
	// ViewportHeight is the visible portion's height.
	ViewportHeight int
}

func (m Metrics) bottomDistance() int {
	return m.Height - (m.Top + m.ViewportHeight)
}

type DirectiveKind int

const (
	// DirectiveNone leaves the viewport alone.
	DirectiveNone DirectiveKind = iota
	// DirectiveScrollToBottom pins the viewport to the newest content.
	DirectiveScrollToBottom
	// DirectiveRestoreAnchor re-positions the viewport so the message
	// identified by Anchor stays in the same visual spot after a prepend.
	DirectiveRestoreAnchor
	// DirectiveNotify raises the "new message" affordance carrying
	// Notice without moving the viewport.
	DirectiveNotify
)

// Directive is the viewport coordinator's decision for one timeline
// mutation. The embedder applies it; the coordinator never touches
// rendering itself.
type Directive struct {
	Kind   DirectiveKind
	Anchor string
	Notice *models.Message
}

// Viewport decides, on every timeline mutation, whether to pin to the
// bottom, preserve the visual anchor across a history prepend, or raise
// the new-message affordance. It also owns the top-edge pagination
// trigger and its double-fire guard.
type Viewport struct {
	threshold   int
	initialized bool
	anchor      string
	notice      *models.Message
	// topArmed prevents a single physical scroll gesture bouncing at the
	// top edge from triggering pagination more than once. It re-arms when
	// the viewport leaves the edge.
	topArmed bool
}

func NewViewport(threshold int) *Viewport {
	if threshold <= 0 {
		threshold = DefaultBottomThreshold
	}
	return &Viewport{threshold: threshold, topArmed: true}
}

// SetAnchor records the message that is first in the timeline before a
// history prepend. The anchor is consumed by the next restore decision.
func (v *Viewport) SetAnchor(id string) {
	v.anchor = id
}

// Observe decides what to do with the viewport after a timeline
// mutation. timelineLen is the post-mutation length.
func (v *Viewport) Observe(d Diff, m Metrics, timelineLen int) Directive {
	if d.Empty() {
		return Directive{Kind: DirectiveNone}
	}

	// The first page ever rendered always lands at the bottom.
	if !v.initialized && timelineLen > 0 {
		v.initialized = true
		v.anchor = ""
		return Directive{Kind: DirectiveScrollToBottom}
	}

	// Sticky tail: already near the bottom, follow the new content.
	if m.bottomDistance() < v.threshold {
		v.anchor = ""
		v.notice = nil
		return Directive{Kind: DirectiveScrollToBottom}
	}

	if d.Prepended > 0 && v.anchor != "" {
		anchor := v.anchor
		v.anchor = ""
		return Directive{Kind: DirectiveRestoreAnchor, Anchor: anchor}
	}

	// Off-screen new content while scrolled up: surface the affordance
	// instead of moving the viewport.
	if msg := d.Appended; msg != nil {
		v.notice = msg
		return Directive{Kind: DirectiveNotify, Notice: msg}
	}
	if msg := d.Replaced; msg != nil {
		v.notice = msg
		return Directive{Kind: DirectiveNotify, Notice: msg}
	}

	return Directive{Kind: DirectiveNone}
}

// ObserveScroll reacts to the embedder's scroll movement. It reports
// whether an older history page should be fetched and whether the
// new-message affordance was cleared by reaching the bottom.
func (v *Viewport) ObserveScroll(m Metrics, hasMore bool) (paginate, noticeCleared bool) {
	if m.Top <= 0 {
		if v.topArmed && hasMore {
			paginate = true
		}
		v.topArmed = false
	} else {
		v.topArmed = true
	}

	if m.bottomDistance() <= 0 && v.notice != nil {
		v.notice = nil
		noticeCleared = true
	}
	return paginate, noticeCleared
}

// Notice returns the message behind the currently raised affordance, nil
// when none is showing.
func (v *Viewport) Notice() *models.Message {
	return v.notice
}

// Dismiss clears the affordance by user action and pins the viewport to
// the bottom.
func (v *Viewport) Dismiss() Directive {
	v.notice = nil
	return Directive{Kind: DirectiveScrollToBottom}
}

// Initialized reports whether the first page has been rendered.
func (v *Viewport) Initialized() bool {
	return v.initialized
}
