// Package scroll decides when a chat view follows new content.
package scroll

import "sync"

// Threshold is the distance from the bottom, in pixels, under which the view counts as at the bottom.
const Threshold = 20

// State is the pin state of the view.
type State int

const (
	// Pinned means the view follows new content.
	Pinned State = iota
	// Unpinned means the user scrolled away and new content must not move the view.
	Unpinned
)

func (s State) String() string {
	if s == Unpinned {
		return "unpinned"
	}
	return "pinned"
}

// Scroller brings the trailing anchor of the view into sight.
type Scroller interface {
	ScrollToBottom()
}

// ScrollerFunc adapts a function to the Scroller interface.
type ScrollerFunc func()

// ScrollToBottom calls f.
func (f ScrollerFunc) ScrollToBottom() {
	f()
}

// Policy tracks whether the view is pinned to the bottom. Only scroll events and session starts change
// its state; content updates never do.
type Policy struct {
	mu       sync.Mutex
	state    State
	scroller Scroller
}

// NewPolicy returns a pinned policy that drives scroller. A nil scroller makes OnContent report the
// decision only.
func NewPolicy(scroller Scroller) *Policy {
	return &Policy{scroller: scroller}
}

// State returns the current state.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnScroll records a user scroll event reporting the distance between the viewport and the bottom.
func (p *Policy) OnScroll(distance float64) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if distance < Threshold {
		p.state = Pinned
	} else {
		p.state = Unpinned
	}
	return p.state
}

// OnViewport records a scroll event from raw viewport metrics.
func (p *Policy) OnViewport(scrollHeight, scrollTop, clientHeight float64) State {
	return p.OnScroll(scrollHeight - scrollTop - clientHeight)
}

// ForcePin pins the view. It is called when the user submits a new message.
func (p *Policy) ForcePin() {
	p.mu.Lock()
	p.state = Pinned
	p.mu.Unlock()
}

// OnContent is called after the transcript or the streamed text grows. While pinned it scrolls the view
// and reports true.
func (p *Policy) OnContent() bool {
	p.mu.Lock()
	pinned := p.state == Pinned
	p.mu.Unlock()

	if !pinned {
		return false
	}
	if p.scroller != nil {
		p.scroller.ScrollToBottom()
	}
	return true
}
