// Package transcript holds the ordered list of conversation messages and reconciles streamed content into
// it. The transcript is the single source of truth for message content: streaming sessions refer to the
// message they fill by id only.
package transcript

import (
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/google/uuid"
)

// Listener receives a snapshot of the messages after every change.
type Listener func([]models.Message)

// Transcript is an ordered list of messages with unique ids. Insertion order is display order. It is safe
// for concurrent use.
type Transcript struct {
	mu       sync.RWMutex
	messages []models.Message
	index    map[string]int

	listeners  map[int]Listener
	nextListen int

	now func() time.Time
}

// Option configures a Transcript.
type Option func(*Transcript)

// WithClock overrides the clock used to stamp new messages.
func WithClock(now func() time.Time) Option {
	return func(t *Transcript) {
		t.now = now
	}
}

// New creates an empty transcript.
func New(opts ...Option) *Transcript {
	t := &Transcript{
		index:     make(map[string]int),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append adds a message with a fresh id at the end of the transcript and returns it.
func (t *Transcript) Append(role models.Role, content string) models.Message {
	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: models.DisplayTime(t.now()),
	}

	t.mu.Lock()
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	t.mu.Unlock()

	t.notify()
	return msg
}

// Reconcile replaces the content of the message identified by id, leaving every other field and message
// untouched. Applying the same content again leaves the transcript unchanged. It reports whether the
// message exists; a missing id is a no-op, which is expected after the transcript has been reset.
func (t *Transcript) Reconcile(id, content string) bool {
	t.mu.Lock()
	idx, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	changed := t.messages[idx].Content != content
	t.messages[idx].Content = content
	t.mu.Unlock()

	if changed {
		t.notify()
	}
	return true
}

// Get returns the message identified by id.
func (t *Transcript) Get(id string) (models.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.index[id]
	if !ok {
		return models.Message{}, false
	}
	return t.messages[idx], true
}

// Messages returns a copy of the messages in display order.
func (t *Transcript) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.messages)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Reset removes every message. Ids handed out before the reset are never reused, so late updates from a
// previous session are dropped by Reconcile.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.messages = nil
	t.index = make(map[string]int)
	t.mu.Unlock()

	t.notify()
}

// Subscribe registers l to be called after every change and returns a function that removes it.
func (t *Transcript) Subscribe(l Listener) func() {
	t.mu.Lock()
	id := t.nextListen
	t.nextListen++
	t.listeners[id] = l
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Transcript) notify() {
	t.mu.RLock()
	if len(t.listeners) == 0 {
		t.mu.RUnlock()
		return
	}
	snapshot := slices.Clone(t.messages)
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.RUnlock()

	for _, l := range listeners {
		l(snapshot)
	}
}
