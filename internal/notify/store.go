// Package notify provides a queue of short-lived user notifications. A Store is created once per
// application root and passed to whoever needs to raise or display notices.
package notify

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Variant is the kind of a notice.
type Variant string

const (
	VariantSuccess Variant = "success"
	VariantError   Variant = "error"
	VariantWarning Variant = "warning"
	VariantInfo    Variant = "info"
)

// Default display durations per variant.
const (
	SuccessDuration = 3000 * time.Millisecond
	ErrorDuration   = 4000 * time.Millisecond
	WarningDuration = 3500 * time.Millisecond
	InfoDuration    = 3000 * time.Millisecond
)

// Notice is a single notification.
type Notice struct {
	ID       string        `json:"id"`
	Message  string        `json:"message"`
	Variant  Variant       `json:"variant"`
	Duration time.Duration `json:"duration"`
}

// Listener receives a copy of the queue after every change.
type Listener func([]Notice)

// Store holds the pending notices and the listeners watching them. Notices are removed when their
// duration elapses or when Remove is called. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	seq       int
	queue     []Notice
	timers    map[string]*time.Timer
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		timers:    make(map[string]*time.Timer),
		listeners: make(map[int]Listener),
	}
}

// Success queues a success notice with the default duration and returns its id.
func (s *Store) Success(message string) string {
	return s.Push(VariantSuccess, message, SuccessDuration)
}

// Error queues an error notice with the default duration and returns its id.
func (s *Store) Error(message string) string {
	return s.Push(VariantError, message, ErrorDuration)
}

// Warning queues a warning notice with the default duration and returns its id.
func (s *Store) Warning(message string) string {
	return s.Push(VariantWarning, message, WarningDuration)
}

// Info queues an info notice with the default duration and returns its id.
func (s *Store) Info(message string) string {
	return s.Push(VariantInfo, message, InfoDuration)
}

// Push queues a notice that expires after d. A non-positive d keeps the notice until it is removed.
func (s *Store) Push(v Variant, message string, d time.Duration) string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	s.seq++
	n := Notice{
		ID:       fmt.Sprintf("toast-%d", s.seq),
		Message:  message,
		Variant:  v,
		Duration: d,
	}
	s.queue = append(s.queue, n)
	if d > 0 {
		s.timers[n.ID] = time.AfterFunc(d, func() { s.Remove(n.ID) })
	}
	s.mu.Unlock()

	s.notify()
	return n.ID
}

// Remove drops the notice with the given id. Unknown ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	idx := slices.IndexFunc(s.queue, func(n Notice) bool { return n.ID == id })
	if idx == -1 {
		s.mu.Unlock()
		return
	}
	s.queue = slices.Delete(s.queue, idx, idx+1)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.notify()
}

// Notices returns a copy of the pending notices in the order they were raised.
func (s *Store) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue)
}

// Subscribe registers l and returns a function that unregisters it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close stops every pending expiry timer and rejects further notices.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	snapshot := slices.Clone(s.queue)
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}
