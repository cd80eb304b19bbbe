package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status is the terminal outcome of a session.
type Status int

const (
	// StatusPending means the session has not reached a terminal state yet.
	StatusPending Status = iota
	// StatusCompleted means the stream ended normally and the accumulated text is final.
	StatusCompleted
	// StatusFailed means the stream ended with an error. The accumulated text up to the failure is kept.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

var (
	// ErrStopped is the failure reported when the consumer abandons a session before it ends.
	ErrStopped = errors.New("stream: session stopped by consumer")
	// ErrAlreadyStarted is returned when a session is read a second time.
	ErrAlreadyStarted = errors.New("stream: session already started")
)

const errLoggerKey = "err"

// Outcome is the result of a session.
type Outcome struct {
	Status  Status
	Content string
	Err     error
}

// Reconciler applies the accumulated value of a session to the message it fills.
type Reconciler interface {
	Reconcile(id, content string) bool
}

// Session is one request/response streaming cycle. It exclusively owns the transport reader, the frame
// parser and the accumulator, and refers to the message it fills only by id.
type Session struct {
	id       string
	targetID string

	reader *Reader
	parser Parser
	acc    Accumulator

	started atomic.Bool

	mu      sync.Mutex
	outcome Outcome

	logger *slog.Logger
}

// NewSession creates a session that fills the message identified by targetID from body, cut into frames
// with the given framing.
func NewSession(targetID string, body io.ReadCloser, framing Framing, logger *slog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		targetID: targetID,
		reader:   NewReader(body),
		parser:   NewParser(framing),
		logger: logger.With(
			slog.String("module", "stream"),
			slog.String("session", id),
			slog.String("framing", framing.String()),
		),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// TargetID returns the id of the message the session fills.
func (s *Session) TargetID() string {
	return s.targetID
}

// Updates returns the sequence of accumulated values, one per non-empty delta, in the order frames were
// parsed. The sequence ends after the termination sentinel, at end of stream, or with a single error
// when the transport fails. Breaking out of the loop stops the session. The transport is released on
// every exit path. A session can be iterated only once.
func (s *Session) Updates(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.started.CompareAndSwap(false, true) {
			yield("", ErrAlreadyStarted)
			return
		}
		defer func() {
			if err := s.reader.Close(); err != nil {
				s.logger.Debug("Failed to close transport", slog.String(errLoggerKey, err.Error()))
			}
		}()

		for {
			fragment, err := s.reader.Next(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.finish(err)
					yield("", err)
					return
				}
				for _, f := range s.parser.Flush() {
					if !s.apply(f, yield) {
						s.finish(ErrStopped)
						return
					}
				}
				s.finish(nil)
				return
			}

			for _, f := range s.parser.Feed(fragment) {
				if !s.apply(f, yield) {
					s.finish(ErrStopped)
					return
				}
			}
			if s.parser.Done() {
				s.logger.Debug("Termination sentinel received")
				s.finish(nil)
				return
			}
		}
	}
}

// Run drives the session to its end, reconciling every update into rec, and returns the outcome.
func (s *Session) Run(ctx context.Context, rec Reconciler) Outcome {
	for content, err := range s.Updates(ctx) {
		if err != nil {
			break
		}
		rec.Reconcile(s.targetID, content)
	}
	return s.Result()
}

// Result returns the current outcome. Before the session ends its status is StatusPending and Content
// holds the text accumulated so far.
func (s *Session) Result() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome.Status == StatusPending {
		return Outcome{Status: StatusPending, Content: s.acc.String()}
	}
	return s.outcome
}

func (s *Session) apply(f Frame, yield func(string, error) bool) bool {
	if f.Done {
		return true
	}
	delta, err := FrameDelta(f)
	if err != nil {
		s.logger.Debug("Frame payload is not structured, using raw text",
			slog.String("payload", preview(f.Payload, 200)),
			slog.String(errLoggerKey, err.Error()))
	}
	if delta == "" {
		return true
	}

	s.mu.Lock()
	content := s.acc.Append(delta)
	s.mu.Unlock()

	return yield(content, nil)
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcome = Outcome{Status: StatusCompleted, Content: s.acc.String()}
	if err != nil {
		s.outcome.Status = StatusFailed
		s.outcome.Err = err
		s.logger.Debug("Session failed",
			slog.Int("length", s.acc.Len()),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	s.logger.Debug("Session completed", slog.Int("length", s.acc.Len()))
}

func preview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
