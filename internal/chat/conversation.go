// Package chat drives a conversation against the chat API. A Conversation appends the user's message to
// its transcript, requests a reply, and either streams the reply into a placeholder message or appends it
// whole. Failures leave a system message in the transcript and raise an error notice.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/MegaGrindStone/streamchat/internal/notify"
	"github.com/MegaGrindStone/streamchat/internal/scroll"
	"github.com/MegaGrindStone/streamchat/internal/stream"
	"github.com/MegaGrindStone/streamchat/internal/transcript"
)

// Default endpoints, relative to the base URL.
const (
	DefaultStreamPath = "/api/agent/stream"
	DefaultReplyPath  = "/api/agent/test"
)

// Fallback texts appended as a system message when a reply fails.
const (
	StreamFailureText = "Sorry, the streamed reply failed. Please try again later."
	ReplyFailureText  = "Sorry, no reply could be fetched. Please try again later."
)

const (
	errLoggerKey = "err"

	maxErrorBody = 4 << 10
	maxReplyBody = 1 << 20
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrBusy is returned by Send while a previous reply is still in progress.
	ErrBusy = errors.New("chat: a reply is already in progress")
)

// Conversation is the client side of a chat. Only one reply can be in progress at a time.
type Conversation struct {
	baseURL    string
	streamPath string
	replyPath  string
	streaming  bool
	framing    stream.Framing

	client     *http.Client
	transcript *transcript.Transcript
	scroll     *scroll.Policy
	notices    *notify.Store
	scroller   scroll.Scroller

	busy atomic.Bool

	logger *slog.Logger
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Conversation) {
		c.client = client
	}
}

// WithStreaming switches between streamed replies and whole replies. Streaming is on by default.
func WithStreaming(on bool) Option {
	return func(c *Conversation) {
		c.streaming = on
	}
}

// WithFraming sets how the streamed body is cut into frames. The default is FramingSSE.
func WithFraming(f stream.Framing) Option {
	return func(c *Conversation) {
		c.framing = f
	}
}

// WithStreamPath overrides the path of the streaming endpoint.
func WithStreamPath(path string) Option {
	return func(c *Conversation) {
		c.streamPath = path
	}
}

// WithReplyPath overrides the path of the whole-reply endpoint.
func WithReplyPath(path string) Option {
	return func(c *Conversation) {
		c.replyPath = path
	}
}

// WithScroller sets the view the scroll policy drives.
func WithScroller(s scroll.Scroller) Option {
	return func(c *Conversation) {
		c.scroller = s
	}
}

// WithNotices shares a notice store with the conversation.
func WithNotices(s *notify.Store) Option {
	return func(c *Conversation) {
		c.notices = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		c.logger = logger
	}
}

// New creates a conversation talking to the API at baseURL.
func New(baseURL string, opts ...Option) *Conversation {
	c := &Conversation{
		baseURL:    strings.TrimRight(baseURL, "/"),
		streamPath: DefaultStreamPath,
		replyPath:  DefaultReplyPath,
		streaming:  true,
		framing:    stream.FramingSSE,
		client:     http.DefaultClient,
		transcript: transcript.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notices == nil {
		c.notices = notify.NewStore()
	}
	c.scroll = scroll.NewPolicy(c.scroller)
	c.logger = c.logger.With(slog.String("module", "chat"))
	return c
}

// Transcript returns the conversation's transcript.
func (c *Conversation) Transcript() *transcript.Transcript {
	return c.transcript
}

// Scroll returns the scroll policy following the transcript.
func (c *Conversation) Scroll() *scroll.Policy {
	return c.scroll
}

// Notices returns the store receiving error notices.
func (c *Conversation) Notices() *notify.Store {
	return c.notices
}

// Busy reports whether a reply is in progress.
func (c *Conversation) Busy() bool {
	return c.busy.Load()
}

// Send appends text as a user message and fetches the reply. It returns the message holding the reply, or
// the appended system message together with the error when the reply failed. Partial streamed content
// stays in its placeholder.
func (c *Conversation) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if !c.busy.CompareAndSwap(false, true) {
		return models.Message{}, ErrBusy
	}
	defer c.busy.Store(false)

	c.transcript.Append(models.RoleUser, text)
	c.scroll.ForcePin()
	c.scroll.OnContent()

	if c.streaming {
		return c.sendStreaming(ctx)
	}
	return c.sendWhole(ctx, text)
}

func (c *Conversation) sendStreaming(ctx context.Context) (models.Message, error) {
	history := models.ChatMessages(c.transcript.Messages())
	placeholder := c.transcript.Append(models.RoleAssistant, "")
	c.scroll.OnContent()

	body, err := c.post(ctx, c.streamPath, models.ChatRequest{Messages: history})
	if err != nil {
		return c.fail(StreamFailureText, err)
	}

	sess := stream.NewSession(placeholder.ID, body, c.framing, c.logger)
	for content, err := range sess.Updates(ctx) {
		if err != nil {
			break
		}
		if c.transcript.Reconcile(placeholder.ID, content) {
			c.scroll.OnContent()
		}
	}

	out := sess.Result()
	if out.Status != stream.StatusCompleted {
		return c.fail(StreamFailureText, out.Err)
	}
	msg, _ := c.transcript.Get(placeholder.ID)
	return msg, nil
}

func (c *Conversation) sendWhole(ctx context.Context, text string) (models.Message, error) {
	body, err := c.post(ctx, c.replyPath, models.ChatRequest{Message: text})
	if err != nil {
		return c.fail(ReplyFailureText, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxReplyBody))
	if err != nil {
		return c.fail(ReplyFailureText, &stream.TransportError{Err: err})
	}
	reply, ok := models.ReplyText(data)
	if !ok {
		return c.fail(ReplyFailureText, fmt.Errorf("reply carries no text: %s", preview(data)))
	}

	msg := c.transcript.Append(models.RoleAssistant, reply)
	c.scroll.OnContent()
	return msg, nil
}

// post sends req as JSON to path and returns the body of a successful response. Failures to reach the
// server and non-2xx answers are reported as *stream.TransportError.
func (c *Conversation) post(ctx context.Context, path string, req models.ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.streaming && c.framing == stream.FramingSSE {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &stream.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &stream.TransportError{
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, preview(data)),
		}
	}
	return resp.Body, nil
}

func (c *Conversation) fail(text string, err error) (models.Message, error) {
	c.logger.Error("Reply failed", slog.String(errLoggerKey, err.Error()))
	msg := c.transcript.Append(models.RoleSystem, text)
	c.scroll.OnContent()
	c.notices.Error(text)
	return msg, err
}

func preview(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
