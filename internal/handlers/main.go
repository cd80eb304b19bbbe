package handlers

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/MegaGrindStone/streamchat/internal/notify"
	"github.com/MegaGrindStone/streamchat/internal/services"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a large language model interface that provides chat functionality. It accepts a context
// and a sequence of messages, returning an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error]
}

// Main serves the chat API: the streaming endpoints consumed by the chat client, the non-streaming
// endpoints, and a server-sent event feed of server notices.
type Main struct {
	sseSrv *sse.Server

	llm     LLM
	echo    services.Echo
	notices *notify.Store

	unsubscribe func()

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	noticesSSETopic = "notices"
)

// SSE event types for the notice feed.
var (
	noticesSSEType = sse.Type("notices")
	closeSSEType   = sse.Type("close")
)

// NewMain creates a new Main instance backed by llm. Notices raised on the store are broadcast to every
// client connected to the notice feed.
func NewMain(llm LLM, notices *notify.Store, logger *slog.Logger) Main {
	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, noticesSSETopic},
				}, true
			},
		},
		llm:     llm,
		echo:    services.NewEcho(0),
		notices: notices,
		logger:  logger.With(slog.String("module", "main")),
	}
	m.unsubscribe = notices.Subscribe(m.publishNotices)
	return m
}

// Routes returns the HTTP handler serving every endpoint, wrapped with CORS and request logging.
func (m Main) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", m.HandleStatus)
	mux.HandleFunc("/api/agent/test", m.HandleTest)
	mux.HandleFunc("/api/agent/chat", m.HandleChat)
	mux.HandleFunc("/api/agent/stream", m.HandleStream)
	mux.HandleFunc("/api/agent/text-stream", m.HandleTextStream)
	mux.Handle("/sse/notices", m.sseSrv)

	return withCORS(withRequestLogging(mux, m.logger))
}

func (m Main) publishNotices(notices []notify.Notice) {
	data, err := json.Marshal(notices)
	if err != nil {
		m.logger.Error("Failed to marshal notices", slog.String(errLoggerKey, err.Error()))
		return
	}
	msg := sse.Message{Type: noticesSSEType}
	msg.AppendData(string(data))
	if err := m.sseSrv.Publish(&msg, noticesSSETopic); err != nil {
		m.logger.Error("Failed to publish notices", slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the notice feed. It broadcasts a close message to all connected clients
// and waits up to 5 seconds for connections to terminate. After the timeout, any remaining connections
// are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	e := &sse.Message{Type: closeSSEType}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
