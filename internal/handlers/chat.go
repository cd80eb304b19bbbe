package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/MegaGrindStone/streamchat/internal/stream"
	"github.com/tmaxmax/go-sse"
)

const maxRequestBody = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type testResponse struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

type chatResponse struct {
	Message string `json:"message"`
}

// HandleTest answers a chat request without calling the model, echoing the last message back. It is used
// to check the client pipeline end to end.
func (m Main) HandleTest(w http.ResponseWriter, r *http.Request) {
	msgs, ok := m.decodeChatRequest(w, r)
	if !ok {
		return
	}

	m.writeJSON(w, http.StatusOK, testResponse{
		Role:    models.RoleAssistant,
		Content: m.echo.Reply(msgs[len(msgs)-1].Content),
	})
}

// HandleChat runs a full, non-streaming completion and answers with {"message": ...}.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	msgs, ok := m.decodeChatRequest(w, r)
	if !ok {
		return
	}

	var sb strings.Builder
	for delta, err := range m.llm.Chat(r.Context(), msgs) {
		if err != nil {
			m.logger.Error("Chat request failed", slog.String(errLoggerKey, err.Error()))
			m.notices.Error("Chat request failed")
			m.writeError(w, http.StatusInternalServerError, "chat request failed", err)
			return
		}
		sb.WriteString(delta)
	}

	m.writeJSON(w, http.StatusOK, chatResponse{Message: sb.String()})
}

// HandleStream streams the completion as server-sent events. Every delta is sent as a data line holding
// {"content": delta}; the stream ends with a [DONE] payload. When the model fails mid-stream the
// connection is aborted so that the client sees a transport failure rather than a clean end.
func (m Main) HandleStream(w http.ResponseWriter, r *http.Request) {
	msgs, ok := m.decodeChatRequest(w, r)
	if !ok {
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error("Failed to upgrade to SSE", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusInternalServerError, "streaming unsupported", err)
		return
	}

	logger := m.logger.With(slog.String("endpoint", "stream"))
	for delta, err := range m.llm.Chat(r.Context(), msgs) {
		if err != nil {
			m.abortStream(logger, err)
		}

		data, err := json.Marshal(models.Delta{Content: delta})
		if err != nil {
			m.abortStream(logger, err)
		}
		msg := &sse.Message{}
		msg.AppendData(string(data))
		if err := sendSSE(sess, msg); err != nil {
			logger.Debug("Client went away", slog.String(errLoggerKey, err.Error()))
			return
		}
	}

	done := &sse.Message{}
	done.AppendData(stream.DoneSentinel)
	if err := sendSSE(sess, done); err != nil {
		logger.Debug("Failed to send termination sentinel", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleTextStream streams the completion as plain text, flushing every delta as it arrives.
func (m Main) HandleTextStream(w http.ResponseWriter, r *http.Request) {
	msgs, ok := m.decodeChatRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	rc := http.NewResponseController(w)

	logger := m.logger.With(slog.String("endpoint", "text-stream"))
	for delta, err := range m.llm.Chat(r.Context(), msgs) {
		if err != nil {
			m.abortStream(logger, err)
		}
		if _, err := io.WriteString(w, delta); err != nil {
			logger.Debug("Client went away", slog.String(errLoggerKey, err.Error()))
			return
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("Failed to flush", slog.String(errLoggerKey, err.Error()))
			return
		}
	}
}

func sendSSE(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

// abortStream ends a response whose headers are already sent. Panicking with http.ErrAbortHandler makes
// the server drop the connection without logging a stack trace.
func (m Main) abortStream(logger *slog.Logger, err error) {
	logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
	m.notices.Error("Streaming reply failed")
	panic(http.ErrAbortHandler)
}

func (m Main) decodeChatRequest(w http.ResponseWriter, r *http.Request) ([]models.ChatMessage, bool) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		m.logger.Error("Failed to decode request", slog.String(errLoggerKey, err.Error()))
		m.writeError(w, http.StatusBadRequest, "Invalid request format", err)
		return nil, false
	}

	msgs, err := req.Conversation()
	if err != nil {
		if errors.Is(err, models.ErrInvalidRequest) {
			m.writeError(w, http.StatusBadRequest, "Invalid request format", nil)
			return nil, false
		}
		m.writeError(w, http.StatusInternalServerError, "chat request failed", err)
		return nil, false
	}
	return msgs, true
}

func (m Main) writeError(w http.ResponseWriter, status int, title string, err error) {
	res := errorResponse{Error: title}
	if err != nil {
		res.Details = err.Error()
	}
	m.writeJSON(w, status, res)
}

// writeJSON encodes v as JSON and writes it with the given status code. The status is already sent when
// encoding fails, so the failure is only logged.
func (m Main) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}
