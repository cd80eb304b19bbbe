package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/MegaGrindStone/streamchat/internal/notify"
	"github.com/MegaGrindStone/streamchat/internal/stream"
	"github.com/MegaGrindStone/streamchat/internal/transcript"
	"github.com/tmaxmax/go-sse"
)

type mockLLM struct {
	responses []string
	err       error

	got []models.ChatMessage
}

func (m *mockLLM) Chat(_ context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	m.got = messages
	return func(yield func(string, error) bool) {
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func newMain(t *testing.T, llm handlers.LLM) (handlers.Main, *notify.Store) {
	t.Helper()
	notices := notify.NewStore()
	t.Cleanup(notices.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return handlers.NewMain(llm, notices, logger), notices
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestNewMain(t *testing.T) {
	main, _ := newMain(t, &mockLLM{})

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleStatus(t *testing.T) {
	main, _ := newMain(t, &mockLLM{})

	tests := []struct {
		name       string
		method     string
		wantStatus int
	}{
		{name: "Get", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "Invalid method", method: http.MethodPost, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api", nil)
			w := httptest.NewRecorder()

			main.HandleStatus(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleStatus() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleTest(t *testing.T) {
	main, _ := newMain(t, &mockLLM{})

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty request",
			method:     http.MethodPost,
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid request format",
		},
		{
			name:       "Malformed JSON",
			method:     http.MethodPost,
			body:       `{"message":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid request format",
		},
		{
			name:       "Single message",
			method:     http.MethodPost,
			body:       `{"message":"Hello"}`,
			wantStatus: http.StatusOK,
			wantBody:   "You said: 'Hello'",
		},
		{
			name:       "Message list",
			method:     http.MethodPost,
			body:       `{"messages":[{"role":"user","content":"first"},{"role":"user","content":"last"}]}`,
			wantStatus: http.StatusOK,
			wantBody:   "You said: 'last'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/agent/test", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			main.HandleTest(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleTest() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleTest() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleChat(t *testing.T) {
	tests := []struct {
		name       string
		llm        *mockLLM
		wantStatus int
		wantReply  string
	}{
		{
			name:       "Success",
			llm:        &mockLLM{responses: []string{"AI ", "response"}},
			wantStatus: http.StatusOK,
			wantReply:  "AI response",
		},
		{
			name:       "LLM failure",
			llm:        &mockLLM{err: errors.New("upstream down")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, notices := newMain(t, tt.llm)
			req := httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader(`{"message":"hi"}`))
			w := httptest.NewRecorder()

			main.HandleChat(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("HandleChat() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if len(notices.Notices()) != 1 {
					t.Errorf("notices = %+v, want one error notice", notices.Notices())
				}
				return
			}
			reply, ok := models.ReplyText(w.Body.Bytes())
			if !ok || reply != tt.wantReply {
				t.Errorf("HandleChat() reply = %q, want %q", reply, tt.wantReply)
			}
		})
	}
}

func TestHandleStreamEndToEnd(t *testing.T) {
	llm := &mockLLM{responses: []string{"Hello", " wörld", "\nline two"}}
	main, _ := newMain(t, llm)
	srv := httptest.NewServer(main.Routes())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/agent/stream", `{"messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	tr := transcript.New()
	placeholder := tr.Append(models.RoleAssistant, "")
	s := stream.NewSession(placeholder.ID, resp.Body, stream.FramingSSE, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := s.Run(context.Background(), tr)

	if out.Status != stream.StatusCompleted {
		t.Fatalf("outcome = %+v, want completed", out)
	}
	want := "Hello wörld\nline two"
	if got, _ := tr.Get(placeholder.ID); got.Content != want {
		t.Errorf("placeholder content = %q, want %q", got.Content, want)
	}
	if len(llm.got) != 1 || llm.got[0].Content != "hi" {
		t.Errorf("llm received %+v", llm.got)
	}
}

func TestHandleStreamWireFormat(t *testing.T) {
	main, _ := newMain(t, &mockLLM{responses: []string{"a", "b"}})
	srv := httptest.NewServer(main.Routes())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/agent/stream", `{"message":"hi"}`)
	defer resp.Body.Close()

	var payloads []string
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			t.Fatalf("sse.Read() error = %v", err)
		}
		payloads = append(payloads, ev.Data)
	}

	want := []string{`{"content":"a"}`, `{"content":"b"}`, stream.DoneSentinel}
	if strings.Join(payloads, "|") != strings.Join(want, "|") {
		t.Errorf("payloads = %q, want %q", payloads, want)
	}
}

func TestHandleStreamAbortsOnLLMError(t *testing.T) {
	main, notices := newMain(t, &mockLLM{responses: []string{"partial"}, err: errors.New("upstream reset")})
	srv := httptest.NewServer(main.Routes())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/agent/stream", `{"message":"hi"}`)

	tr := transcript.New()
	placeholder := tr.Append(models.RoleAssistant, "")
	s := stream.NewSession(placeholder.ID, resp.Body, stream.FramingSSE, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := s.Run(context.Background(), tr)

	if out.Status != stream.StatusFailed {
		t.Fatalf("outcome = %+v, want failed", out)
	}
	var terr *stream.TransportError
	if !errors.As(out.Err, &terr) {
		t.Errorf("Err = %v, want *TransportError", out.Err)
	}
	if out.Content != "partial" {
		t.Errorf("Content = %q, want partial", out.Content)
	}
	if len(notices.Notices()) != 1 {
		t.Errorf("notices = %+v, want one error notice", notices.Notices())
	}
}

func TestHandleTextStream(t *testing.T) {
	main, _ := newMain(t, &mockLLM{responses: []string{"plain ", "text\n", "stream"}})
	srv := httptest.NewServer(main.Routes())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/agent/text-stream", `{"message":"hi"}`)
	s := stream.NewSession("m", resp.Body, stream.FramingText, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var last string
	for content, err := range s.Updates(context.Background()) {
		if err != nil {
			t.Fatalf("Updates() error = %v", err)
		}
		last = content
	}
	if last != "plain text\nstream" {
		t.Errorf("content = %q, want %q", last, "plain text\nstream")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRequestLogRoute(t *testing.T) {
	var logs lockedBuffer
	notices := notify.NewStore()
	t.Cleanup(notices.Close)
	main := handlers.NewMain(&mockLLM{}, notices, slog.New(slog.NewTextHandler(&logs, nil)))
	srv := httptest.NewServer(main.Routes())
	defer srv.Close()

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "Registered route", path: "/api", want: "route=/api "},
		{name: "Unknown path", path: "/api/agent/3f2b1c4e-9a7d-4e5f-8b6a-1c2d3e4f5a6b", want: "route=unmatched "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			deadline := time.Now().Add(2 * time.Second)
			for !strings.Contains(logs.String(), tt.want) {
				if time.Now().After(deadline) {
					t.Fatalf("logs = %q, want to contain %q", logs.String(), tt.want)
				}
				time.Sleep(10 * time.Millisecond)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	main, _ := newMain(t, &mockLLM{})
	srv := httptest.NewServer(main.Routes())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/agent/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestNoticesAreBroadcast(t *testing.T) {
	main, notices := newMain(t, &mockLLM{})
	srv := httptest.NewServer(main.Routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The feed only carries notices raised after the client subscribed, so keep raising until one lands.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				notices.Push(notify.VariantWarning, "upstream slow", 0)
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/notices", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			t.Fatalf("sse.Read() error = %v", err)
		}
		if ev.Type != "notices" {
			continue
		}
		var got []notify.Notice
		if err := json.Unmarshal([]byte(ev.Data), &got); err != nil {
			t.Fatalf("decode notices: %v", err)
		}
		if len(got) == 0 || got[0].Message != "upstream slow" || got[0].Variant != notify.VariantWarning {
			t.Errorf("notices = %+v", got)
		}
		return
	}
	t.Fatal("notice feed ended without a notices event")
}
