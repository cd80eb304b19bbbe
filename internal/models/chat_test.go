package models_test

import (
	"errors"
	"testing"

	"github.com/MegaGrindStone/streamchat/internal/models"
)

func TestChatRequestConversation(t *testing.T) {
	tests := []struct {
		name    string
		req     models.ChatRequest
		want    int
		wantErr error
	}{
		{
			name: "Single message",
			req:  models.ChatRequest{Message: "hi"},
			want: 1,
		},
		{
			name: "Message list wins",
			req: models.ChatRequest{
				Message: "ignored",
				Messages: []models.ChatMessage{
					{Role: models.RoleUser, Content: "a"},
					{Role: models.RoleAssistant, Content: "b"},
				},
			},
			want: 2,
		},
		{
			name:    "Empty request",
			req:     models.ChatRequest{},
			wantErr: models.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := tt.req.Conversation()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Conversation() error = %v, want %v", err, tt.wantErr)
			}
			if len(msgs) != tt.want {
				t.Errorf("Conversation() len = %d, want %d", len(msgs), tt.want)
			}
		})
	}
}

func TestReplyText(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{name: "Message field", body: `{"message":"hello"}`, want: "hello", wantOK: true},
		{name: "Reply field", body: `{"reply":"hey"}`, want: "hey", wantOK: true},
		{name: "Response field", body: `{"response":"yo"}`, want: "yo", wantOK: true},
		{name: "Content field", body: `{"role":"assistant","content":"echo"}`, want: "echo", wantOK: true},
		{name: "Preference order", body: `{"reply":"second","message":"first"}`, want: "first", wantOK: true},
		{name: "Empty message falls through", body: `{"message":"","reply":"r"}`, want: "r", wantOK: true},
		{name: "Non string ignored", body: `{"message":["a"]}`, wantOK: false},
		{name: "Invalid JSON", body: `not json`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := models.ReplyText([]byte(tt.body))
			if ok != tt.wantOK {
				t.Fatalf("ReplyText() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ReplyText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChatMessagesSkipsEmptyAndSystem(t *testing.T) {
	msgs := models.ChatMessages([]models.Message{
		{ID: "1", Role: models.RoleUser, Content: "hi"},
		{ID: "2", Role: models.RoleAssistant},
		{ID: "3", Role: models.RoleSystem, Content: "Sorry, the streamed reply failed."},
	})
	if len(msgs) != 1 {
		t.Fatalf("ChatMessages() len = %d, want 1", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("ChatMessages()[0] = %+v", msgs[0])
	}
}
