package models

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ChatRequest is the JSON body accepted by the chat endpoints. Clients send either a single Message or
// the whole conversation in Messages; when both are present Messages wins.
type ChatRequest struct {
	Message  string        `json:"message,omitempty"`
	Messages []ChatMessage `json:"messages,omitempty"`
}

// ChatMessage is the wire form of a conversation entry sent to the server.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Delta is the structured payload carried by a single streamed frame. Any additional fields sent by
// the producer are ignored.
type Delta struct {
	Content string `json:"content"`
}

// ErrInvalidRequest is returned when a ChatRequest carries neither a message nor a message list.
var ErrInvalidRequest = errors.New("invalid request format")

// replyFields lists, in order of preference, the response fields accepted as the assistant reply of a
// non-streaming request.
var replyFields = []string{"message", "reply", "response", "content"}

// Conversation normalises the request into a message list. A single Message becomes a one-entry user
// conversation.
func (r ChatRequest) Conversation() ([]ChatMessage, error) {
	if len(r.Messages) > 0 {
		return r.Messages, nil
	}
	if r.Message != "" {
		return []ChatMessage{{Role: RoleUser, Content: r.Message}}, nil
	}
	return nil, ErrInvalidRequest
}

// LastContent returns the content of the last message of the request.
func (r ChatRequest) LastContent() (string, error) {
	msgs, err := r.Conversation()
	if err != nil {
		return "", err
	}
	return msgs[len(msgs)-1].Content, nil
}

// ChatMessages converts transcript messages into their wire form. Empty entries such as a placeholder
// that has not received any content yet are skipped, and so are system messages: those are notes the
// client shows the user, never part of what the model is asked.
func ChatMessages(messages []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" || m.Role == RoleSystem {
			continue
		}
		out = append(out, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// ReplyText extracts the assistant reply from a non-streaming JSON response body. It is the single place
// that knows which field names upstreams use for the reply; the first non-empty string field wins.
func ReplyText(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	results := gjson.GetManyBytes(body, replyFields...)
	for _, res := range results {
		if res.Type == gjson.String && res.Str != "" {
			return res.Str, true
		}
	}
	return "", false
}
