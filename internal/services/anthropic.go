package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/tidwall/gjson"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the LLM interface and handles streaming chat completions using Claude models.
type Anthropic struct {
	apiKey       string
	endpoint     string
	model        string
	systemPrompt string
	maxTokens    int

	client *http.Client
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
	anthropicAPIVersion  = "2023-06-01"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, system prompt and
// maximum token limit. An empty endpoint targets the public API.
func NewAnthropic(apiKey, endpoint, model, systemPrompt string, maxTokens int) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:       apiKey,
		endpoint:     endpoint,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       &http.Client{},
	}
}

// extractSystemMessages moves system-role entries out of the conversation, since the API takes the system
// prompt as a separate field.
func extractSystemMessages(systemPrompt string, messages []models.ChatMessage) (string, []anthropicMessage) {
	system := systemPrompt
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		msgs = append(msgs, anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return system, msgs
}

// Chat streams responses from the Anthropic API for a given sequence of messages. It processes system
// messages separately and returns an iterator that yields response chunks and potential errors. The
// context can be used to cancel ongoing requests.
func (a Anthropic) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, msgs := extractSystemMessages(a.systemPrompt, messages)

		reqBody := anthropicChatRequest{
			Model:     a.model,
			Messages:  msgs,
			Stream:    true,
			System:    system,
			MaxTokens: a.maxTokens,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield("", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
			if !a.handleEvent(ev, yield) {
				return
			}
		}
	}
}

// handleEvent yields the text carried by one streamed event and reports whether the stream goes on.
// Event types other than deltas, errors and the final stop are skipped.
func (a Anthropic) handleEvent(ev sse.Event, yield func(string, error) bool) bool {
	switch ev.Type {
	case "error":
		if !gjson.Valid(ev.Data) {
			yield("", fmt.Errorf("error unmarshaling error: %q", ev.Data))
			return false
		}
		e := gjson.Parse(ev.Data)
		yield("", fmt.Errorf("anthropic error %s: %s", e.Get("error.type").String(), e.Get("error.message").String()))
		return false
	case "message_stop":
		return false
	case "content_block_delta":
		if !gjson.Valid(ev.Data) {
			yield("", fmt.Errorf("error unmarshaling response: %q", ev.Data))
			return false
		}
		text := gjson.Get(ev.Data, "delta.text").String()
		if text == "" {
			return true
		}
		return yield(text, nil)
	default:
		return true
	}
}
