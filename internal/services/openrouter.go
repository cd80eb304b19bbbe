package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"

	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/MegaGrindStone/streamchat/internal/stream"
	"github.com/tidwall/gjson"
)

// OpenRouter provides an implementation of the LLM interface for OpenRouter's chat completions API. The
// upstream event stream is framed with the same parser the chat client uses.
type OpenRouter struct {
	apiKey       string
	endpoint     string
	model        string
	systemPrompt string

	client *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model    string              `json:"model"`
	Messages []openRouterMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"
)

// NewOpenRouter creates a new OpenRouter instance. An empty endpoint targets the public API.
func NewOpenRouter(apiKey, endpoint, model, systemPrompt string, logger *slog.Logger) OpenRouter {
	if endpoint == "" {
		endpoint = openRouterAPIEndpoint
	}
	return OpenRouter{
		apiKey:       apiKey,
		endpoint:     endpoint,
		model:        model,
		systemPrompt: systemPrompt,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "openrouter")),
	}
}

// Chat streams responses from the OpenRouter API for a given sequence of messages. The system prompt is
// sent as the first message. Stopping the iteration closes the upstream response.
func (o OpenRouter) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := o.doRequest(ctx, messages)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}

		reader := stream.NewReader(resp.Body)
		defer reader.Close()
		parser := stream.NewParser(stream.FramingSSE)

		for !parser.Done() {
			fragment, err := reader.Next(ctx)
			var frames []stream.Frame
			switch {
			case errors.Is(err, io.EOF):
				frames = parser.Flush()
			case err != nil:
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			default:
				frames = parser.Feed(fragment)
			}

			for _, f := range frames {
				if f.Done {
					return
				}
				o.logger.Debug("Received event", slog.String("event", f.Payload))

				if !gjson.Valid(f.Payload) {
					yield("", fmt.Errorf("error unmarshaling response: %q", f.Payload))
					return
				}
				res := gjson.Parse(f.Payload)
				if msg := res.Get("error.message"); msg.Exists() {
					yield("", fmt.Errorf("openrouter error: %s", msg.String()))
					return
				}
				delta := res.Get("choices.0.delta.content").String()
				if delta == "" {
					continue
				}
				if !yield(delta, nil) {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
}

func (o OpenRouter) doRequest(ctx context.Context, messages []models.ChatMessage) (*http.Response, error) {
	msgs := make([]openRouterMessage, 0, len(messages)+1)
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		msgs = append(msgs, openRouterMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if o.systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, openRouterMessage{
			Role:    string(models.RoleSystem),
			Content: o.systemPrompt,
		})
	}

	jsonBody, err := json.Marshal(openRouterChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	o.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.endpoint+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/streamchat/")
	req.Header.Set("X-Title", "streamchat")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
