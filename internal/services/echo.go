package services

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/MegaGrindStone/streamchat/internal/models"
)

// Echo is an offline LLM that answers by repeating the last message, streamed word by word. It is the
// default provider and backs the test endpoint.
type Echo struct {
	delay time.Duration
}

// NewEcho creates an Echo that pauses delay between words.
func NewEcho(delay time.Duration) Echo {
	return Echo{delay: delay}
}

// Reply returns the full echo reply for content.
func (Echo) Reply(content string) string {
	return fmt.Sprintf("I am a streamchat agent. You said: '%s'", content)
}

// Chat streams the echo reply for the last message of the conversation.
func (e Echo) Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(messages) == 0 {
			yield("", fmt.Errorf("no messages to reply to"))
			return
		}
		reply := e.Reply(messages[len(messages)-1].Content)

		for _, word := range strings.SplitAfter(reply, " ") {
			if e.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.delay):
				}
			} else if ctx.Err() != nil {
				return
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}
