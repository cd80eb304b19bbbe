package models

import "time"

// Message is a single transcript entry. Insertion order in a transcript is display order.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the model. Streamed replies start as an empty
	// assistant placeholder that is filled in as deltas arrive.
	RoleAssistant Role = "assistant"
	// RoleSystem represents a message produced by the application itself, such as error fallbacks.
	RoleSystem Role = "system"
	// RoleTool represents a tool result.
	RoleTool Role = "tool"
)

// TimestampLayout is the layout used for the display timestamp of messages.
const TimestampLayout = "15:04:05"

// DisplayTime formats t the way message timestamps are displayed.
func DisplayTime(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}
