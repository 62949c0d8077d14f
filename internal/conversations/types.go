// Package conversations persists chat conversations as JSON files, one per
// conversation.
package conversations

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a short unique identifier for conversations and messages.
func NewID() string {
	return uuid.NewString()[:8]
}

// Message is one turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // system | user | assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	// Model records which model produced an assistant message.
	Model string `json:"model,omitempty"`
}

// Conversation is a full chat thread.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary is the list-view projection of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	// Preview is the first user message, truncated.
	Preview string `json:"preview,omitempty"`
}

const previewLen = 100

// preview extracts the first user message, truncated to previewLen runes.
func preview(messages []Message) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > previewLen {
			return string(runes[:previewLen]) + "..."
		}
		return m.Content
	}
	return ""
}
