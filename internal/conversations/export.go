package conversations

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExportJSON serializes a conversation in its on-disk format.
func ExportJSON(conv *Conversation) ([]byte, error) {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export conversation: %w", err)
	}
	return data, nil
}

// ExportMarkdown renders a conversation as a readable markdown transcript.
// System messages are omitted from the transcript body.
func ExportMarkdown(conv *Conversation, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Name)

	if conv.SystemPrompt != "" {
		fmt.Fprintf(&b, "## System Prompt\n\n%s\n\n", conv.SystemPrompt)
	}

	b.WriteString("## Conversation\n\n")
	for _, msg := range conv.Messages {
		if msg.Role == "system" {
			continue
		}
		role := "**Assistant:**"
		if msg.Role == "user" {
			role = "**User:**"
		}
		fmt.Fprintf(&b, "%s\n\n%s\n\n", role, msg.Content)
	}

	b.WriteString("---\n")
	fmt.Fprintf(&b, "*Exported from Skein on %s*\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "*Model: %s*", conv.Model)
	return b.String()
}

// Import parses an exported conversation. Both the native format and a
// generic {messages: [{role, content}]} chat export are accepted; imported
// conversations always get a fresh id.
func Import(data []byte, defaultModel string, now time.Time) (*Conversation, error) {
	var native Conversation
	if err := json.Unmarshal(data, &native); err == nil && native.ID != "" && native.Messages != nil {
		native.ID = NewID()
		return &native, nil
	}

	var generic struct {
		Name         string `json:"name"`
		Title        string `json:"title"`
		Model        string `json:"model"`
		SystemPrompt string `json:"system_prompt"`
		Messages     []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse conversation import: %w", err)
	}

	name := generic.Name
	if name == "" {
		name = generic.Title
	}
	if name == "" {
		name = "Imported Chat"
	}
	model := generic.Model
	if model == "" {
		model = defaultModel
	}

	messages := make([]Message, 0, len(generic.Messages))
	for _, m := range generic.Messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, Message{
			ID:        NewID(),
			Role:      role,
			Content:   m.Content,
			CreatedAt: now,
		})
	}

	return &Conversation{
		ID:           NewID(),
		Name:         name,
		SystemPrompt: generic.SystemPrompt,
		Model:        model,
		Messages:     messages,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
