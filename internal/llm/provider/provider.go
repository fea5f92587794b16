// Package provider defines the completion provider boundary and its
// implementations.
package provider

import (
	"context"
	"errors"
)

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("provider returned no completion")

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The message content
}

// Completion turns a prompt plus prior messages into assistant text.
type Completion interface {
	// Complete sends history followed by prompt as a user message.
	Complete(ctx context.Context, prompt string, history []Message) (string, error)

	// Name returns the provider name (e.g., "openai", "mock")
	Name() string
}
