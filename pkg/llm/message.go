// Package llm holds the provider-agnostic chat data model shared by the relay,
// its upstream adapters, and the client consumer.
package llm

import (
	"errors"
	"fmt"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body accepted by the relay's chat endpoints.
// Messages are ordered oldest first and sent in full on every turn.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

var (
	// ErrNoMessages is returned when a request carries no messages.
	ErrNoMessages = errors.New("messages array is required")

	// ErrNoUserMessage is returned when no message in the request has the user role.
	ErrNoUserMessage = errors.New("no user message found")
)

// Validate checks the request shape: at least one message, only known roles,
// and at least one user message.
func (r *ChatRequest) Validate() error {
	if r == nil || len(r.Messages) == 0 {
		return ErrNoMessages
	}

	hasUser := false
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
		if m.Role == RoleUser {
			hasUser = true
		}
	}

	if !hasUser {
		return ErrNoUserMessage
	}
	return nil
}

// ValidateContent additionally requires every message to carry non-empty content.
func (r *ChatRequest) ValidateContent() error {
	if err := r.Validate(); err != nil {
		return err
	}
	for i, m := range r.Messages {
		if m.Content == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
	}
	return nil
}

// LastUserMessage returns the most recent user message.
func (r *ChatRequest) LastUserMessage() (ChatMessage, bool) {
	if r == nil {
		return ChatMessage{}, false
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i], true
		}
	}
	return ChatMessage{}, false
}
