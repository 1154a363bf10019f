// Package history persists chat conversations on the client side.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/utils"
)

// titleMaxRunes bounds a derived chat title.
const titleMaxRunes = 40

// DefaultTitle is used for chats without a user message.
const DefaultTitle = "New Chat"

// Message is a stored chat message.
type Message struct {
	ID      string    `json:"id"`
	Role    llm.Role  `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"timestamp"`
}

// Chat is a stored conversation.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// Summary is the listing view of a Chat.
type Summary struct {
	ID           string
	Title        string
	UpdatedAt    time.Time
	MessageCount int
}

// Summary returns the listing view of c.
func (c *Chat) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// NewChat returns an empty chat with a fresh id.
func NewChat() *Chat {
	now := time.Now().UTC()
	return &Chat{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMessage returns a message with a fresh id stamped now.
func NewMessage(role llm.Role, content string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		Time:    time.Now().UTC(),
	}
}

// TitleFor derives a chat title from the first user message, truncated to 40
// characters with an ellipsis.
func TitleFor(messages []Message) string {
	for _, m := range messages {
		if m.Role != llm.RoleUser {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		return utils.Truncate(content, titleMaxRunes)
	}
	return DefaultTitle
}

// Store persists chats.
type Store interface {
	// Save inserts or replaces a chat.
	Save(ctx context.Context, chat *Chat) error

	// Get retrieves a chat by id. A missing or unreadable chat is a NotFoundError.
	Get(ctx context.Context, id string) (*Chat, error)

	// List returns chat summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes a chat. Deleting a missing chat is not an error.
	Delete(ctx context.Context, id string) error

	// Clear removes every chat.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
