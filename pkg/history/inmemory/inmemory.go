// Package inmemory provides a map-backed history.Store.
package inmemory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/papercomputeco/chatrelay/pkg/history"
)

// Store implements history.Store using an in-memory map.
type Store struct {
	mu    sync.RWMutex
	chats map[string]*history.Chat
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		chats: make(map[string]*history.Chat),
	}
}

// Save stores a copy of chat, replacing any chat with the same id.
func (s *Store) Save(_ context.Context, chat *history.Chat) error {
	if chat == nil {
		return errors.New("cannot store nil chat")
	}
	if chat.ID == "" {
		return errors.New("cannot store chat without an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats[chat.ID] = clone(chat)
	return nil
}

// Get retrieves a copy of the chat with the given id.
func (s *Store) Get(_ context.Context, id string) (*history.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, history.NotFoundError{ID: id}
	}
	return clone(chat), nil
}

// List returns summaries, most recently updated first.
func (s *Store) List(_ context.Context) ([]history.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]history.Summary, 0, len(s.chats))
	for _, chat := range s.chats {
		result = append(result, chat.Summary())
	}

	slices.SortFunc(result, func(a, b history.Summary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return result, nil
}

// Delete removes the chat with the given id.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chats, id)
	return nil
}

// Clear removes every chat.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = make(map[string]*history.Chat)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func clone(c *history.Chat) *history.Chat {
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return &out
}
