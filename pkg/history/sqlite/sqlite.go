// Package sqlite provides a SQLite-backed history.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/history"
	"github.com/papercomputeco/chatrelay/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	messages   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chats_updated_at ON chats (updated_at DESC);
`

// Store implements history.Store on a single SQLite table. Messages are kept
// as a JSON column.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report discarded rows.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore opens or creates the database at dbPath.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	// Open the database using the github.com/mattn/go-sqlite3 driver (registered as "sqlite3")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger)

	return s, nil
}

// Save inserts or replaces a chat.
func (s *Store) Save(ctx context.Context, chat *history.Chat) error {
	if chat == nil {
		return errors.New("cannot store nil chat")
	}
	if chat.ID == "" {
		return errors.New("cannot store chat without an id")
	}

	messages, err := json.Marshal(chat.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at, messages)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			messages = excluded.messages`,
		chat.ID, chat.Title, chat.CreatedAt.UnixMilli(), chat.UpdatedAt.UnixMilli(), string(messages),
	)
	if err != nil {
		return fmt.Errorf("saving chat %s: %w", chat.ID, err)
	}
	return nil
}

// Get retrieves a chat. A row whose messages cannot be decoded is deleted and
// reported as not found.
func (s *Store) Get(ctx context.Context, id string) (*history.Chat, error) {
	var (
		chat      history.Chat
		createdAt int64
		updatedAt int64
		messages  string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, messages FROM chats WHERE id = ?`, id,
	).Scan(&chat.ID, &chat.Title, &createdAt, &updatedAt, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, history.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading chat %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(messages), &chat.Messages); err != nil {
		s.logger.Warn("discarding corrupted chat",
			zap.String("chat_id", id),
			zap.Error(err),
		)
		if derr := s.Delete(ctx, id); derr != nil {
			return nil, derr
		}
		return nil, history.NotFoundError{ID: id}
	}

	chat.CreatedAt = time.UnixMilli(createdAt).UTC()
	chat.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &chat, nil
}

// List returns summaries, most recently updated first. Rows with unreadable
// messages are skipped.
func (s *Store) List(ctx context.Context) ([]history.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, updated_at, messages FROM chats ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var result []history.Summary
	for rows.Next() {
		var (
			summary   history.Summary
			updatedAt int64
			raw       string
		)
		if err := rows.Scan(&summary.ID, &summary.Title, &updatedAt, &raw); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}

		var messages []history.Message
		if err := json.Unmarshal([]byte(raw), &messages); err != nil {
			s.logger.Warn("skipping corrupted chat", zap.String("chat_id", summary.ID), zap.Error(err))
			continue
		}

		summary.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		summary.MessageCount = len(messages)
		result = append(result, summary)
	}

	return result, rows.Err()
}

// Delete removes a chat.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting chat %s: %w", id, err)
	}
	return nil
}

// Clear removes every chat.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats`); err != nil {
		return fmt.Errorf("clearing chats: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
