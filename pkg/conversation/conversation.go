// Package conversation owns the client-side state of a single chat: the
// message list, the in-progress assistant reply, and the last failure.
package conversation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/client"
	"github.com/papercomputeco/chatrelay/pkg/history"
	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/logger"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	// StateEmpty: no messages yet.
	StateEmpty State = "empty"

	// StateAwaitingResponse: a reply is streaming into the placeholder.
	StateAwaitingResponse State = "awaiting_response"

	// StateIdle: the last exchange finished, failed, or was stopped.
	StateIdle State = "idle"
)

const saveTimeout = 5 * time.Second

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNothingToRetry is returned by Retry when the last exchange succeeded.
	ErrNothingToRetry = errors.New("nothing to retry")

	// ErrNotUserMessage is returned by Edit for an index that is not a user message.
	ErrNotUserMessage = errors.New("only user messages can be edited")
)

// ErrorInfo describes the failure of the last exchange.
type ErrorInfo struct {
	Message   string
	Kind      client.ErrorKind
	Retryable bool
}

// Streamer is the consumer the orchestrator drives. *client.Consumer
// satisfies it.
type Streamer interface {
	Send(ctx context.Context, messages []llm.ChatMessage) (string, error)
	Cancel()
}

// StreamerFactory builds a Streamer that reports to the given handlers. It is
// called once per exchange.
type StreamerFactory func(h client.Handlers) Streamer

// ConsumerFactory returns a StreamerFactory backed by client.Consumer.
func ConsumerFactory(cfg client.Config, opts ...client.Option) StreamerFactory {
	return func(h client.Handlers) Streamer {
		return client.New(cfg, append(slices.Clone(opts), client.WithHandlers(h))...)
	}
}

// ChatFactory returns a StreamerFactory that uses the relay's non-streaming
// /chat endpoint. The reply is delivered as a single chunk.
func ChatFactory(cfg client.Config, opts ...client.Option) StreamerFactory {
	return func(h client.Handlers) Streamer {
		return &chatStreamer{consumer: client.New(cfg, opts...), handlers: h}
	}
}

type chatStreamer struct {
	consumer *client.Consumer
	handlers client.Handlers

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *chatStreamer) Send(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	text, err := s.consumer.Chat(ctx, messages)
	if ctx.Err() != nil {
		return "", nil
	}
	if err != nil {
		var clientErr *client.Error
		if !errors.As(err, &clientErr) {
			clientErr = &client.Error{Kind: client.KindNetwork, Message: err.Error(), Err: err}
		}
		if s.handlers.OnError != nil {
			s.handlers.OnError(clientErr)
		}
		return "", clientErr
	}

	if s.handlers.OnChunk != nil {
		s.handlers.OnChunk(text)
	}
	if s.handlers.OnComplete != nil {
		s.handlers.OnComplete(text)
	}
	return text, nil
}

func (s *chatStreamer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithStore saves the conversation after every finished exchange.
func WithStore(s history.Store) Option {
	return func(c *Conversation) {
		c.store = s
	}
}

// WithChat resumes a stored chat.
func WithChat(chat *history.Chat) Option {
	return func(c *Conversation) {
		if chat != nil {
			c.chat = chat
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Conversation) {
		c.logger = l
	}
}

// WithChunkObserver calls fn with every delta appended to the streaming reply.
func WithChunkObserver(fn func(text string)) Option {
	return func(c *Conversation) {
		c.observe = fn
	}
}

// Conversation is the chat orchestrator.
type Conversation struct {
	factory  StreamerFactory
	store    history.Store
	logger   *zap.Logger
	observe  func(text string)

	mu    sync.Mutex
	chat  *history.Chat
	state State

	// streamer serves the current exchange, or is nil before the first one.
	streamer Streamer

	// placeholder is the index of the streaming assistant message, or -1.
	placeholder int

	// generation identifies the current exchange. Callbacks carry the
	// generation they were created for and are dropped once it moves on.
	generation uint64

	retryText string
	lastErr   *ErrorInfo
	stopped   bool
}

// New creates a Conversation whose streamer is built by factory.
func New(factory StreamerFactory, opts ...Option) *Conversation {
	c := &Conversation{
		factory:     factory,
		chat:        history.NewChat(),
		placeholder: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNop(c.logger)

	c.state = StateEmpty
	if len(c.chat.Messages) > 0 {
		c.state = StateIdle
	}

	return c
}

// handlersFor binds the streamer callbacks to one exchange.
func (c *Conversation) handlersFor(gen uint64) client.Handlers {
	return client.Handlers{
		OnChunk:    func(text string) { c.onChunk(gen, text) },
		OnComplete: func(full string) { c.onComplete(gen, full) },
		OnError:    func(err *client.Error) { c.onError(gen, err) },
	}
}

// Send appends text as a user message and streams the assistant reply. It
// blocks until the exchange finishes, fails, or is stopped. An exchange
// already in progress is cancelled first.
func (c *Conversation) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state == StateAwaitingResponse {
		c.removePlaceholderLocked()
		c.streamer.Cancel()
	}

	c.generation++
	gen := c.generation
	streamer := c.factory(c.handlersFor(gen))
	c.streamer = streamer

	c.chat.Messages = append(c.chat.Messages, history.NewMessage(llm.RoleUser, text))
	wire := c.wireMessagesLocked()

	c.chat.Messages = append(c.chat.Messages, history.NewMessage(llm.RoleAssistant, ""))
	c.placeholder = len(c.chat.Messages) - 1

	c.retryText = text
	c.lastErr = nil
	c.stopped = false
	c.state = StateAwaitingResponse
	c.mu.Unlock()

	_, err := streamer.Send(ctx, wire)

	// A session that ended without a callback was cancelled. Settle it unless
	// a newer exchange or Stop already did.
	c.mu.Lock()
	settled := false
	if c.generation == gen && c.state == StateAwaitingResponse {
		c.removePlaceholderLocked()
		c.stopped = true
		c.state = StateIdle
		settled = true
	}
	c.mu.Unlock()

	if settled {
		c.save()
	}
	return err
}

// Stop cancels the streaming reply. The partial reply is discarded and the
// conversation is marked stopped; this is not an error.
func (c *Conversation) Stop() {
	c.mu.Lock()
	if c.state != StateAwaitingResponse {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.removePlaceholderLocked()
	c.stopped = true
	c.state = StateIdle
	streamer := c.streamer
	c.mu.Unlock()

	streamer.Cancel()
	c.save()
}

// Retry re-sends the message of the last failed or stopped exchange.
func (c *Conversation) Retry(ctx context.Context) error {
	c.mu.Lock()
	text := c.retryText
	awaiting := c.state == StateAwaitingResponse
	c.mu.Unlock()

	if text == "" || awaiting {
		return ErrNothingToRetry
	}
	return c.Send(ctx, text)
}

// Edit sends text as a new user message in place of the user message at
// index. Earlier messages are left as they are.
func (c *Conversation) Edit(ctx context.Context, index int, text string) error {
	c.mu.Lock()
	valid := index >= 0 && index < len(c.chat.Messages) && c.chat.Messages[index].Role == llm.RoleUser
	c.mu.Unlock()

	if !valid {
		return ErrNotUserMessage
	}
	return c.Send(ctx, text)
}

// Reset cancels any reply in progress and starts a new chat.
func (c *Conversation) Reset() {
	c.mu.Lock()
	awaiting := c.state == StateAwaitingResponse
	c.generation++
	c.chat = history.NewChat()
	c.placeholder = -1
	c.retryText = ""
	c.lastErr = nil
	c.stopped = false
	c.state = StateEmpty
	streamer := c.streamer
	c.mu.Unlock()

	if awaiting {
		streamer.Cancel()
	}
}

// Messages returns a copy of the messages, including a streaming placeholder.
func (c *Conversation) Messages() []history.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.chat.Messages)
}

// State returns the lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the failure of the last exchange, or nil.
func (c *Conversation) LastError() *ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	info := *c.lastErr
	return &info
}

// Stopped reports whether the last exchange was stopped by the user.
func (c *Conversation) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Title is derived from the first user message.
func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return history.TitleFor(c.chat.Messages)
}

// ID is the id under which the chat is stored.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat.ID
}

func (c *Conversation) onChunk(gen uint64, text string) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateAwaitingResponse || c.placeholder < 0 {
		c.mu.Unlock()
		return
	}
	c.chat.Messages[c.placeholder].Content += text
	c.mu.Unlock()

	if c.observe != nil {
		c.observe(text)
	}
}

func (c *Conversation) onComplete(gen uint64, full string) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateAwaitingResponse || c.placeholder < 0 {
		c.mu.Unlock()
		return
	}
	msg := &c.chat.Messages[c.placeholder]
	msg.Content = full
	msg.Time = time.Now().UTC()
	c.placeholder = -1
	c.retryText = ""
	c.state = StateIdle
	c.mu.Unlock()

	c.save()
}

func (c *Conversation) onError(gen uint64, err *client.Error) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateAwaitingResponse {
		c.mu.Unlock()
		return
	}
	c.removePlaceholderLocked()
	c.lastErr = &ErrorInfo{
		Message:   err.Message,
		Kind:      err.Kind,
		Retryable: err.Retryable(),
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Debug("exchange failed",
		zap.String("chat_id", c.ID()),
		zap.String("kind", string(err.Kind)),
		zap.Error(err),
	)
	c.save()
}

func (c *Conversation) removePlaceholderLocked() {
	if c.placeholder < 0 {
		return
	}
	c.chat.Messages = slices.Delete(c.chat.Messages, c.placeholder, c.placeholder+1)
	c.placeholder = -1
}

// wireMessagesLocked converts the chat to relay messages, skipping empty ones.
func (c *Conversation) wireMessagesLocked() []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(c.chat.Messages))
	for _, m := range c.chat.Messages {
		if m.Content == "" {
			continue
		}
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// save persists a snapshot of the chat. Failures are logged, not returned.
func (c *Conversation) save() {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	if len(c.chat.Messages) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot := *c.chat
	snapshot.Messages = slices.Clone(c.chat.Messages)
	if c.placeholder >= 0 {
		snapshot.Messages = slices.Delete(snapshot.Messages, c.placeholder, c.placeholder+1)
	}
	snapshot.Title = history.TitleFor(snapshot.Messages)
	snapshot.UpdatedAt = time.Now().UTC()
	c.chat.Title = snapshot.Title
	c.chat.UpdatedAt = snapshot.UpdatedAt
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := c.store.Save(ctx, &snapshot); err != nil {
		c.logger.Warn("failed to save chat",
			zap.String("chat_id", snapshot.ID),
			zap.Error(err),
		)
	}
}
