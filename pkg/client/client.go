// Package client consumes the relay's normalized event stream. A Consumer
// runs at most one streaming session at a time, surfaces text deltas as they
// arrive, and can abort the session at any point.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/sse"
)

const (
	// DefaultRelayURL is the relay base URL used when Config.RelayURL is empty.
	DefaultRelayURL = "http://localhost:8080"

	// DefaultIdleTimeout aborts a stream that has been silent this long.
	DefaultIdleTimeout = 60 * time.Second

	streamPath = "/chat-stream"
	chatPath   = "/chat"

	// maxErrorBody bounds how much of a rejection body is read.
	maxErrorBody = 4 * 1024

	maxChatBody = 1 << 20
)

// Handlers receive session progress. Any of them may be nil.
type Handlers struct {
	// OnChunk is called once per text delta, in order.
	OnChunk func(text string)

	// OnComplete is called once with the full text when the stream ends with [DONE].
	OnComplete func(fullText string)

	// OnError is called once when the session fails.
	OnError func(err *Error)
}

// Config configures a Consumer.
type Config struct {
	// RelayURL is the relay base URL (e.g., "http://localhost:8080").
	RelayURL string

	// IdleTimeout aborts a stream with no bytes for this long. Zero selects
	// DefaultIdleTimeout; a negative value disables it.
	IdleTimeout time.Duration

	HTTPClient *http.Client
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithHandlers sets the session callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Consumer) {
		c.handlers = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Consumer) {
		c.logger = l
	}
}

// Consumer streams chat completions from a relay.
type Consumer struct {
	baseURL     string
	idleTimeout time.Duration
	httpClient  *http.Client
	handlers    Handlers
	logger      *zap.Logger

	mu      sync.Mutex
	current *session
}

// session is one in-flight streaming request.
type session struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

func (s *session) abort() {
	s.cancelled.Store(true)
	s.cancel()
}

// New creates a Consumer.
func New(cfg Config, opts ...Option) *Consumer {
	c := &Consumer{
		baseURL:     strings.TrimRight(cfg.RelayURL, "/"),
		idleTimeout: cfg.IdleTimeout,
		httpClient:  cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultRelayURL
	}
	if c.idleTimeout == 0 {
		c.idleTimeout = DefaultIdleTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNop(c.logger)

	return c
}

// Send streams a completion for messages. Any session already in flight is
// cancelled first and Send waits for it to unwind.
//
// On success the full text is returned after OnComplete. On failure the
// *Error is delivered to OnError and returned. A session that is cancelled,
// by Cancel, by a newer Send, or by ctx, returns ("", nil) and fires no
// further callbacks.
func (c *Consumer) Send(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	defer close(s.done)
	defer cancel()

	c.mu.Lock()
	prev := c.current
	c.current = s
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	if prev != nil {
		prev.abort()
		<-prev.done
	}

	text, err := c.run(sessCtx, s, messages)
	if s.cancelled.Load() || (err != nil && ctx.Err() != nil) {
		return "", nil
	}

	if err != nil {
		var clientErr *Error
		if !errors.As(err, &clientErr) {
			clientErr = &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(clientErr)
		}
		return "", clientErr
	}

	if c.handlers.OnComplete != nil {
		c.handlers.OnComplete(text)
	}
	return text, nil
}

// Cancel aborts the in-flight session, if any.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s != nil {
		s.abort()
	}
}

// IsStreaming reports whether a session is in flight.
func (c *Consumer) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// run performs the request and decodes frames until a terminal frame, a
// failure, or cancellation.
func (c *Consumer) run(ctx context.Context, s *session, messages []llm.ChatMessage) (string, error) {
	// The idle timeout also covers the wait for response headers.
	var headerTimeout atomic.Bool
	var timer *time.Timer
	if c.idleTimeout > 0 {
		timer = time.AfterFunc(c.idleTimeout, func() {
			headerTimeout.Store(true)
			s.cancel()
		})
	}

	resp, err := c.post(ctx, streamPath, messages, "text/event-stream")
	if timer != nil {
		timer.Stop()
	}
	if headerTimeout.Load() {
		if err == nil {
			resp.Body.Close()
		}
		return "", &Error{Kind: KindTimeout, Message: fmt.Sprintf("no response from relay for %s", c.idleTimeout), Err: err}
	}
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: "could not reach relay", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", rejection(resp)
	}

	idle := sse.NewIdleTimeoutReader(resp.Body, c.idleTimeout, s.cancel)
	defer idle.Stop()

	reader := sse.NewReader(idle)
	var text strings.Builder

	for {
		ev, err := reader.Next()
		if err != nil {
			if idle.Fired() {
				return "", &Error{
					Kind:    KindTimeout,
					Message: fmt.Sprintf("no data from relay for %s", c.idleTimeout),
					Partial: text.String(),
					Err:     err,
				}
			}
			return "", &Error{Kind: KindNetwork, Message: "stream interrupted", Partial: text.String(), Err: err}
		}
		if ev == nil {
			return "", &Error{
				Kind:    KindProtocol,
				Message: "stream ended without a terminal frame",
				Partial: text.String(),
			}
		}

		frame, err := llm.DecodeEvent(ev.Data)
		if err != nil {
			c.logger.Warn("skipping malformed frame",
				zap.String("data", ev.Data),
				zap.Error(err),
			)
			continue
		}

		switch f := frame.(type) {
		case llm.TextDelta:
			if s.cancelled.Load() {
				return "", context.Canceled
			}
			text.WriteString(f.Text)
			if c.handlers.OnChunk != nil {
				c.handlers.OnChunk(f.Text)
			}

		case llm.StreamError:
			return "", &Error{
				Kind:    KindProvider,
				Message: f.Message,
				Code:    f.Code,
				Partial: text.String(),
				Err:     f,
			}

		case llm.StreamDone:
			return text.String(), nil
		}
	}
}

// chatResponse is the body of the relay's /chat endpoint.
type chatResponse struct {
	Success   bool   `json:"success"`
	Assistant string `json:"assistant"`
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Chat runs a non-streaming completion against the relay's /chat endpoint.
// It is independent of the streaming session and fires no callbacks.
func (c *Consumer) Chat(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	resp, err := c.post(ctx, chatPath, messages, "application/json")
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: "could not reach relay", Err: err}
	}
	defer resp.Body.Close()

	var body chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxChatBody)).Decode(&body); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", &Error{Kind: KindHTTP, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Err: err}
		}
		return "", &Error{Kind: KindProtocol, Message: "malformed chat response", Err: err}
	}

	if resp.StatusCode != http.StatusOK || !body.Success {
		msg := body.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &Error{Kind: KindHTTP, Status: resp.StatusCode, Message: msg, ErrorCode: body.ErrorCode}
	}

	return body.Assistant, nil
}

func (c *Consumer) post(ctx context.Context, path string, messages []llm.ChatMessage, accept string) (*http.Response, error) {
	payload, err := json.Marshal(llm.ChatRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	return c.httpClient.Do(req)
}

// rejection converts a non-200 relay response into a KindHTTP error.
func rejection(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body llm.ErrorResponse
	msg := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		msg = body.Error
		if body.Message != "" {
			msg = body.Error + ": " + body.Message
		}
	}

	return &Error{Kind: KindHTTP, Status: resp.StatusCode, Message: msg}
}
