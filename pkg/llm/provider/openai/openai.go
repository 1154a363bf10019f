// Package openai adapts OpenAI-compatible Chat Completions endpoints to the
// relay's normalized stream model.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/llm/provider/upstream"
	"github.com/papercomputeco/chatrelay/pkg/logger"
)

const (
	// Name is the canonical provider name.
	Name = "openai"

	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Config configures the OpenAI adapter.
type Config struct {
	// APIKey is sent as a bearer token.
	APIKey string

	// BaseURL overrides DefaultBaseURL. Any OpenAI-compatible server works.
	BaseURL string

	HTTPClient *http.Client

	// IdleTimeout aborts a stream that produces no bytes for this long.
	IdleTimeout time.Duration

	Logger *zap.Logger
}

// provider implements the Provider interface for OpenAI's Chat Completions API.
type provider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

func New(c Config) *provider {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &provider{
		config: c,
		client: client,
		logger: logger.OrNop(c.Logger),
	}
}

func (o *provider) Name() string {
	return Name
}

func (o *provider) Stream(ctx context.Context, p llm.Prompt) (llm.EventStream, error) {
	req, err := o.newRequest(p, true)
	if err != nil {
		return nil, err
	}

	return upstream.Open(ctx, o.client, req, upstream.Options{
		Provider:    Name,
		Decode:      decodeChunk,
		IdleTimeout: o.config.IdleTimeout,
		Logger:      o.logger,
	})
}

func (o *provider) Generate(ctx context.Context, p llm.Prompt) (string, error) {
	req, err := o.newRequest(p, false)
	if err != nil {
		return "", err
	}

	resp, err := o.client.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("sending upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", upstream.ReadJSONError(resp)
	}

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding openai response: %w", err)
	}
	if parsed.Error != nil {
		return "", llm.StreamError{Message: parsed.Error.Message, Code: parsed.Error.numericCode()}
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}

	return parsed.Choices[0].Message.Content, nil
}

func (o *provider) newRequest(p llm.Prompt, stream bool) (*http.Request, error) {
	model := p.Model
	if model == "" {
		model = DefaultModel
	}

	gen := p.Generation
	if gen == (llm.GenerationConfig{}) {
		gen = llm.DefaultGenerationConfig()
	}

	messages := make([]openaiMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		messages = append(messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	// Chat Completions has no top-k parameter.
	body, err := json.Marshal(openaiRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   gen.MaxOutputTokens,
		Temperature: gen.Temperature,
		TopP:        gen.TopP,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, o.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	return req, nil
}

// decodeChunk maps one chat.completion.chunk frame to events.
func decodeChunk(data []byte) ([]llm.StreamEvent, error) {
	var chunk openaiChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}

	var events []llm.StreamEvent
	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		events = append(events, llm.TextDelta{Text: chunk.Choices[0].Delta.Content})
	}
	if chunk.Error != nil {
		events = append(events, llm.StreamError{Message: chunk.Error.Message, Code: chunk.Error.numericCode()})
	}
	return events, nil
}
