// Package gemini adapts Google's Generative Language API to the relay's
// normalized stream model.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/llm/provider/upstream"
	"github.com/papercomputeco/chatrelay/pkg/logger"
)

const (
	// Name is the canonical provider name.
	Name = "gemini"

	// DefaultBaseURL is the public Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultModel is used when a prompt does not name a model.
	DefaultModel = "gemini-1.5-flash"

	apiKeyHeader = "x-goog-api-key"
)

// Config configures the Gemini adapter.
type Config struct {
	// APIKey is sent in the x-goog-api-key header.
	APIKey string

	// BaseURL overrides DefaultBaseURL (tests point this at httptest servers).
	BaseURL string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// IdleTimeout aborts a stream that produces no bytes for this long.
	IdleTimeout time.Duration

	Logger *zap.Logger
}

type provider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// New returns a Gemini adapter.
func New(c Config) *provider {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	client := c.HTTPClient
	if client == nil {
		// No overall timeout: streams are bounded by the idle timeout instead.
		client = &http.Client{}
	}

	return &provider{
		config: c,
		client: client,
		logger: logger.OrNop(c.Logger),
	}
}

func (g *provider) Name() string {
	return Name
}

// Stream opens streamGenerateContent with alt=sse.
func (g *provider) Stream(ctx context.Context, p llm.Prompt) (llm.EventStream, error) {
	req, err := g.newRequest(p, "streamGenerateContent", url.Values{"alt": {"sse"}})
	if err != nil {
		return nil, err
	}

	g.logger.Debug("opening gemini stream",
		zap.String("model", modelOrDefault(p.Model)),
		zap.Int("message_count", len(p.Messages)),
	)

	return upstream.Open(ctx, g.client, req, upstream.Options{
		Provider:    Name,
		Decode:      decodeFrame,
		IdleTimeout: g.config.IdleTimeout,
		Logger:      g.logger,
	})
}

// Generate calls generateContent and returns the full reply text.
func (g *provider) Generate(ctx context.Context, p llm.Prompt) (string, error) {
	req, err := g.newRequest(p, "generateContent", nil)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("sending upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", upstream.ReadJSONError(resp)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}
	if parsed.Error != nil {
		return "", llm.StreamError{Message: parsed.Error.Message, Code: parsed.Error.Code}
	}

	return parsed.text(), nil
}

func (g *provider) newRequest(p llm.Prompt, method string, query url.Values) (*http.Request, error) {
	body, err := json.Marshal(buildRequest(p))
	if err != nil {
		return nil, fmt.Errorf("encoding gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s", g.config.BaseURL, url.PathEscape(modelOrDefault(p.Model)), method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	// Context is attached by the caller.
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, g.config.APIKey)

	return req, nil
}

func buildRequest(p llm.Prompt) geminiRequest {
	contents := make([]geminiContent, 0, len(p.Messages))
	for _, m := range p.Messages {
		contents = append(contents, geminiContent{
			Role:  geminiRole(m.Role),
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	gen := p.Generation
	if gen == (llm.GenerationConfig{}) {
		gen = llm.DefaultGenerationConfig()
	}

	return geminiRequest{Contents: contents, GenerationConfig: gen}
}

// geminiRole maps chat roles onto Gemini's "user" / "model".
func geminiRole(r llm.Role) string {
	if r == llm.RoleAssistant {
		return "model"
	}
	return "user"
}

func modelOrDefault(model string) string {
	if model == "" {
		return DefaultModel
	}
	return model
}

// decodeFrame maps one streamGenerateContent frame to events. Text in a frame
// that also carries an error is forwarded before the error.
func decodeFrame(data []byte) ([]llm.StreamEvent, error) {
	var frame geminiResponse
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}

	var events []llm.StreamEvent
	if text := frame.text(); text != "" {
		events = append(events, llm.TextDelta{Text: text})
	}
	if frame.Error != nil {
		events = append(events, llm.StreamError{Message: frame.Error.Message, Code: frame.Error.Code})
	}
	return events, nil
}
