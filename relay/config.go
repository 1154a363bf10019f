package relay

import (
	"net/http"
	"time"

	"github.com/papercomputeco/chatrelay/pkg/eventstream"
	"github.com/papercomputeco/chatrelay/pkg/llm/provider"
	"github.com/papercomputeco/chatrelay/pkg/ratelimit"
)

// HistoryMode selects which messages are forwarded to the provider.
type HistoryMode string

const (
	// HistoryLatest forwards only the most recent user message.
	HistoryLatest HistoryMode = "latest"

	// HistoryFull forwards the entire conversation in order.
	HistoryFull HistoryMode = "full"
)

// Valid reports whether m is a known history mode.
func (m HistoryMode) Valid() bool {
	return m == HistoryLatest || m == HistoryFull
}

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// ProviderType specifies the LLM provider type (e.g., "gemini", "openai").
	ProviderType string

	// UpstreamURL overrides the provider's default API base URL.
	UpstreamURL string

	// Model is the provider model used for streaming requests.
	// Empty selects the provider default.
	Model string

	// ChatModel is the model used for the non-streaming /chat endpoint.
	// Empty falls back to Model.
	ChatModel string

	// APIKey is the provider credential. An empty key is not a startup error:
	// chat requests fail with a 500 until one is configured.
	APIKey string

	// HistoryMode selects the prompt construction policy. Defaults to latest.
	HistoryMode HistoryMode

	// IdleTimeout aborts an upstream stream that produces no bytes for this
	// long. Zero disables it.
	IdleTimeout time.Duration

	// HeartbeatInterval is how often a comment frame is written to an idle
	// stream. A write to a departed client fails, which cancels the upstream
	// without waiting for its next delta. Zero selects DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Environment and Version are reported by the health endpoint.
	Environment string
	Version     string

	// Limiter admits requests per client IP. Nil disables rate limiting.
	Limiter ratelimit.Limiter

	// Publisher receives turn events. Nil selects the no-op publisher.
	Publisher eventstream.Publisher

	// Provider overrides the adapter built from ProviderType.
	Provider provider.Provider

	// HTTPClient is handed to the provider adapter.
	HTTPClient *http.Client
}
