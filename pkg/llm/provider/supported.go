package provider

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/llm/provider/gemini"
	"github.com/papercomputeco/chatrelay/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	Gemini = gemini.Name
	OpenAI = openai.Name
)

// Options are the settings common to every adapter.
type Options struct {
	APIKey      string
	BaseURL     string
	HTTPClient  *http.Client
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Gemini, OpenAI}
}

// DefaultModel returns the model used by providerType when none is configured.
func DefaultModel(providerType string) string {
	switch providerType {
	case OpenAI:
		return openai.DefaultModel
	default:
		return gemini.DefaultModel
	}
}

// New creates a new Provider instance for the given provider type.
// Returns an error if the provider type is not recognized.
func New(providerType string, opts Options) (Provider, error) {
	switch providerType {
	case Gemini:
		return gemini.New(gemini.Config{
			APIKey:      opts.APIKey,
			BaseURL:     opts.BaseURL,
			HTTPClient:  opts.HTTPClient,
			IdleTimeout: opts.IdleTimeout,
			Logger:      opts.Logger,
		}), nil
	case OpenAI:
		return openai.New(openai.Config{
			APIKey:      opts.APIKey,
			BaseURL:     opts.BaseURL,
			HTTPClient:  opts.HTTPClient,
			IdleTimeout: opts.IdleTimeout,
			Logger:      opts.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", providerType, SupportedProviders())
	}
}
