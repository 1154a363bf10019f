// Package provider defines the upstream stream adapter contract and the
// factory that builds adapters by name.
package provider

import (
	"context"

	"github.com/papercomputeco/chatrelay/pkg/llm"
)

// Provider opens completions against a hosted LLM API.
type Provider interface {
	// Name returns the canonical provider name (e.g., "gemini", "openai")
	Name() string

	// Stream opens a streaming completion. A non-2xx upstream status is
	// returned as *llm.UpstreamHTTPError before any event is produced.
	// Cancelling ctx aborts the upstream request immediately.
	Stream(ctx context.Context, p llm.Prompt) (llm.EventStream, error)

	// Generate runs a non-streaming completion and returns the full text.
	Generate(ctx context.Context, p llm.Prompt) (string, error)
}
