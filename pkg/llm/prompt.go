package llm

import "context"

// GenerationConfig carries sampling parameters forwarded to the provider.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// DefaultGenerationConfig returns the fixed sampling parameters used for every
// relayed request.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 8192,
	}
}

// Prompt is everything an upstream adapter needs to open a completion.
type Prompt struct {
	// Model is the provider model id. Empty selects the adapter default.
	Model string

	// Messages are forwarded to the provider in order.
	Messages []ChatMessage

	Generation GenerationConfig
}

// EventStream is a lazy, finite, non-restartable sequence of StreamEvents.
// Next returns io.EOF after the terminal event has been returned.
// Close releases the underlying connection and may be called at any time.
type EventStream interface {
	Next() (StreamEvent, error)
	Close() error
}

// Collect drains s, returning the concatenated text. A StreamError terminal
// event is returned as the error together with the text received so far.
func Collect(ctx context.Context, s EventStream) (string, error) {
	defer s.Close()

	var text []byte
	for {
		if err := ctx.Err(); err != nil {
			return string(text), err
		}

		ev, err := s.Next()
		if err != nil {
			return string(text), err
		}

		switch e := ev.(type) {
		case TextDelta:
			text = append(text, e.Text...)
		case StreamError:
			return string(text), e
		case StreamDone:
			return string(text), nil
		}
	}
}
