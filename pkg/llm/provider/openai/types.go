package openai

import (
	"encoding/json"
	"strconv"
)

// openaiRequest represents OpenAI's Chat Completions request format.
type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p"`
	Stream      bool            `json:"stream,omitempty"`
}

// openaiMessage represents a message in OpenAI's format.
type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiResponse is a non-streaming chat.completion object.
type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Error *openaiError `json:"error,omitempty"`
}

// openaiChunk is a single chat.completion.chunk SSE frame.
type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *openaiError `json:"error,omitempty"`
}

// openaiError is the error object OpenAI embeds in responses. The code is a
// string for most errors and a number for a few gateway ones.
type openaiError struct {
	Message string          `json:"message"`
	Type    string          `json:"type,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
}

// numericCode returns the error code when it is numeric, 0 otherwise.
func (e *openaiError) numericCode() int {
	if len(e.Code) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(e.Code))
	if err != nil {
		return 0
	}
	return n
}
