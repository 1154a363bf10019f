package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/eventstream"
	"github.com/papercomputeco/chatrelay/pkg/llm"
)

// ChatResponse is the body of POST /chat.
type ChatResponse struct {
	Success   bool   `json:"success"`
	Assistant string `json:"assistant,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// handleChat is the non-streaming sibling of handleChatStream: it collects
// the full completion and returns it in one JSON body.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	if r.config.APIKey == "" && r.config.Provider == nil {
		r.logger.Error("provider API key is not configured",
			zap.String("provider", r.provider.Name()),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ChatResponse{Error: msgServerConfig})
	}

	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ChatResponse{Error: msgInvalidFormat})
	}
	if err := req.ValidateContent(); err != nil {
		if errors.Is(err, llm.ErrNoMessages) {
			return c.Status(fiber.StatusBadRequest).JSON(ChatResponse{Error: msgInvalidFormat})
		}
		return c.Status(fiber.StatusBadRequest).JSON(ChatResponse{Error: msgInvalidMessage})
	}

	model := r.config.ChatModel
	if model == "" {
		model = r.config.Model
	}
	prompt := r.buildPrompt(&req, model)
	t := r.newTurn(ChatPath, false, prompt.Model, prompt)
	defer r.finishTurn(t)

	// Unlike the streaming path the handler blocks here, so the request
	// context is still valid for the upstream call.
	ctx, cancel := context.WithCancel(c.UserContext())
	defer cancel()

	reply, err := r.provider.Generate(ctx, prompt)
	if err != nil {
		status, code, message := chatErrorFor(err)

		var httpErr *llm.UpstreamHTTPError
		if errors.As(err, &httpErr) {
			t.upstreamStatus = httpErr.StatusCode
		}
		t.outcome = eventstream.OutcomeFailed
		t.errMessage = message

		r.logger.Error("upstream generate failed",
			zap.String("request_id", t.id),
			zap.String("provider", r.provider.Name()),
			zap.Error(err),
		)
		return c.Status(status).JSON(ChatResponse{Error: message, ErrorCode: code})
	}

	if reply == "" {
		t.outcome = eventstream.OutcomeFailed
		t.errMessage = msgEmptyResponse
		return c.Status(fiber.StatusInternalServerError).JSON(ChatResponse{Error: msgEmptyResponse})
	}

	t.outcome = eventstream.OutcomeCompleted
	t.responseLength = len(reply)
	return c.JSON(ChatResponse{Success: true, Assistant: reply})
}

// errorHandler renders unhandled errors and recovered panics as JSON.
func (r *Relay) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(llm.ErrorResponse{Error: fe.Message})
	}

	r.logger.Error("unhandled request error",
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: msgInternalError})
}
