package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/eventstream"
	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/sse"
	"github.com/papercomputeco/chatrelay/relay/worker"
)

// turn tracks one relayed request for logging and the turn event.
type turn struct {
	id           string
	path         string
	streaming    bool
	model        string
	messageCount int
	startedAt    time.Time

	deltas         int
	responseLength int
	outcome        eventstream.Outcome
	upstreamStatus int
	errMessage     string
}

func (r *Relay) newTurn(path string, streaming bool, model string, prompt llm.Prompt) *turn {
	return &turn{
		id:           uuid.NewString(),
		path:         path,
		streaming:    streaming,
		model:        model,
		messageCount: len(prompt.Messages),
		startedAt:    time.Now(),
	}
}

// handleChatStream validates the request and then hands the response body to
// a pump goroutine that relays upstream deltas as SSE frames.
//
// Validation failures are plain JSON errors; no SSE header is written until
// the request has been accepted.
func (r *Relay) handleChatStream(c *fiber.Ctx) error {
	if r.config.APIKey == "" && r.config.Provider == nil {
		r.logger.Error("provider API key is not configured",
			zap.String("provider", r.provider.Name()),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: msgServerConfig})
	}

	req, reason := parseChatRequest(c.Body())
	if req == nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: reason})
	}

	prompt := r.buildPrompt(req, r.config.Model)
	t := r.newTurn(ChatStreamPath, true, prompt.Model, prompt)

	r.logger.Debug("relaying stream",
		zap.String("request_id", t.id),
		zap.String("provider", r.provider.Name()),
		zap.Int("message_count", len(prompt.Messages)),
	)

	r.headerHandler.SetStreamHeaders(c)
	c.Status(fiber.StatusOK)

	// io.Pipe gives per-frame backpressure: each pw.Write blocks until
	// fasthttp's chunked body writer has consumed it and flushed to the
	// socket. When the client goes away fasthttp closes the reader, the next
	// pw.Write fails, and the pump cancels the upstream request.
	pr, pw := io.Pipe()
	go r.pump(pw, prompt, t)

	// Unknown size (-1) triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// pump runs the upstream stream to completion, writing exactly one terminal
// frame ([DONE] or an error) unless the client disconnects first.
//
// The upstream uses its own context rather than the fiber request context:
// fasthttp recycles its RequestCtx once the handler returns, while this
// goroutine keeps running until the stream ends. A disconnect is noticed on
// the next pipe write, so a heartbeat comment is written whenever the
// upstream is quiet.
func (r *Relay) pump(pw *io.PipeWriter, prompt llm.Prompt, t *turn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer pw.Close()
	defer r.finishTurn(t)

	w := sse.NewWriter(pw)

	stream, err := r.provider.Stream(ctx, prompt)
	if err != nil {
		r.writeStreamError(w, t, err)
		return
	}
	defer stream.Close()

	events := make(chan streamResult)
	go readStream(ctx, stream, events)

	heartbeat := time.NewTicker(r.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		var res streamResult
		select {
		case res = <-events:
		case <-heartbeat.C:
			if err := w.WriteComment("ping"); err != nil {
				r.clientGone(t, err)
				return
			}
			continue
		}

		if res.err != nil {
			r.writeStreamError(w, t, res.err)
			return
		}

		switch e := res.ev.(type) {
		case llm.TextDelta:
			if err := r.writeEvent(w, e); err != nil {
				r.clientGone(t, err)
				return
			}
			t.deltas++
			t.responseLength += len(e.Text)

		case llm.StreamError:
			r.writeStreamError(w, t, e)
			return

		case llm.StreamDone:
			if err := w.WriteDone(); err != nil {
				r.clientGone(t, err)
				return
			}
			t.outcome = eventstream.OutcomeCompleted
			return
		}
	}
}

type streamResult struct {
	ev  llm.StreamEvent
	err error
}

// readStream forwards stream events until a terminal event, an error, or ctx
// is cancelled by the pump returning.
func readStream(ctx context.Context, stream llm.EventStream, out chan<- streamResult) {
	for {
		ev, err := stream.Next()
		select {
		case out <- streamResult{ev: ev, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil || llm.IsTerminal(ev) {
			return
		}
	}
}

func (r *Relay) writeEvent(w *sse.Writer, ev llm.StreamEvent) error {
	payload, err := llm.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return w.WriteData(payload)
}

// writeStreamError sends the single terminal error frame for err.
func (r *Relay) writeStreamError(w *sse.Writer, t *turn, err error) {
	frame := streamErrorFor(err)

	var httpErr *llm.UpstreamHTTPError
	if errors.As(err, &httpErr) {
		t.upstreamStatus = httpErr.StatusCode
	}
	t.outcome = eventstream.OutcomeFailed
	t.errMessage = frame.Message

	r.logger.Error("upstream stream failed",
		zap.String("request_id", t.id),
		zap.String("provider", r.provider.Name()),
		zap.Int("deltas_sent", t.deltas),
		zap.Error(err),
	)

	if werr := r.writeEvent(w, frame); werr != nil {
		r.clientGone(t, werr)
	}
}

func (r *Relay) clientGone(t *turn, err error) {
	t.outcome = eventstream.OutcomeCancelled
	r.logger.Debug("client disconnected, cancelling upstream",
		zap.String("request_id", t.id),
		zap.Int("deltas_sent", t.deltas),
		zap.Error(err),
	)
}

// finishTurn logs the outcome and enqueues the turn event.
func (r *Relay) finishTurn(t *turn) {
	completedAt := time.Now()
	duration := completedAt.Sub(t.startedAt)

	r.logger.Info("turn finished",
		zap.String("request_id", t.id),
		zap.String("path", t.path),
		zap.String("outcome", string(t.outcome)),
		zap.Int("deltas", t.deltas),
		zap.Duration("duration", duration),
	)

	// Non-blocking enqueue for async publishing
	r.workerPool.Enqueue(worker.Job{Event: &eventstream.TurnCompletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeTurnCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     completedAt.UTC(),
		Source: eventstream.EventSource{
			Provider: r.provider.Name(),
			Model:    t.model,
		},
		Request: eventstream.TurnRequest{
			RequestID:    t.id,
			Path:         t.path,
			Streaming:    t.streaming,
			MessageCount: t.messageCount,
			StartedAt:    t.startedAt.UTC(),
			CompletedAt:  completedAt.UTC(),
			DurationMs:   duration.Milliseconds(),
		},
		Result: eventstream.TurnResult{
			Outcome:        t.outcome,
			DeltaCount:     t.deltas,
			ResponseLength: t.responseLength,
			UpstreamStatus: t.upstreamStatus,
			ErrorMessage:   t.errMessage,
		},
	}})
}

// parseChatRequest decodes and validates a chat request body. On failure it
// returns the client-facing reason.
func parseChatRequest(body []byte) (*llm.ChatRequest, string) {
	var req llm.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, msgInvalidFormat
	}

	if err := req.Validate(); err != nil {
		if errors.Is(err, llm.ErrNoUserMessage) {
			return nil, msgNoUserMessage
		}
		return nil, msgInvalidFormat
	}

	return &req, ""
}

// buildPrompt applies the history mode to select the forwarded messages. A
// forwarded history always opens with a user turn; providers reject a
// conversation that starts with the model speaking.
func (r *Relay) buildPrompt(req *llm.ChatRequest, model string) llm.Prompt {
	var messages []llm.ChatMessage
	switch r.config.HistoryMode {
	case HistoryLatest:
		last, _ := req.LastUserMessage()
		messages = []llm.ChatMessage{last}
	default:
		first := slices.IndexFunc(req.Messages, func(m llm.ChatMessage) bool {
			return m.Role == llm.RoleUser
		})
		messages = req.Messages[first:]
	}

	return llm.Prompt{
		Model:      model,
		Messages:   messages,
		Generation: llm.DefaultGenerationConfig(),
	}
}
