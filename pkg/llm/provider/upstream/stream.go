// Package upstream holds the HTTP plumbing shared by the provider adapters:
// opening a streaming request, turning non-2xx statuses into typed errors, and
// decoding the provider's SSE body into normalized stream events.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/sse"
)

// maxErrorBody bounds how much of a non-2xx response body is retained.
const maxErrorBody = 4 * 1024

// DecodeFunc converts one SSE data payload into stream events, in order.
// No events and a nil error means the frame carries nothing to forward
// (keep-alives, finish markers, empty candidates). A frame with text and an
// error object yields the delta before the StreamError.
// An error means the frame was malformed; it is logged and skipped.
type DecodeFunc func(data []byte) ([]llm.StreamEvent, error)

// Options configures a Stream.
type Options struct {
	// Provider names the adapter in log lines.
	Provider string

	// Decode maps provider frames to events. Required.
	Decode DecodeFunc

	// IdleTimeout aborts the request when no bytes arrive for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	Logger *zap.Logger
}

// Stream is an llm.EventStream over a provider's SSE response body.
type Stream struct {
	opts   Options
	body   io.ReadCloser
	idle   *sse.IdleTimeoutReader
	reader *sse.Reader
	queued []llm.StreamEvent
	cancel context.CancelFunc
	logger *zap.Logger

	done      atomic.Bool
	closeOnce sync.Once
}

// Open sends req with client and returns a Stream over the response body.
// The request is bound to a child of ctx so that Close, an idle timeout, or
// cancelling ctx all abort the upstream connection immediately.
//
// A non-2xx status returns *llm.UpstreamHTTPError before any event is produced.
func Open(ctx context.Context, client *http.Client, req *http.Request, opts Options) (*Stream, error) {
	if opts.Decode == nil {
		return nil, errors.New("upstream: decode func is required")
	}
	log := logger.OrNop(opts.Logger)

	ctx, cancel := context.WithCancel(ctx)
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sending upstream request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()

		log.Error("upstream returned error",
			zap.String("provider", opts.Provider),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &llm.UpstreamHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	idle := sse.NewIdleTimeoutReader(resp.Body, opts.IdleTimeout, cancel)

	return &Stream{
		opts:   opts,
		body:   resp.Body,
		idle:   idle,
		reader: sse.NewReader(idle),
		cancel: cancel,
		logger: log,
	}, nil
}

// Next returns the next event. After a terminal event or an error, Next
// returns io.EOF.
func (s *Stream) Next() (llm.StreamEvent, error) {
	if s.done.Load() {
		return nil, io.EOF
	}
	if len(s.queued) > 0 {
		return s.dequeue(), nil
	}

	for {
		ev, err := s.reader.Next()
		if err != nil {
			s.finish()
			if s.idle.Fired() {
				return nil, llm.ErrIdleTimeout
			}
			return nil, fmt.Errorf("reading upstream stream: %w", err)
		}

		// Body ended without an explicit sentinel: treat as success.
		if ev == nil || ev.Data == sse.DoneSentinel {
			s.finish()
			return llm.StreamDone{}, nil
		}

		out, err := s.opts.Decode([]byte(ev.Data))
		if err != nil {
			s.logger.Warn("skipping malformed upstream frame",
				zap.String("provider", s.opts.Provider),
				zap.String("data", ev.Data),
				zap.Error(err),
			)
			continue
		}
		if len(out) == 0 {
			continue
		}

		s.queued = out
		return s.dequeue(), nil
	}
}

// dequeue pops the next decoded event, finishing the stream at a terminal
// one. Anything decoded after a terminal event is discarded.
func (s *Stream) dequeue() llm.StreamEvent {
	ev := s.queued[0]
	s.queued = s.queued[1:]
	if llm.IsTerminal(ev) {
		s.queued = nil
		s.finish()
	}
	return ev
}

// Close aborts the upstream request and releases the body.
func (s *Stream) Close() error {
	s.finish()
	return nil
}

func (s *Stream) finish() {
	s.done.Store(true)
	s.closeOnce.Do(func() {
		s.idle.Stop()
		s.cancel()
		s.body.Close()
	})
}

// ReadJSONError reads a non-2xx response into an *llm.UpstreamHTTPError.
// Used by the non-streaming Generate paths.
func ReadJSONError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &llm.UpstreamHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
}
