// Package relay provides the streaming chat relay: an HTTP server that accepts
// a conversation from a client, opens a streaming completion with an upstream
// LLM provider, and re-frames the provider's deltas into a normalized
// server-sent event stream.
package relay

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/eventstream/nop"
	"github.com/papercomputeco/chatrelay/pkg/llm/provider"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/relay/header"
	"github.com/papercomputeco/chatrelay/relay/worker"
)

const (
	// DefaultVersion is reported by the health endpoint when Config.Version is empty.
	DefaultVersion = "1.0.0"

	// DefaultEnvironment is reported by the health endpoint when Config.Environment is empty.
	DefaultEnvironment = "development"

	// DefaultHeartbeatInterval is used when Config.HeartbeatInterval is zero.
	DefaultHeartbeatInterval = 10 * time.Second

	// ChatStreamPath is the streaming endpoint.
	ChatStreamPath = "/chat-stream"

	// ChatPath is the non-streaming endpoint.
	ChatPath = "/chat"

	// HealthPath is the liveness endpoint. It is exempt from rate limiting.
	HealthPath = "/health"

	// maxBodySize bounds a chat request body.
	maxBodySize = 1 << 20
)

// Relay is a stateless per-request streaming relay between chat clients and an
// upstream LLM provider. Turn metadata is published asynchronously via its
// worker pool.
type Relay struct {
	config        Config
	provider      provider.Provider
	workerPool    *worker.Pool
	logger        *zap.Logger
	server        *fiber.App
	headerHandler *header.Handler
}

// New creates a new Relay.
// Returns an error if the configured provider type is not recognized.
func New(config Config, log *zap.Logger) (*Relay, error) {
	log = logger.OrNop(log)

	if config.HistoryMode == "" {
		config.HistoryMode = HistoryLatest
	}
	if !config.HistoryMode.Valid() {
		return nil, fmt.Errorf("unknown history mode: %q (supported: %s, %s)", config.HistoryMode, HistoryLatest, HistoryFull)
	}
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	if config.Environment == "" {
		config.Environment = DefaultEnvironment
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}

	prov := config.Provider
	if prov == nil {
		if config.ProviderType == "" {
			return nil, errors.New("provider type is required")
		}

		var err error
		prov, err = provider.New(config.ProviderType, provider.Options{
			APIKey:      config.APIKey,
			BaseURL:     config.UpstreamURL,
			HTTPClient:  config.HTTPClient,
			IdleTimeout: config.IdleTimeout,
			Logger:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create new provider: %w", err)
		}
	}

	publisher := config.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher: publisher,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	r := &Relay{
		config:        config,
		provider:      prov,
		workerPool:    wp,
		logger:        log,
		headerHandler: header.NewHandler(),
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		BodyLimit:             maxBodySize,
		ErrorHandler:          r.errorHandler,
	})
	r.server = app

	app.Use(recover.New())
	app.Use(r.securityHeaders)
	app.Use(r.rateLimit)

	app.Get(HealthPath, r.handleHealth)
	app.Post(ChatStreamPath, r.handleChatStream)
	app.Post(ChatPath, r.handleChat)

	return r, nil
}

// Run starts the relay server on the given listening address
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		zap.String("listen", r.config.ListenAddr),
		zap.String("provider", r.provider.Name()),
		zap.String("history_mode", string(r.config.HistoryMode)),
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server",
		zap.String("listen", listener.Addr().String()),
		zap.String("provider", r.provider.Name()),
	)

	return r.server.Listener(listener)
}

// Close gracefully shuts down the relay and waits for the worker pool to drain
func (r *Relay) Close() error {
	serverErr := r.server.ShutdownWithTimeout(10 * time.Second)
	poolErr := r.workerPool.Close()
	return errors.Join(serverErr, poolErr)
}

// App exposes the fiber application, primarily for in-process testing.
func (r *Relay) App() *fiber.App {
	return r.server
}
