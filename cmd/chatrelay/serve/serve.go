// Package servecmder provides the serve command for running the relay server.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/config"
	"github.com/papercomputeco/chatrelay/pkg/credentials"
	"github.com/papercomputeco/chatrelay/pkg/eventstream"
	"github.com/papercomputeco/chatrelay/pkg/eventstream/kafka"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/ratelimit"
	"github.com/papercomputeco/chatrelay/pkg/utils"
	"github.com/papercomputeco/chatrelay/relay"
)

type serveCommander struct {
	listen       string
	providerType string
	upstream     string
	model        string
	chatModel    string
	historyMode  string
	idleTimeout  string
	environment  string
	rateWindow   string
	rateMax      uint
	kafkaBrokers string
	kafkaTopic   string
	debug        bool

	apiKey string

	logger *zap.Logger
}

// serveFlags is the flag registry for the serve command.
var serveFlags = config.FlagSet{
	config.FlagListen:       {Name: "listen", Shorthand: "l", ViperKey: "relay.listen", Description: "Address for the relay to listen on"},
	config.FlagProvider:     {Name: "provider", Shorthand: "p", ViperKey: "relay.provider", Description: "LLM provider type (gemini, openai)"},
	config.FlagUpstream:     {Name: "upstream", Shorthand: "u", ViperKey: "relay.upstream", Description: "Upstream LLM provider URL (default: provider's public API)"},
	config.FlagModel:        {Name: "model", Shorthand: "m", ViperKey: "relay.model", Description: "Model for streaming requests (default: provider default)"},
	config.FlagChatModel:    {Name: "chat-model", ViperKey: "relay.chat_model", Description: "Model for the non-streaming /chat endpoint (default: --model)"},
	config.FlagHistoryMode:  {Name: "history-mode", ViperKey: "relay.history_mode", Description: "Messages forwarded upstream: latest or full"},
	config.FlagRelayIdle:    {Name: "idle-timeout", ViperKey: "relay.idle_timeout", Description: "Abort an upstream stream after this long without data"},
	config.FlagEnvironment:  {Name: "environment", ViperKey: "relay.environment", Description: "Environment name reported by /health"},
	config.FlagRateWindow:   {Name: "rate-window", ViperKey: "ratelimit.window", Description: "Rate limit window length"},
	config.FlagRateMax:      {Name: "rate-max", ViperKey: "ratelimit.max_requests", Description: "Requests admitted per client IP per window"},
	config.FlagKafkaBrokers: {Name: "kafka-brokers", ViperKey: "eventstream.kafka_brokers", Description: "Comma-separated Kafka brokers for turn events (default: disabled)"},
	config.FlagKafkaTopic:   {Name: "kafka-topic", ViperKey: "eventstream.kafka_topic", Description: "Kafka topic for turn events"},
}

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagProvider,
	config.FlagUpstream,
	config.FlagModel,
	config.FlagChatModel,
	config.FlagHistoryMode,
	config.FlagRelayIdle,
	config.FlagEnvironment,
	config.FlagRateWindow,
	config.FlagRateMax,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const serveLongDesc string = `Run the chat relay server.

The relay accepts a conversation from a client, streams a completion from the
configured LLM provider, and re-frames the provider's output as server-sent
events on POST /chat-stream. POST /chat returns a single JSON reply and
GET /health reports liveness.

The provider API key is read from the provider's environment variable
(GEMINI_API_KEY, OPENAI_API_KEY) or from credentials stored with
"chatrelay auth". Without a key the relay still starts, but chat requests
fail with a server configuration error.

Flags take precedence over CHATRELAY_* environment variables, which take
precedence over config.toml values.

Examples:
  chatrelay serve
  chatrelay serve --provider openai --history-mode full
  chatrelay serve --kafka-brokers localhost:9092`

const serveShortDesc string = "Run the chat relay server"

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
			cmder.load(v)

			creds, err := credentials.NewManager(configDir)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}
			cmder.apiKey, err = creds.ResolveKey(cmder.providerType)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagProvider, &cmder.providerType)
	config.AddStringFlag(cmd, serveFlags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, serveFlags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, serveFlags, config.FlagChatModel, &cmder.chatModel)
	config.AddStringFlag(cmd, serveFlags, config.FlagHistoryMode, &cmder.historyMode)
	config.AddStringFlag(cmd, serveFlags, config.FlagRelayIdle, &cmder.idleTimeout)
	config.AddStringFlag(cmd, serveFlags, config.FlagEnvironment, &cmder.environment)
	config.AddStringFlag(cmd, serveFlags, config.FlagRateWindow, &cmder.rateWindow)
	config.AddUintFlag(cmd, serveFlags, config.FlagRateMax, &cmder.rateMax)
	config.AddStringFlag(cmd, serveFlags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, serveFlags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	return cmd
}

// load resolves every setting through viper so flags, env vars, and the
// config file apply in precedence order.
func (c *serveCommander) load(v *viper.Viper) {
	c.listen = v.GetString("relay.listen")
	c.providerType = v.GetString("relay.provider")
	c.upstream = v.GetString("relay.upstream")
	c.model = v.GetString("relay.model")
	c.chatModel = v.GetString("relay.chat_model")
	c.historyMode = v.GetString("relay.history_mode")
	c.idleTimeout = v.GetString("relay.idle_timeout")
	c.environment = v.GetString("relay.environment")
	c.rateWindow = v.GetString("ratelimit.window")
	c.rateMax = v.GetUint("ratelimit.max_requests")
	c.kafkaBrokers = v.GetString("eventstream.kafka_brokers")
	c.kafkaTopic = v.GetString("eventstream.kafka_topic")
}

// relayConfig translates the resolved settings into a relay.Config. The
// limiter and publisher are filled in by run.
func (c *serveCommander) relayConfig() (relay.Config, error) {
	idle, err := parseDuration("idle-timeout", c.idleTimeout)
	if err != nil {
		return relay.Config{}, err
	}

	cfg := relay.Config{
		ListenAddr:   c.listen,
		ProviderType: c.providerType,
		UpstreamURL:  c.upstream,
		Model:        c.model,
		ChatModel:    c.chatModel,
		APIKey:       c.apiKey,
		HistoryMode:  relay.HistoryMode(c.historyMode),
		IdleTimeout:  idle,
		Environment:  c.environment,
	}
	if utils.Version != "dev" {
		cfg.Version = utils.Version
	}
	return cfg, nil
}

func (c *serveCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	cfg, err := c.relayConfig()
	if err != nil {
		return err
	}

	window, err := parseDuration("rate-window", c.rateWindow)
	if err != nil {
		return err
	}
	limiter := ratelimit.NewFixedWindow(window, int(c.rateMax))
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go limiter.RunCleanup(limiter.Window(), stopCleanup)
	cfg.Limiter = limiter

	cfg.Publisher, err = c.newPublisher()
	if err != nil {
		return err
	}

	if c.apiKey == "" {
		c.logger.Warn("no API key configured, chat requests will fail until one is set",
			zap.String("provider", c.providerType),
			zap.String("env_var", credentials.EnvVarForProvider(c.providerType)),
		)
	}

	r, err := relay.New(cfg, c.logger)
	if err != nil {
		if cfg.Publisher != nil {
			_ = cfg.Publisher.Close()
		}
		return fmt.Errorf("creating relay: %w", err)
	}
	defer r.Close()

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)

	go func() {
		if err := r.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	}
}

// newPublisher returns a Kafka publisher when brokers are configured, or nil
// to let the relay fall back to its no-op publisher.
func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	brokers := config.EventStreamConfig{KafkaBrokers: c.kafkaBrokers}.Brokers()
	if len(brokers) == 0 {
		return nil, nil
	}

	pub, err := kafka.NewPublisher(kafka.Config{
		Brokers: brokers,
		Topic:   c.kafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	c.logger.Info("publishing turn events to kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", c.kafkaTopic),
	)
	return pub, nil
}

func parseDuration(flag, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", flag, value, err)
	}
	return d, nil
}
