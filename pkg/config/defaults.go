package config

const (
	defaultProvider    = "gemini"
	defaultRelayListen = ":8080"
	defaultHistoryMode = "latest"
	defaultIdleTimeout = "60s"
	defaultEnvironment = "development"

	defaultRateWindow      = "60s"
	defaultRateMaxRequests = 20

	defaultClientRelayTarget = "http://localhost:8080"

	defaultKafkaTopic = "chatrelay.turns"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. An empty upstream or
// model selects the provider's own default.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Relay: RelayConfig{
			Listen:      defaultRelayListen,
			Provider:    defaultProvider,
			HistoryMode: defaultHistoryMode,
			IdleTimeout: defaultIdleTimeout,
			Environment: defaultEnvironment,
		},
		RateLimit: RateLimitConfig{
			Window:      defaultRateWindow,
			MaxRequests: defaultRateMaxRequests,
		},
		Client: ClientConfig{
			RelayTarget: defaultClientRelayTarget,
			IdleTimeout: defaultIdleTimeout,
		},
		EventStream: EventStreamConfig{
			KafkaTopic: defaultKafkaTopic,
		},
	}
}
