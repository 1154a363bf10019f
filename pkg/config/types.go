package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent chatrelay configuration stored as
// config.toml in the .chatrelay/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Relay       RelayConfig       `toml:"relay"`
	RateLimit   RateLimitConfig   `toml:"ratelimit"`
	Client      ClientConfig      `toml:"client"`
	History     HistoryConfig     `toml:"history"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// RelayConfig holds relay server settings.
type RelayConfig struct {
	Listen      string `toml:"listen,omitempty"`
	Provider    string `toml:"provider,omitempty"`
	Upstream    string `toml:"upstream,omitempty"`
	Model       string `toml:"model,omitempty"`
	ChatModel   string `toml:"chat_model,omitempty"`
	HistoryMode string `toml:"history_mode,omitempty"`

	// IdleTimeout is a Go duration string (e.g. "60s").
	IdleTimeout string `toml:"idle_timeout,omitempty"`

	Environment string `toml:"environment,omitempty"`
}

// RateLimitConfig holds the per-IP admission budget.
type RateLimitConfig struct {
	Window      string `toml:"window,omitempty"`
	MaxRequests uint   `toml:"max_requests,omitempty"`
}

// ClientConfig holds settings for "chatrelay chat", which connects to a
// running relay. RelayTarget is a full URL (scheme + host + port).
type ClientConfig struct {
	RelayTarget string `toml:"relay_target,omitempty"`
	IdleTimeout string `toml:"idle_timeout,omitempty"`
}

// HistoryConfig holds the local chat history store settings. An empty
// SQLitePath selects history.db inside the .chatrelay/ directory.
type HistoryConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// EventStreamConfig holds turn event publishing settings. Publishing is off
// when no brokers are configured.
type EventStreamConfig struct {
	KafkaBrokers string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string `toml:"kafka_topic,omitempty"`
}

// Brokers splits the comma-separated broker list.
func (e EventStreamConfig) Brokers() []string {
	var brokers []string
	for b := range strings.SplitSeq(e.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = v
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"relay.listen":      stringKey(func(c *Config) *string { return &c.Relay.Listen }),
	"relay.provider":    stringKey(func(c *Config) *string { return &c.Relay.Provider }),
	"relay.upstream":    stringKey(func(c *Config) *string { return &c.Relay.Upstream }),
	"relay.model":       stringKey(func(c *Config) *string { return &c.Relay.Model }),
	"relay.chat_model":  stringKey(func(c *Config) *string { return &c.Relay.ChatModel }),
	"relay.environment": stringKey(func(c *Config) *string { return &c.Relay.Environment }),
	"relay.history_mode": {
		get: func(c *Config) string { return c.Relay.HistoryMode },
		set: func(c *Config, v string) error {
			if v != "latest" && v != "full" {
				return fmt.Errorf("invalid value for relay.history_mode: %q (expected latest or full)", v)
			}
			c.Relay.HistoryMode = v
			return nil
		},
	},
	"relay.idle_timeout": durationKey("relay.idle_timeout", func(c *Config) *string { return &c.Relay.IdleTimeout }),

	"ratelimit.window": durationKey("ratelimit.window", func(c *Config) *string { return &c.RateLimit.Window }),
	"ratelimit.max_requests": {
		get: func(c *Config) string {
			if c.RateLimit.MaxRequests == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.RateLimit.MaxRequests), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for ratelimit.max_requests: %w", err)
			}
			c.RateLimit.MaxRequests = uint(n)
			return nil
		},
	},

	"client.relay_target": stringKey(func(c *Config) *string { return &c.Client.RelayTarget }),
	"client.idle_timeout": durationKey("client.idle_timeout", func(c *Config) *string { return &c.Client.IdleTimeout }),

	"history.sqlite_path": stringKey(func(c *Config) *string { return &c.History.SQLitePath }),

	"eventstream.kafka_brokers": stringKey(func(c *Config) *string { return &c.EventStream.KafkaBrokers }),
	"eventstream.kafka_topic":   stringKey(func(c *Config) *string { return &c.EventStream.KafkaTopic }),
}

// orderedKeys is the display order of configKeys, matching the TOML layout.
var orderedKeys = []string{
	"relay.listen",
	"relay.provider",
	"relay.upstream",
	"relay.model",
	"relay.chat_model",
	"relay.history_mode",
	"relay.idle_timeout",
	"relay.environment",
	"ratelimit.window",
	"ratelimit.max_requests",
	"client.relay_target",
	"client.idle_timeout",
	"history.sqlite_path",
	"eventstream.kafka_brokers",
	"eventstream.kafka_topic",
}
