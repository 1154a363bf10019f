// Package configcmder provides the config command for managing persistent
// chatrelay configuration stored in the .chatrelay/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent chatrelay configuration.

Configuration is stored as config.toml in the .chatrelay/ directory and provides
default values for command flags. CLI flags and CHATRELAY_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  relay.listen, relay.provider, relay.upstream, relay.model,
  relay.chat_model, relay.history_mode, relay.idle_timeout, relay.environment,
  ratelimit.window, ratelimit.max_requests,
  client.relay_target, client.idle_timeout,
  history.sqlite_path,
  eventstream.kafka_brokers, eventstream.kafka_topic

Use subcommands to get, set, or list configuration values:
  chatrelay config set <key> <value>    Set a configuration value
  chatrelay config get <key>            Get a configuration value
  chatrelay config list                 List all configuration values
  chatrelay config preset <name>        Write a provider preset

Examples:
  chatrelay config set relay.provider openai
  chatrelay config set relay.history_mode full
  chatrelay config get relay.provider
  chatrelay config list`

const configShortDesc string = "Manage persistent chatrelay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newPresetCmd())

	return cmd
}
