// Package chatrelaycmder
package chatrelaycmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/auth"
	chatcmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/chat"
	configcmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/config"
	historycmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/history"
	servecmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/serve"
	versioncmder "github.com/papercomputeco/chatrelay/cmd/version"
)

const chatrelayLongDesc string = `Chatrelay streams LLM chat completions to clients over server-sent events.

Run the relay and talk to it using:
  chatrelay serve      Run the relay server
  chatrelay chat       Start an interactive chat through the relay
  chatrelay history    Browse and manage saved chats`

const chatrelayShortDesc string = "Chatrelay - Streaming LLM Chat Relay"

func NewChatrelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatrelay",
		Short:        chatrelayShortDesc,
		Long:         chatrelayLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .chatrelay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(historycmder.NewHistoryCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
