// Package historycmder provides the history command for browsing and managing
// chats saved by "chatrelay chat".
package historycmder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/config"
	"github.com/papercomputeco/chatrelay/pkg/dotdir"
	"github.com/papercomputeco/chatrelay/pkg/history"
	"github.com/papercomputeco/chatrelay/pkg/history/sqlite"
	"github.com/papercomputeco/chatrelay/pkg/llm"
)

const historyLongDesc string = `Browse and manage saved chats.

Chats are saved by "chatrelay chat" to the history database in the
.chatrelay/ directory, or to history.sqlite_path when configured.

Examples:
  chatrelay history list
  chatrelay history show <id>
  chatrelay history show <id> --markdown
  chatrelay history delete <id>
  chatrelay history clear`

const historyShortDesc string = "Browse and manage saved chats"

// historyCommander holds the state shared by the history subcommands.
type historyCommander struct {
	sqlitePath string
	out        io.Writer
}

func NewHistoryCmd() *cobra.Command {
	return newHistoryCmd(&historyCommander{out: os.Stdout})
}

func newHistoryCmd(cmder *historyCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: historyShortDesc,
		Long:  historyLongDesc,
	}

	cmd.PersistentFlags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to the chat history database (default: .chatrelay/history.db)")

	cmd.AddCommand(cmder.newListCmd())
	cmd.AddCommand(cmder.newShowCmd())
	cmd.AddCommand(cmder.newDeleteCmd())
	cmd.AddCommand(cmder.newClearCmd())

	return cmd
}

func (h *historyCommander) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.withStore(cmd, func(ctx context.Context, store history.Store) error {
				summaries, err := store.List(ctx)
				if err != nil {
					return err
				}

				if len(summaries) == 0 {
					fmt.Fprintf(h.out, "\n  %s No saved chats.\n\n", cliui.DimStyle.Render("●"))
					return nil
				}

				fmt.Fprintf(h.out, "\n  %s\n\n", cliui.HeaderStyle.Render("Saved chats"))
				for _, s := range summaries {
					fmt.Fprintf(h.out, "  %s  %s  %s\n",
						cliui.DimStyle.Render(s.ID),
						cliui.NameStyle.Render(s.Title),
						cliui.DimStyle.Render(fmt.Sprintf("%d messages, %s", s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))),
					)
				}
				fmt.Fprintln(h.out)
				return nil
			})
		},
	}
}

func (h *historyCommander) newShowCmd() *cobra.Command {
	var markdown bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return h.withStore(cmd, func(ctx context.Context, store history.Store) error {
				chat, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}

				fmt.Fprintf(h.out, "\n  %s %s\n\n",
					cliui.HeaderStyle.Render(chat.Title),
					cliui.DimStyle.Render("("+chat.ID+")"),
				)
				for _, m := range chat.Messages {
					h.printMessage(m, markdown)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&markdown, "markdown", false, "Render assistant replies as markdown")

	return cmd
}

func (h *historyCommander) printMessage(m history.Message, markdown bool) {
	prompt := cliui.UserPrompt
	content := m.Content
	if m.Role == llm.RoleAssistant {
		prompt = cliui.AssistantPrompt
		if markdown {
			// RenderMarkdown falls back to the raw content on error.
			content, _ = cliui.RenderMarkdown(content)
		}
	}
	fmt.Fprintf(h.out, "%s%s\n\n", prompt, content)
}

func (h *historyCommander) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return h.withStore(cmd, func(ctx context.Context, store history.Store) error {
				if err := store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(h.out, "\n  %s Deleted %s\n\n", cliui.SuccessMark, cliui.NameStyle.Render(args[0]))
				return nil
			})
		},
	}
}

func (h *historyCommander) newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.withStore(cmd, func(ctx context.Context, store history.Store) error {
				fmt.Fprintln(h.out)
				err := cliui.Step(h.out, "Clearing chat history", func() error {
					return store.Clear(ctx)
				})
				fmt.Fprintln(h.out)
				return err
			})
		},
	}
}

// withStore opens the history database resolved from --sqlite, the config,
// or the .chatrelay/ directory, and closes it after fn.
func (h *historyCommander) withStore(cmd *cobra.Command, fn func(context.Context, history.Store) error) error {
	configDir, _ := cmd.Flags().GetString("config-dir")

	path := h.sqlitePath
	if path == "" {
		cfger, err := config.NewConfiger(configDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg, err := cfger.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		path = cfg.History.SQLitePath
	}
	if path == "" {
		var err error
		path, err = dotdir.NewManager().HistoryPath(configDir)
		if err != nil {
			return fmt.Errorf("resolving history path: %w", err)
		}
	}

	store, err := sqlite.NewStore(path)
	if err != nil {
		return fmt.Errorf("opening chat history: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, store)
}
