// Package chatcmder provides the chat command for interactive LLM chat
// through the chatrelay relay.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/client"
	"github.com/papercomputeco/chatrelay/pkg/config"
	"github.com/papercomputeco/chatrelay/pkg/conversation"
	"github.com/papercomputeco/chatrelay/pkg/dotdir"
	"github.com/papercomputeco/chatrelay/pkg/history"
	"github.com/papercomputeco/chatrelay/pkg/history/inmemory"
	"github.com/papercomputeco/chatrelay/pkg/history/sqlite"
	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/utils"
)

type chatCommander struct {
	relayTarget string
	idleTimeout string
	sqlitePath  string
	resume      string
	markdown    bool
	noHistory   bool
	noStream    bool
	debug       bool
	configDir   string

	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

var chatFlags = config.FlagSet{
	config.FlagRelayTarget: {Name: "relay-target", Shorthand: "r", ViperKey: "client.relay_target", Description: "Chatrelay relay URL"},
	config.FlagClientIdle:  {Name: "idle-timeout", ViperKey: "client.idle_timeout", Description: "Abort a reply after this long without data from the relay"},
	config.FlagSQLite:      {Name: "sqlite", Shorthand: "s", ViperKey: "history.sqlite_path", Description: "Path to the chat history database (default: .chatrelay/history.db)"},
}

var chatFlagKeys = []string{
	config.FlagRelayTarget,
	config.FlagClientIdle,
	config.FlagSQLite,
}

const chatLongDesc string = `Start an interactive chat session through the chatrelay relay.

Replies stream in as the relay produces them. Press Ctrl+C while a reply is
streaming to stop it; the partial reply is discarded. With --no-stream the
relay's /chat endpoint is used and each reply arrives whole. Chats are saved
to the local history database after every exchange and can be resumed with
--resume.

Commands:
  /retry            Re-send the last failed or stopped message
  /edit [n] <text>  Send <text> in place of message n (default: your last)
  /list             Show the messages of this chat
  /new              Start a new chat
  /help             Show these commands
  /exit             Quit (Ctrl+D also quits)

Examples:
  chatrelay chat
  chatrelay chat --relay-target http://relay.internal:8080
  chatrelay chat --resume 6f1c2a4e-...
  chatrelay chat --markdown`

const chatShortDesc string = "Interactive LLM chat through the relay"

const chatHelp = `/retry  /edit [n] <text>  /list  /new  /help  /exit`

func NewChatCmd() *cobra.Command {
	return newChatCmd(&chatCommander{in: os.Stdin, out: os.Stdout})
}

func newChatCmd(cmder *chatCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, chatFlags, chatFlagKeys)
			cmder.load(v)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, chatFlags, config.FlagRelayTarget, &cmder.relayTarget)
	config.AddStringFlag(cmd, chatFlags, config.FlagClientIdle, &cmder.idleTimeout)
	config.AddStringFlag(cmd, chatFlags, config.FlagSQLite, &cmder.sqlitePath)
	cmd.Flags().StringVar(&cmder.resume, "resume", "", "Resume the saved chat with this id")
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Render replies as markdown once complete")
	cmd.Flags().BoolVar(&cmder.noHistory, "no-history", false, "Keep the chat in memory only")
	cmd.Flags().BoolVar(&cmder.noStream, "no-stream", false, "Wait for each reply instead of streaming it")

	return cmd
}

func (c *chatCommander) load(v *viper.Viper) {
	c.relayTarget = v.GetString("client.relay_target")
	c.idleTimeout = v.GetString("client.idle_timeout")
	c.sqlitePath = v.GetString("history.sqlite_path")
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger = logger.NewLoggerWithWriters(c.debug, os.Stderr)
	defer func() { _ = c.logger.Sync() }()

	var idle time.Duration
	if c.idleTimeout != "" {
		var err error
		idle, err = time.ParseDuration(c.idleTimeout)
		if err != nil {
			return fmt.Errorf("invalid --idle-timeout %q: %w", c.idleTimeout, err)
		}
	}

	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var resumed *history.Chat
	if c.resume != "" {
		resumed, err = store.Get(ctx, c.resume)
		if err != nil {
			return fmt.Errorf("loading chat: %w", err)
		}
	}

	clientCfg := client.Config{
		RelayURL:    c.relayTarget,
		IdleTimeout: idle,
	}
	factory := conversation.ConsumerFactory(clientCfg, client.WithLogger(c.logger))
	if c.noStream {
		factory = conversation.ChatFactory(clientCfg, client.WithLogger(c.logger))
	}

	conv := conversation.New(factory,
		conversation.WithStore(store),
		conversation.WithChat(resumed),
		conversation.WithLogger(c.logger),
		conversation.WithChunkObserver(c.printChunk),
	)

	fmt.Fprintln(c.out)
	if resumed != nil {
		fmt.Fprintf(c.out, "  %s Resuming %s %s\n",
			cliui.SuccessMark,
			cliui.NameStyle.Render(resumed.Title),
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(resumed.Messages))),
		)
	} else {
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}
	fmt.Fprintf(c.out, "  %s %s\n\n",
		cliui.KeyStyle.Render("Relay:"),
		cliui.NameStyle.Render(c.relayTarget),
	)
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. Ctrl+C stops a reply. /help lists commands."))

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(c.out, cliui.UserPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := c.command(ctx, conv, input); quit {
				break
			}
			continue
		}

		c.exchange(ctx, conv, func(ctx context.Context) error {
			return conv.Send(ctx, input)
		})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if len(conv.Messages()) > 0 && !c.noHistory {
		fmt.Fprintf(c.out, "\n  %s %s\n",
			cliui.KeyStyle.Render("Saved as"),
			cliui.DimStyle.Render(conv.ID()),
		)
	}
	fmt.Fprintln(c.out)
	return nil
}

// command runs a slash command and reports whether the session should end.
func (c *chatCommander) command(ctx context.Context, conv *conversation.Conversation, input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render(chatHelp))

	case "/new":
		conv.Reset()
		fmt.Fprintf(c.out, "  %s New conversation\n\n", cliui.DimStyle.Render("●"))

	case "/retry":
		c.exchange(ctx, conv, conv.Retry)

	case "/list":
		c.printMessages(conv.Messages())

	case "/edit":
		index, text := editArgs(conv.Messages(), arg)
		if text == "" {
			fmt.Fprintf(c.out, "  %s usage: /edit [n] <text>\n\n", cliui.FailMark)
			return false
		}
		c.exchange(ctx, conv, func(ctx context.Context) error {
			return conv.Edit(ctx, index, text)
		})

	default:
		fmt.Fprintf(c.out, "  %s unknown command %s\n  %s\n\n",
			cliui.FailMark,
			cliui.NameStyle.Render(name),
			cliui.DimStyle.Render(chatHelp),
		)
	}
	return false
}

// exchange runs send while printing the streamed reply. An interrupt stops
// the reply instead of killing the process.
func (c *chatCommander) exchange(ctx context.Context, conv *conversation.Conversation, send func(context.Context) error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)

	fmt.Fprint(c.out, cliui.AssistantPrompt)

	done := make(chan error, 1)
	go func() {
		done <- send(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-sigChan:
		conv.Stop()
		err = <-done
	}

	c.report(conv, err)
}

func (c *chatCommander) report(conv *conversation.Conversation, err error) {
	var clientErr *client.Error
	if err != nil && !errors.As(err, &clientErr) {
		fmt.Fprintf(c.out, "\n  %s %v\n\n", cliui.FailMark, err)
		return
	}

	switch {
	case conv.Stopped():
		fmt.Fprintf(c.out, "\n  %s\n\n", cliui.DimStyle.Render("(stopped, /retry to send again)"))

	case conv.LastError() != nil:
		info := conv.LastError()
		fmt.Fprintf(c.out, "\n  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(info.Message))
		if info.Retryable {
			fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render("/retry to try again"))
		}
		fmt.Fprintln(c.out)

	default:
		if c.markdown {
			c.printMarkdown(conv)
		}
		fmt.Fprint(c.out, "\n\n")
	}
}

func (c *chatCommander) printChunk(text string) {
	if c.markdown {
		return
	}
	fmt.Fprint(c.out, text)
}

func (c *chatCommander) printMarkdown(conv *conversation.Conversation) {
	msgs := conv.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != llm.RoleAssistant {
		return
	}

	rendered, err := cliui.RenderMarkdown(msgs[len(msgs)-1].Content)
	if err != nil {
		c.logger.Debug("markdown rendering failed", zap.Error(err))
	}
	fmt.Fprint(c.out, "\n"+strings.TrimRight(rendered, "\n"))
}

func (c *chatCommander) openStore() (history.Store, error) {
	if c.noHistory {
		return inmemory.NewStore(), nil
	}

	path := c.sqlitePath
	if path == "" {
		var err error
		path, err = dotdir.NewManager().HistoryPath(c.configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving history path: %w", err)
		}
	}

	store, err := sqlite.NewStore(path, sqlite.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("opening chat history: %w", err)
	}
	c.logger.Debug("using SQLite chat history", zap.String("path", path))
	return store, nil
}

func (c *chatCommander) printMessages(msgs []history.Message) {
	if len(msgs) == 0 {
		fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("No messages yet."))
		return
	}
	for i, m := range msgs {
		fmt.Fprintf(c.out, "  %s %s %s\n",
			cliui.DimStyle.Render(fmt.Sprintf("%3d", i)),
			cliui.KeyStyle.Render(string(m.Role)),
			utils.Truncate(strings.ReplaceAll(m.Content, "\n", " "), 60),
		)
	}
	fmt.Fprintln(c.out)
}

// editArgs splits "/edit" arguments into a message index and the new text.
// Without a leading index the latest user message is edited.
func editArgs(msgs []history.Message, arg string) (int, string) {
	first, rest, _ := strings.Cut(arg, " ")
	if n, err := strconv.Atoi(first); err == nil {
		return n, strings.TrimSpace(rest)
	}
	return lastUserIndex(msgs), arg
}

func lastUserIndex(msgs []history.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return i
		}
	}
	return -1
}
