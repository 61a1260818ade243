package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/renatogalera/chatstream/pkg/chat"
	"github.com/renatogalera/chatstream/pkg/config"
	"github.com/renatogalera/chatstream/pkg/openai"
	"github.com/renatogalera/chatstream/pkg/plugin"
	"github.com/renatogalera/chatstream/pkg/prompt"
	"github.com/renatogalera/chatstream/pkg/stream"
	"github.com/renatogalera/chatstream/pkg/ui"
)

type chatFlags struct {
	model        string
	apiKey       string
	baseURL      string
	maxTokens    int
	temperature  float64
	systemPrompt string
	tui          bool
	quiet        bool
}

// NewChatCmd creates the "chat" command.
func NewChatCmd(setup Setup) *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Stream a chat completion, or start an interactive session",
		Long: `Sends the message to the configured OpenAI-compatible endpoint and prints
the reply as it streams. Without a message, reads one message per line from
stdin until EOF or /exit; /reset clears the conversation.

Function calls requested by the model are sent to the configured plugin
server and the result is fed back to the model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, args, setup, &f)
		},
	}
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model to use")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (or set "+openai.APIKeyEnv+")")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "OpenAI-compatible base URL")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens in the reply")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "Sampling temperature (0-2)")
	cmd.Flags().StringVar(&f.systemPrompt, "system-prompt", "", "System prompt template ({MODEL} and {DATE} are expanded)")
	cmd.Flags().BoolVar(&f.tui, "tui", false, "Render the reply in a terminal UI")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print stats after each reply")
	return cmd
}

// mergeChatFlags applies the flags the user set over the file config.
func mergeChatFlags(cmd *cobra.Command, cfg *config.Config, f *chatFlags) *config.Config {
	cm := config.NewConfigManager(cfg)
	set := func(flag, key string, value any) {
		if cmd.Flags().Changed(flag) {
			cm.RegisterFlag(key, value)
		}
	}
	set("model", "model", f.model)
	set("base-url", "baseURL", f.baseURL)
	set("max-tokens", "maxTokens", f.maxTokens)
	set("temperature", "temperature", f.temperature)
	set("system-prompt", "systemPrompt", f.systemPrompt)
	return cm.MergeConfiguration()
}

func runChat(cmd *cobra.Command, args []string, setup Setup, f *chatFlags) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg = mergeChatFlags(cmd, cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}
	apiKey, err := config.ResolveAPIKey(f.apiKey, openai.APIKeyEnv, cfg.APIKey)
	if err != nil {
		return err
	}

	client := openai.NewClient(apiKey, openai.WithBaseURL(cfg.BaseURL))
	message := strings.TrimSpace(strings.Join(args, " "))
	if f.tui && message == "" {
		return fmt.Errorf("--tui needs a message")
	}

	session, err := newSession(cmd, client, cfg)
	if err != nil {
		return err
	}
	if message == "" {
		return repl(cmd.Context(), cmd, session, f.quiet)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if f.tui {
		return runChatTUI(ctx, client, cfg, message)
	}
	return sendAndPrint(ctx, cmd, session, message, f.quiet)
}

func newSession(cmd *cobra.Command, client chat.Streamer, cfg *config.Config) (*chat.Session, error) {
	reg := plugin.NewRegistry()
	for _, fn := range cfg.Functions {
		def := openai.Function{Name: fn.Name, Description: fn.Description, Parameters: fn.Parameters}
		if err := reg.Register(def, fn.Endpoint); err != nil {
			return nil, err
		}
	}
	var executor chat.Caller
	if cfg.PluginServerURL != "" {
		executor = plugin.NewExecutor(cfg.PluginServerURL, nil)
	}

	errOut := cmd.ErrOrStderr()
	return chat.NewSession(client, chat.SessionConfig{
		Model:            cfg.Model,
		SystemPrompt:     cfg.SystemPrompt,
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		MaxFunctionCalls: cfg.MaxFunctionCalls,
		Registry:         reg,
		Executor:         executor,
		OnFunctionCall: func(fc chat.FunctionCall, known bool) {
			label := "calling " + fc.Name
			if !known {
				label = "unknown function " + fc.Name
			}
			fmt.Fprintf(errOut, "\n%s %s\n", functionStyle.Render("ƒ "+label), fc.Arguments)
		},
	}), nil
}

func sendAndPrint(ctx context.Context, cmd *cobra.Command, session *chat.Session, message string, quiet bool) error {
	out := cmd.OutOrStdout()
	stats := newStreamStats()
	_, err := session.Send(ctx, message, &stream.Callbacks{
		OnToken: func(_ context.Context, token string) error {
			stats.add(token)
			_, werr := io.WriteString(out, token)
			return werr
		},
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), statsStyle.Render("(stopped)"))
	}
	if !quiet {
		fmt.Fprintln(cmd.ErrOrStderr(), statsStyle.Render(stats.String()))
	}
	return nil
}

func repl(ctx context.Context, cmd *cobra.Command, session *chat.Session, quiet bool) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(cmd.ErrOrStderr(), functionStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(cmd.ErrOrStderr())
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			session.Reset()
			log.Info().Str("session", session.ID()).Msg("Conversation cleared")
			continue
		}

		// Each message gets its own interrupt scope so ctrl+c stops the
		// reply without leaving the session.
		msgCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := sendAndPrint(msgCtx, cmd, session, line, quiet)
		stop()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Error: "+err.Error()))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func runChatTUI(ctx context.Context, client *openai.Client, cfg *config.Config, message string) error {
	st, err := client.Stream(ctx, openai.ChatRequest{
		Model: cfg.Model,
		Messages: []openai.Message{
			{Role: openai.RoleSystem, Content: prompt.BuildSystemPrompt(cfg.SystemPrompt, cfg.Model, time.Now())},
			{Role: openai.RoleUser, Content: message},
		},
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, nil)
	if err != nil {
		return err
	}
	_, err = ui.Run(ui.NewModel(st, cfg.Model, message))
	return err
}
