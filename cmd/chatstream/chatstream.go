package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/renatogalera/chatstream/pkg/cmd"
	"github.com/renatogalera/chatstream/pkg/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("chatstream failed")
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		cfg        *config.Config
	)

	setup := func(*cobra.Command) (*config.Config, error) {
		if cfg != nil {
			return cfg, nil
		}
		var err error
		if configPath != "" {
			cfg, err = config.LoadOrCreateConfigAt(configPath)
		} else {
			cfg, err = config.LoadOrCreateConfig()
		}
		return cfg, err
	}

	root := &cobra.Command{
		Use:   "chatstream",
		Short: "Stream chat completions from an OpenAI-compatible endpoint",
		Long: `chatstream decodes server-sent event streams from chat completion
endpoints into text, reassembling streamed function calls along the way.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			level := logLevel
			if level == "" {
				if c.Name() == "replay" || c.Name() == "serve" {
					level = config.DefaultLogLevel
				} else {
					loaded, err := setup(c)
					if err != nil {
						return err
					}
					level = loaded.LogLevel
				}
			}
			return setLogLevel(level)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/chatstream/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	root.AddCommand(
		cmd.NewChatCmd(setup),
		cmd.NewReplayCmd(),
		cmd.NewServeCmd(),
		cmd.NewModelsCmd(setup),
	)
	return root
}

func setLogLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		level = config.DefaultLogLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
