package cmd

import (
	"errors"
	"fmt"

	"github.com/ktr0731/go-fuzzyfinder"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/renatogalera/chatstream/pkg/config"
)

// NewModelsCmd creates the "models" command.
func NewModelsCmd(setup Setup) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Pick the default model from the configured presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			models := cfg.Models
			if len(models) == 0 {
				models = config.DefaultModels
			}
			if list {
				for _, m := range models {
					marker := "  "
					if m == cfg.Model {
						marker = "* "
					}
					fmt.Fprintln(cmd.OutOrStdout(), marker+m)
				}
				return nil
			}

			idx, err := fuzzyfinder.Find(
				models,
				func(i int) string { return models[i] },
				fuzzyfinder.WithPromptString("Select a model> "),
			)
			if errors.Is(err, fuzzyfinder.ErrAbort) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fuzzyfinder error: %w", err)
			}

			cfg.Model = models[idx]
			if err := cfg.Save(); err != nil {
				return err
			}
			log.Info().Str("model", cfg.Model).Str("config", cfg.Path()).Msg("Default model updated")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "Print the presets instead of opening the picker")
	return cmd
}
