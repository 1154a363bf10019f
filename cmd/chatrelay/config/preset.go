package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/config"
)

const presetLongDesc string = `Write a provider preset to config.toml.

A preset fills the relay provider, upstream, and model settings for a
supported provider. All other keys keep their defaults. The existing
config file is replaced.

Examples:
  chatrelay config preset gemini
  chatrelay config preset openai`

func newPresetCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "preset <name>",
		Short:     "Write a provider preset",
		Long:      presetLongDesc,
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.ValidPresetNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runPreset(cmd.OutOrStdout(), args[0], configDir)
		},
	}
}

func runPreset(out io.Writer, name, configDir string) error {
	cfg, err := config.PresetConfig(name)
	if err != nil {
		return err
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Fprintln(out)
	err = cliui.Step(out, fmt.Sprintf("Writing %s preset", cliui.NameStyle.Render(strings.ToLower(name))), func() error {
		return cfger.SaveConfig(cfg)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "  %s\n\n", cliui.DimStyle.Render(cfger.GetTarget()))
	return nil
}
