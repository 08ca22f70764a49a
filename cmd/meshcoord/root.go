package main

import (
	"github.com/fatih/color"
	"github.com/hupe1980/meshcoord/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootFlags struct {
	configPath string
	noColor    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "meshcoord",
		Short:         "Hierarchical session and multi-agent coordination engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ./meshcoord.{toml,yaml,json})")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

func (f *rootFlags) load() (config.Config, error) {
	return config.Load(viper.New(), f.configPath)
}
