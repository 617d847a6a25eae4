package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var apiFlag string
	var configFlag string
	var outputFlag string

	ctx := newCommandContext(&apiFlag, &configFlag, &outputFlag)

	rootCmd := &cobra.Command{
		Use:           "traces",
		Short:         "Trace asset service CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(outputFlag); err != nil {
				return err
			}
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Daemon API address (defaults to paths.api_bind)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&outputFlag, "output", outputText, "Output format: text, json, or yaml")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newUnitCommand(ctx))
	rootCmd.AddCommand(newAnnotatedCommand(ctx))
	rootCmd.AddCommand(newMixCommand(ctx))

	return rootCmd
}
