package main

import (
	"github.com/spf13/cobra"

	"traceapi/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trace daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Enable development logging output")
	return cmd
}
