// Command tracesd runs the trace asset daemon: the HTTP API plus the mix
// generation workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"traceapi/internal/config"
	"traceapi/internal/daemonrun"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:           "tracesd",
		Short:         "Trace asset daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Enable development logging output")
	return cmd
}
