// Package cli wires configuration, the transport, the scrollback cache,
// the dispatcher and the terminal UI into the chime command.
package cli

import (
	"github.com/spf13/cobra"
)

type options struct {
	configFile string
	logLevel   string
	cachePath  string
	demo       bool
}

// Execute runs the chime root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "chime",
		Short:         "chime terminal chat client",
		Long:          "Terminal client for federated chat. Connects, syncs rooms and renders the timeline in the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "config file (default ~/.config/chime/chime.yaml)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level override: debug|info|warn|error")
	cmd.Flags().StringVar(&opts.cachePath, "cache", "", "scrollback cache path override")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "run against a local in-process server with sample rooms")
	return cmd
}
