package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the daedalus command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:           "daedalus",
		Short:         "Daedalus executes node graphs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default $DAEDALUS_LOG_LEVEL or warn)")
	rootCmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")

	rootCmd.AddCommand(
		NewRunCmd(opts),
		NewPlanCmd(opts),
		NewKindsCmd(opts),
	)
	return rootCmd
}
