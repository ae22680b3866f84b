package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/fleet-publish/internal/engine"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report the Fleet server version and GitOps schema variant",
	Long: `Queries the Fleet server version and decides which GitOps schema variant
publish would write. Exit 0 if the server is supported; exit non-zero if it is
older than registry.minimum_version. Suitable for CI pipelines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, clients, logger, err := setup()
		if err != nil {
			return err
		}

		eng := &engine.CheckEngine{
			Registry: clients.Registry,
			Minimum:  cfg.Registry.MinimumVersion,
			Logger:   logger,
		}
		res, err := eng.Check(cmd.Context())
		if err != nil {
			return err
		}

		if !res.Supported {
			return fmt.Errorf("check failed: %s", res.Reason)
		}
		info("Fleet %s (schema %s)", res.Capability.RawVersion, res.Capability.Variant)
		if res.Capability.Fallback {
			warnf("server version unavailable; assumed minimum %s", res.Minimum)
		}
		detail("minimum supported: %s", res.Minimum)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
