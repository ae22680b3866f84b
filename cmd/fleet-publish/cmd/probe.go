package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bianoble/fleet-publish/internal/engine"
)

var (
	probeTitle   string
	probeVersion string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether a title version is already published",
	Long: `Searches the team's software titles for --title and reports whether
--version is already present. Exit 0 either way; a failed lookup exits non-zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, clients, logger, err := setup()
		if err != nil {
			return err
		}

		eng := &engine.ProbeEngine{Registry: clients.Registry, Logger: logger}
		res, err := eng.Probe(cmd.Context(), probeTitle, probeVersion)
		if err != nil {
			return err
		}

		if res.Existing == nil {
			info("%s %s is not published", res.Title, res.Version)
			return nil
		}
		info("%s %s is published as %q", res.Title, res.Version, res.Existing.MatchedName)
		if res.Existing.TitleID != nil {
			detail("title id: %d", *res.Existing.TitleID)
		}
		if res.Existing.Hash != "" {
			detail("sha256:   %s", res.Existing.Hash)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeTitle, "title", "", "software title (required)")
	probeCmd.Flags().StringVar(&probeVersion, "version", "", "software version (required)")
	_ = probeCmd.MarkFlagRequired("title")
	_ = probeCmd.MarkFlagRequired("version")
	rootCmd.AddCommand(probeCmd)
}
