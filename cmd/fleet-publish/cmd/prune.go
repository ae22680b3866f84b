package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/fleet-publish/internal/engine"
)

var (
	pruneTitle  string
	pruneRetain int
	pruneDryRun bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old mirrored versions of a title",
	Long: `Lists the title's objects in the store, keeps the newest --retain versions
and deletes the rest. The only remaining version is never deleted.
Use --dry-run to see what would be removed without acting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, clients, logger, err := setup()
		if err != nil {
			return err
		}
		if clients.Store == nil {
			return errors.New("store is not enabled in the configuration")
		}

		retain := pruneRetain
		if !cmd.Flags().Changed("retain") {
			retain = cfg.Store.RetainCount()
		}

		eng := &engine.PruneEngine{Store: clients.Store, Prefix: cfg.Store.Prefix, Logger: logger}
		res, err := eng.Prune(cmd.Context(), pruneTitle, engine.PruneOptions{Retain: retain, DryRun: pruneDryRun})
		if err != nil {
			return err
		}

		if pruneDryRun {
			info("Dry run — nothing deleted.")
		}
		for _, v := range res.Kept {
			detail("keep    %s", v)
		}
		if len(res.Deleted) == 0 {
			info("Nothing to prune.")
		}
		for _, v := range res.Deleted {
			info("  delete  %s", v)
		}

		if len(res.Failures) > 0 {
			for _, f := range res.Failures {
				errorf("%s: %v", f.Key, f.Err)
			}
			return fmt.Errorf("%d error(s) during prune", len(res.Failures))
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneTitle, "title", "", "software title (required)")
	pruneCmd.Flags().IntVar(&pruneRetain, "retain", 0, "versions to keep (default: store.retain)")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be deleted without acting")
	_ = pruneCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(pruneCmd)
}
