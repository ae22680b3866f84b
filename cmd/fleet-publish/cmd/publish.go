package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bianoble/fleet-publish/internal/engine"
	"github.com/bianoble/fleet-publish/internal/gitops"
	"github.com/bianoble/fleet-publish/internal/platform"
	"github.com/bianoble/fleet-publish/internal/report"
)

// scriptFlags holds the three ways to supply one script.
type scriptFlags struct {
	inline string
	file   string
	path   string
}

func (s *scriptFlags) register(cmd *cobra.Command, name, what string) {
	cmd.Flags().StringVar(&s.inline, name, "", what+" contents")
	cmd.Flags().StringVar(&s.file, name+"-file", "", "local file holding the "+what)
	cmd.Flags().StringVar(&s.path, name+"-path", "", "repository-relative "+what+" path written to the package file")
}

var (
	pubPath             string
	pubTitle            string
	pubVersion          string
	pubPlatform         string
	pubSlug             string
	pubSelfService      bool
	pubAutomaticInstall bool
	pubSetupExperience  bool
	pubLabelsInclude    []string
	pubLabelsExclude    []string
	pubBundleID         string
	pubOutput           string
	pubWorkDir          string

	pubPreInstallQuery   scriptFlags
	pubInstallScript     scriptFlags
	pubUninstallScript   scriptFlags
	pubPostInstallScript scriptFlags
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an installer and record it in the GitOps repository",
	Long: `Uploads the installer to Fleet unless the title version is already there,
mirrors it to the object store when one is configured, writes the package and
team YAML on the shared branch, and opens or reuses the pull request.

With gitops.enabled set to false only the registry and store steps run.
Best-effort failures (labels, reviewer, retention, policy) are printed as
warnings and do not fail the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		artifact, err := artifactFromFlags()
		if err != nil {
			return err
		}
		cfg, clients, logger, err := setup()
		if err != nil {
			return err
		}

		eng := clients.PublishEngine(cfg, pubWorkDir, logger)
		res, err := eng.Publish(cmd.Context(), artifact)
		if err != nil {
			return err
		}
		printResult(res)
		printWarnings(res.Warnings)

		if pubOutput != "" {
			if err := report.Save(pubOutput, res.Outputs()); err != nil {
				return fmt.Errorf("writing outputs: %w", err)
			}
			detail("outputs written to %s", pubOutput)
		}
		return nil
	},
}

// artifactFromFlags builds the artifact from the publish flags.
func artifactFromFlags() (engine.Artifact, error) {
	p, err := platform.Parse(pubPlatform)
	if err != nil {
		return engine.Artifact{}, err
	}
	a := engine.Artifact{
		Path:             pubPath,
		Title:            pubTitle,
		Version:          pubVersion,
		Platform:         p,
		Slug:             pubSlug,
		SelfService:      pubSelfService,
		AutomaticInstall: pubAutomaticInstall,
		SetupExperience:  pubSetupExperience,
		LabelsIncludeAny: pubLabelsInclude,
		LabelsExcludeAny: pubLabelsExclude,
		BundleID:         pubBundleID,
	}
	scripts := []struct {
		name  string
		flags scriptFlags
		dst   *gitops.Script
	}{
		{"pre-install-query", pubPreInstallQuery, &a.PreInstallQuery},
		{"install-script", pubInstallScript, &a.InstallScript},
		{"uninstall-script", pubUninstallScript, &a.UninstallScript},
		{"post-install-script", pubPostInstallScript, &a.PostInstallScript},
	}
	for _, s := range scripts {
		script, err := readScript(s.flags.inline, s.flags.file, s.flags.path)
		if err != nil {
			return engine.Artifact{}, fmt.Errorf("--%s: %w", s.name, err)
		}
		*s.dst = script
	}
	return a, nil
}

func printResult(res *engine.Result) {
	if res.Upload.AlreadyExisted {
		info("%s %s already published", res.Title, res.Version)
	} else {
		info("Published %s %s", res.Title, res.Version)
	}
	if res.Upload.TitleID != nil {
		detail("title id:     %d", *res.Upload.TitleID)
	}
	if res.Upload.InstallerID != nil {
		detail("installer id: %d", *res.Upload.InstallerID)
	}
	detail("sha256:       %s", res.Hash)
	detail("schema:       %s (server %s)", res.Capability.Variant, res.Capability.RawVersion)

	if res.Mirror != nil {
		if res.Mirror.Uploaded {
			info("  mirrored   %s", res.Mirror.Key)
		} else {
			info("  unchanged  %s", res.Mirror.Key)
		}
	}
	if res.Retention != nil {
		for _, v := range res.Retention.Deleted {
			info("  pruned     %s", v)
		}
	}
	if res.PolicyName != "" {
		if res.PolicyCreated {
			info("  policy     %s (created)", res.PolicyName)
		} else {
			info("  policy     %s (updated)", res.PolicyName)
		}
	}

	if res.Summary != "" {
		info("")
		info("%s", res.Summary)
		return
	}
	if res.Branch == "" {
		return
	}
	for _, c := range res.Changes {
		if c.Changed {
			info("  updated    %s", c.Path)
		} else {
			detail("unchanged  %s", c.Path)
		}
	}
	if !res.Committed {
		info("No changes to commit on %s.", res.Branch)
		return
	}
	info("Committed to %s (%s)", res.Branch, res.BranchState)
	if res.PullRequest != nil {
		if res.Reused {
			info("Pull request #%d updated: %s", res.PullRequest.Number, res.PullRequest.HTMLURL)
		} else {
			info("Pull request #%d opened: %s", res.PullRequest.Number, res.PullRequest.HTMLURL)
		}
	}
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&pubPath, "pkg", "", "path to the installer (required)")
	f.StringVar(&pubTitle, "title", "", "software title (required)")
	f.StringVar(&pubVersion, "version", "", "software version (required)")
	f.StringVar(&pubPlatform, "platform", string(platform.Default), "target platform: darwin, windows, linux, ios, ipados")
	f.StringVar(&pubSlug, "slug", "", "package file name; defaults to a slug of the title")
	f.BoolVar(&pubSelfService, "self-service", false, "offer the package in self-service")
	f.BoolVar(&pubAutomaticInstall, "automatic-install", false, "install automatically on hosts missing it (darwin only)")
	f.BoolVar(&pubSetupExperience, "setup-experience", false, "install during setup experience")
	f.StringSliceVar(&pubLabelsInclude, "labels-include-any", nil, "only hosts with any of these labels")
	f.StringSliceVar(&pubLabelsExclude, "labels-exclude-any", nil, "skip hosts with any of these labels")
	f.StringVar(&pubBundleID, "bundle-id", "", "bundle identifier for the auto-update policy")
	f.StringVar(&pubOutput, "output", "", "write run outputs as YAML to this file")
	f.StringVar(&pubWorkDir, "work-dir", os.TempDir(), "where the GitOps repository is cloned")

	pubPreInstallQuery.register(publishCmd, "pre-install-query", "pre-install query")
	pubInstallScript.register(publishCmd, "install-script", "install script")
	pubUninstallScript.register(publishCmd, "uninstall-script", "uninstall script")
	pubPostInstallScript.register(publishCmd, "post-install-script", "post-install script")

	_ = publishCmd.MarkFlagRequired("pkg")
	_ = publishCmd.MarkFlagRequired("title")
	_ = publishCmd.MarkFlagRequired("version")

	rootCmd.AddCommand(publishCmd)
}
