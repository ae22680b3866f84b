package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

// initTemplate is the default fleet-publish.yaml scaffold. Credentials are
// left to the environment.
const initTemplate = `# fleet-publish configuration
# Docs: https://github.com/bianoble/fleet-publish
version: 1

registry:
  url: https://fleet.example.com
  team_id: 1
  # token: set FLEET_API_TOKEN instead of committing it
  # minimum_version: 4.74.0
  # timeout: 30s
  # upload_timeout: 15m

gitops:
  repo_url: https://github.com/your-org/fleet-gitops.git
  base_branch: main
  team_yaml_path: teams/workstations.yml
  # enabled: false            # upload only, no GitOps changes
  # branch_prefix: autopkg    # shared branch is <prefix>/software-updates
  # software_dir: lib/macos/software
  # team_yaml_package_path_prefix: ../lib/macos/software/
  # commit_message: "feat(software): {{.Title}} {{.Version}} [{{.Slug}}]"
  # pr_title: Software updates from AutoPkg

github:
  labels: [autopkg]
  # repo: your-org/fleet-gitops   # derived from gitops.repo_url when omitted
  # reviewer: some-user           # or PR_REVIEWER
  # token: set FLEET_GITOPS_GITHUB_TOKEN or GITHUB_TOKEN

# Mirror installers to S3-compatible storage.
# store:
#   enabled: true
#   bucket: software-mirror
#   region: us-east-1            # or AWS_REGION
#   prefix: software
#   retain: 3
#   # endpoint: https://minio.example.com

# Keep hosts on the newest version with a policy (darwin only).
# auto_update:
#   enabled: true
#   bundle_id: org.mozilla.firefox
#   name_template: autopkg-auto-update-%NAME%

# platform_dirs:
#   windows:
#     software_dir: lib/windows/software
#     path_prefix: ../lib/windows/software/
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter fleet-publish.yaml configuration",
	Long: `Creates a fleet-publish.yaml file in the current directory with a
well-commented template covering the registry, GitOps repository, GitHub,
object store mirror and auto-update policy sections.

Use --force to overwrite an existing configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath := configPath
		if !filepath.IsAbs(outPath) {
			abs, err := filepath.Abs(outPath)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			outPath = abs
		}

		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", outPath)
			}
		}

		if err := os.WriteFile(outPath, []byte(initTemplate), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		info("Created %s", outPath)
		info("")
		info("Next steps:")
		info("  1. Point registry.url and gitops.repo_url at your servers")
		info("  2. Export FLEET_API_TOKEN and FLEET_GITOPS_GITHUB_TOKEN")
		info("  3. Run 'fleet-publish check' to confirm the server is supported")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	rootCmd.AddCommand(initCmd)
}
