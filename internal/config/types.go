package config

import "time"

// Config represents the fleet-publish.yaml (or .toml) configuration file.
type Config struct {
	Version      int                    `yaml:"version" toml:"version"`
	Registry     Registry               `yaml:"registry" toml:"registry"`
	GitOps       GitOps                 `yaml:"gitops" toml:"gitops"`
	GitHub       GitHub                 `yaml:"github" toml:"github"`
	Store        Store                  `yaml:"store,omitempty" toml:"store"`
	AutoUpdate   AutoUpdate             `yaml:"auto_update,omitempty" toml:"auto_update"`
	PlatformDirs map[string]PlatformDir `yaml:"platform_dirs,omitempty" toml:"platform_dirs"`
}

// Registry configures the device-management server that accepts uploads.
type Registry struct {
	URL            string `yaml:"url" toml:"url"`
	Token          string `yaml:"token,omitempty" toml:"token"`
	TeamID         int    `yaml:"team_id" toml:"team_id"`
	MinimumVersion string `yaml:"minimum_version,omitempty" toml:"minimum_version"`
	Timeout        string `yaml:"timeout,omitempty" toml:"timeout"`
	UploadTimeout  string `yaml:"upload_timeout,omitempty" toml:"upload_timeout"`
}

// GitOps configures the declarative config repository.
type GitOps struct {
	// Enabled is a pointer so a higher layer can switch GitOps off.
	Enabled                   *bool  `yaml:"enabled,omitempty" toml:"enabled"`
	RepoURL                   string `yaml:"repo_url" toml:"repo_url"`
	BaseBranch                string `yaml:"base_branch,omitempty" toml:"base_branch"`
	BranchPrefix              string `yaml:"branch_prefix,omitempty" toml:"branch_prefix"`
	AuthorName                string `yaml:"author_name,omitempty" toml:"author_name"`
	AuthorEmail               string `yaml:"author_email,omitempty" toml:"author_email"`
	SoftwareDir               string `yaml:"software_dir,omitempty" toml:"software_dir"`
	PackageYAMLSuffix         string `yaml:"package_yaml_suffix,omitempty" toml:"package_yaml_suffix"`
	TeamYAMLPath              string `yaml:"team_yaml_path,omitempty" toml:"team_yaml_path"`
	TeamYAMLPackagePathPrefix string `yaml:"team_yaml_package_path_prefix,omitempty" toml:"team_yaml_package_path_prefix"`
	CommitMessage             string `yaml:"commit_message,omitempty" toml:"commit_message"`
	PRTitle                   string `yaml:"pr_title,omitempty" toml:"pr_title"`
}

// GitHub configures pull-request creation.
type GitHub struct {
	APIURL   string   `yaml:"api_url,omitempty" toml:"api_url"`
	Repo     string   `yaml:"repo,omitempty" toml:"repo"` // owner/repo; derived from gitops.repo_url when empty
	Token    string   `yaml:"token,omitempty" toml:"token"`
	Labels   []string `yaml:"labels,omitempty" toml:"labels"`
	Reviewer string   `yaml:"reviewer,omitempty" toml:"reviewer"`
	Timeout  string   `yaml:"timeout,omitempty" toml:"timeout"`
}

// Store configures the optional S3-compatible artifact mirror.
type Store struct {
	Enabled         bool   `yaml:"enabled,omitempty" toml:"enabled"`
	Endpoint        string `yaml:"endpoint,omitempty" toml:"endpoint"`
	Region          string `yaml:"region,omitempty" toml:"region"`
	Bucket          string `yaml:"bucket,omitempty" toml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" toml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" toml:"secret_access_key"`
	SessionToken    string `yaml:"session_token,omitempty" toml:"session_token"`
	Retain          *int   `yaml:"retain,omitempty" toml:"retain"`
	Timeout         string `yaml:"timeout,omitempty" toml:"timeout"`
}

// AutoUpdate configures the optional outdated-version policy.
type AutoUpdate struct {
	Enabled      bool   `yaml:"enabled,omitempty" toml:"enabled"`
	NameTemplate string `yaml:"name_template,omitempty" toml:"name_template"`
	BundleID     string `yaml:"bundle_id,omitempty" toml:"bundle_id"`
}

// PlatformDir overrides where a platform's package files live.
type PlatformDir struct {
	SoftwareDir string `yaml:"software_dir,omitempty" toml:"software_dir"`
	PathPrefix  string `yaml:"path_prefix,omitempty" toml:"path_prefix"`
}

// Defaults.
const (
	DefaultMinimumVersion    = "4.74.0"
	DefaultBaseBranch        = "main"
	DefaultBranchPrefix      = "autopkg"
	DefaultAuthorName        = "autopkg-bot"
	DefaultAuthorEmail       = "autopkg-bot@example.com"
	DefaultPackageYAMLSuffix = ".yml"
	DefaultGitHubAPIURL      = "https://api.github.com"
	DefaultStorePrefix       = "software"
	DefaultRetain            = 3
	DefaultCommitMessage     = "feat(software): {{.Title}} {{.Version}} [{{.Slug}}]"
	DefaultPRTitle           = "Software updates from AutoPkg"
	DefaultPolicyTemplate    = "autopkg-auto-update-%NAME%"

	DefaultRegistryTimeout = 30 * time.Second
	DefaultUploadTimeout   = 15 * time.Minute
	DefaultGitHubTimeout   = 60 * time.Second
	DefaultStoreTimeout    = 5 * time.Minute
)

// DefaultPRLabels are applied to new pull requests when none are configured.
var DefaultPRLabels = []string{"autopkg"}

// GitOpsEnabled reports whether the GitOps half of the pipeline runs.
// GitOps is on unless explicitly disabled.
func (c *Config) GitOpsEnabled() bool {
	return c.GitOps.Enabled == nil || *c.GitOps.Enabled
}

// RetainCount returns the configured retention depth, or DefaultRetain.
func (s Store) RetainCount() int {
	if s.Retain == nil {
		return DefaultRetain
	}
	return *s.Retain
}

// ApplyDefaults fills every unset optional field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Registry.MinimumVersion == "" {
		cfg.Registry.MinimumVersion = DefaultMinimumVersion
	}
	if cfg.GitOps.BaseBranch == "" {
		cfg.GitOps.BaseBranch = DefaultBaseBranch
	}
	if cfg.GitOps.BranchPrefix == "" {
		cfg.GitOps.BranchPrefix = DefaultBranchPrefix
	}
	if cfg.GitOps.AuthorName == "" {
		cfg.GitOps.AuthorName = DefaultAuthorName
	}
	if cfg.GitOps.AuthorEmail == "" {
		cfg.GitOps.AuthorEmail = DefaultAuthorEmail
	}
	if cfg.GitOps.PackageYAMLSuffix == "" {
		cfg.GitOps.PackageYAMLSuffix = DefaultPackageYAMLSuffix
	}
	if cfg.GitOps.CommitMessage == "" {
		cfg.GitOps.CommitMessage = DefaultCommitMessage
	}
	if cfg.GitOps.PRTitle == "" {
		cfg.GitOps.PRTitle = DefaultPRTitle
	}
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = DefaultGitHubAPIURL
	}
	if cfg.GitHub.Labels == nil {
		cfg.GitHub.Labels = append([]string(nil), DefaultPRLabels...)
	}
	if cfg.GitHub.Repo == "" {
		cfg.GitHub.Repo = DeriveGitHubRepo(cfg.GitOps.RepoURL)
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = DefaultStorePrefix
	}
	if cfg.AutoUpdate.NameTemplate == "" {
		cfg.AutoUpdate.NameTemplate = DefaultPolicyTemplate
	}
}
