package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/bianoble/fleet-publish/internal/platform"
)

// Load reads and validates a configuration file. Files ending in .toml are
// decoded as TOML; everything else is YAML.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}

// Read decodes a configuration file without applying defaults or validating.
// Layered loading merges raw layers first and validates the result once.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if len(bytes.TrimSpace(data)) == 0 {
			return &cfg, nil
		}
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness. Defaults should already
// be applied. Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", cfg.Version))
	}

	// Registry.
	if cfg.Registry.URL == "" {
		errs = append(errs, "registry: 'url' is required — add 'url: https://fleet.example.com'")
	} else if !strings.HasPrefix(cfg.Registry.URL, "https://") && !strings.HasPrefix(cfg.Registry.URL, "http://") {
		errs = append(errs, fmt.Sprintf("registry: url '%s' must start with http:// or https://", cfg.Registry.URL))
	}
	if cfg.Registry.Token == "" {
		errs = append(errs, "registry: 'token' is required — set it in the config or via FLEET_API_TOKEN")
	}
	if cfg.Registry.TeamID <= 0 {
		errs = append(errs, "registry: 'team_id' must be a positive integer")
	}
	if _, err := ParseDuration(cfg.Registry.Timeout, DefaultRegistryTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("registry: invalid timeout: %v", err))
	}
	if _, err := ParseDuration(cfg.Registry.UploadTimeout, DefaultUploadTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("registry: invalid upload_timeout: %v", err))
	}

	// GitOps + GitHub.
	if cfg.GitOpsEnabled() {
		if cfg.GitOps.RepoURL == "" {
			errs = append(errs, "gitops: 'repo_url' is required when gitops is enabled")
		}
		if cfg.GitHub.Repo == "" {
			errs = append(errs, "github: 'repo' not provided and could not be derived from gitops.repo_url")
		} else if strings.Count(cfg.GitHub.Repo, "/") != 1 {
			errs = append(errs, fmt.Sprintf("github: repo '%s' must be in owner/repo form", cfg.GitHub.Repo))
		}
		if cfg.GitHub.Token == "" {
			errs = append(errs, "github: 'token' is required when gitops is enabled — set it or FLEET_GITOPS_GITHUB_TOKEN")
		}
		if _, err := ParseDuration(cfg.GitHub.Timeout, DefaultGitHubTimeout); err != nil {
			errs = append(errs, fmt.Sprintf("github: invalid timeout: %v", err))
		}
		if filepath.IsAbs(cfg.GitOps.SoftwareDir) {
			errs = append(errs, "gitops: 'software_dir' must be relative to the repository root")
		}
		if filepath.IsAbs(cfg.GitOps.TeamYAMLPath) {
			errs = append(errs, "gitops: 'team_yaml_path' must be relative to the repository root")
		}
	}

	// Store.
	if cfg.Store.Enabled {
		if cfg.Store.Bucket == "" {
			errs = append(errs, "store: 'bucket' is required when store is enabled")
		}
		if cfg.Store.Region == "" {
			errs = append(errs, "store: 'region' is required when store is enabled — set it or AWS_REGION")
		}
		if cfg.Store.AccessKeyID == "" || cfg.Store.SecretAccessKey == "" {
			errs = append(errs, "store: access_key_id and secret_access_key are required — set them or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY")
		}
		if _, err := ParseDuration(cfg.Store.Timeout, DefaultStoreTimeout); err != nil {
			errs = append(errs, fmt.Sprintf("store: invalid timeout: %v", err))
		}
	}
	if cfg.Store.RetainCount() < 0 {
		errs = append(errs, fmt.Sprintf("store: retain must be >= 0, got %d", cfg.Store.RetainCount()))
	}

	// Auto-update.
	if cfg.AutoUpdate.Enabled && cfg.AutoUpdate.BundleID == "" {
		errs = append(errs, "auto_update: 'bundle_id' is required when auto_update is enabled")
	}

	// Platform overrides.
	for name := range cfg.PlatformDirs {
		if _, err := platform.Parse(name); err != nil {
			errs = append(errs, fmt.Sprintf("platform_dirs: %v", err))
		}
	}

	return errs
}

// ParseDuration parses s, returning def when s is empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// Timeouts holds the parsed per-client timeouts.
type Timeouts struct {
	Registry time.Duration
	Upload   time.Duration
	GitHub   time.Duration
	Store    time.Duration
}

// Timeouts parses every configured timeout. Validate has already rejected
// malformed values, so errors here indicate an unvalidated config.
func (c *Config) Timeouts() (Timeouts, error) {
	var t Timeouts
	var err error
	if t.Registry, err = ParseDuration(c.Registry.Timeout, DefaultRegistryTimeout); err != nil {
		return t, fmt.Errorf("registry.timeout: %w", err)
	}
	if t.Upload, err = ParseDuration(c.Registry.UploadTimeout, DefaultUploadTimeout); err != nil {
		return t, fmt.Errorf("registry.upload_timeout: %w", err)
	}
	if t.GitHub, err = ParseDuration(c.GitHub.Timeout, DefaultGitHubTimeout); err != nil {
		return t, fmt.Errorf("github.timeout: %w", err)
	}
	if t.Store, err = ParseDuration(c.Store.Timeout, DefaultStoreTimeout); err != nil {
		return t, fmt.Errorf("store.timeout: %w", err)
	}
	return t, nil
}

// DeriveGitHubRepo extracts owner/repo from a GitHub clone URL. Supports
// https://github.com/owner/repo(.git), git@github.com:owner/repo(.git) and a
// bare owner/repo. Returns "" when nothing can be derived.
func DeriveGitHubRepo(repoURL string) string {
	s := strings.TrimSpace(repoURL)
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "git@") {
		_, path, ok := strings.Cut(s, ":")
		if !ok {
			return ""
		}
		path = strings.Trim(strings.TrimSuffix(path, ".git"), "/")
		if strings.Count(path, "/") != 1 {
			return ""
		}
		return path
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		_, after, ok := strings.Cut(s, "github.com/")
		if !ok {
			return ""
		}
		after = strings.Trim(strings.TrimSuffix(after, ".git"), "/")
		if strings.Count(after, "/") != 1 {
			return ""
		}
		return after
	}

	if strings.Count(s, "/") == 1 && !strings.ContainsAny(s, ": ") {
		return s
	}
	return ""
}
