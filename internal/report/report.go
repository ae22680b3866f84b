// Package report persists the outputs of a publish run so that CI steps
// after it can read the registry identifiers, hash, branch and pull request.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/fleet-publish/internal/digest"
)

// FormatVersion is the outputs file format version.
const FormatVersion = 1

// Outputs is the fleet-publish outputs file.
type Outputs struct {
	Version        int      `yaml:"version"`
	Title          string   `yaml:"title"`
	SoftwareVer    string   `yaml:"software_version"`
	TitleID        *int     `yaml:"title_id"`
	InstallerID    *int     `yaml:"installer_id"`
	HashSHA256     string   `yaml:"hash_sha256"`
	AlreadyExisted bool     `yaml:"already_existed"`
	SchemaVariant  string   `yaml:"schema_variant,omitempty"`
	StoreKey       string   `yaml:"store_key,omitempty"`
	GitBranch      string   `yaml:"git_branch"`
	Committed      bool     `yaml:"committed"`
	PullRequestURL string   `yaml:"pull_request_url"`
	Warnings       []string `yaml:"warnings,omitempty"`
}

// Load reads and validates an outputs file.
func Load(path string) (*Outputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading outputs %s: %w", path, err)
	}

	var out Outputs
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing outputs %s: %w", path, err)
	}

	if errs := Validate(&out); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &out, nil
}

// Save writes outputs atomically using a temp file and rename.
func Save(path string, out *Outputs) error {
	if out.Version == 0 {
		out.Version = FormatVersion
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling outputs: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".outputs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp outputs file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp outputs %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp outputs %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming temp outputs to %s: %w", path, err)
	}
	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("outputs validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks an Outputs value for consistency.
func Validate(out *Outputs) []string {
	var errs []string

	if out.Version != FormatVersion {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version %d is supported", out.Version, FormatVersion))
	}
	if out.Title == "" {
		errs = append(errs, "'title' is required")
	}
	if out.HashSHA256 != "" && !digest.Valid(out.HashSHA256) {
		errs = append(errs, fmt.Sprintf("hash_sha256 '%s' is not a 64-character hex digest", out.HashSHA256))
	}
	if out.PullRequestURL != "" && out.GitBranch == "" {
		errs = append(errs, "pull_request_url is set but git_branch is empty")
	}
	return errs
}
