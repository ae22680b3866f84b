package gitops

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/fleet-publish/internal/registry"
	"github.com/bianoble/fleet-publish/internal/sandbox"
)

// Layout locates the GitOps files inside the repository.
type Layout struct {
	// SoftwareDir holds one package file per artifact.
	SoftwareDir string
	// Suffix is appended to the slug to name a package file.
	Suffix string
	// TeamYAMLPath is the team document. Empty skips the team merge.
	TeamYAMLPath string
	// PathPrefix is how the team document refers to SoftwareDir.
	PathPrefix string
}

// Synchronizer writes package and team files inside a working tree.
type Synchronizer struct {
	Root   *sandbox.Root
	Layout Layout
}

// Change is one file the synchronizer wrote.
type Change struct {
	Path    string // repository-relative
	Changed bool
}

// PackageFile returns the repository-relative package file for slug.
func (s *Synchronizer) PackageFile(slug string) string {
	return path.Join(s.Layout.SoftwareDir, slug+s.Layout.Suffix)
}

// TeamReference returns the path the team document uses for slug.
func (s *Synchronizer) TeamReference(slug string) string {
	return s.Layout.PathPrefix + slug + s.Layout.Suffix
}

// WritePackage replaces the package file for slug.
func (s *Synchronizer) WritePackage(slug string, spec PackageSpec, variant registry.SchemaVariant) (Change, error) {
	rel := s.PackageFile(slug)
	content, err := RenderPackage(spec, variant)
	if err != nil {
		return Change{}, err
	}
	return s.write(rel, content)
}

// ErrDuplicateEntry is returned when the team document lists a package path
// more than once.
var ErrDuplicateEntry = errors.New("duplicate package entry")

// MergeTeam merges the entry for slug into the team document. It returns a
// zero Change when no team document is configured.
func (s *Synchronizer) MergeTeam(slug string, fields []Field) (Change, error) {
	if s.Layout.TeamYAMLPath == "" {
		return Change{}, nil
	}
	existing, err := s.Root.ReadFile(s.Layout.TeamYAMLPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Change{}, fmt.Errorf("reading team document: %w", err)
	}
	ref := s.TeamReference(slug)
	merged, err := MergeTeamEntry(existing, ref, fields)
	if err != nil {
		return Change{}, fmt.Errorf("%s: %w", s.Layout.TeamYAMLPath, err)
	}
	entries, err := TeamEntries(merged)
	if err != nil {
		return Change{}, fmt.Errorf("%s: %w", s.Layout.TeamYAMLPath, err)
	}
	if n := countOf(entries, ref); n != 1 {
		return Change{}, fmt.Errorf("%s: %w: %s appears %d times", s.Layout.TeamYAMLPath, ErrDuplicateEntry, ref, n)
	}
	return s.write(s.Layout.TeamYAMLPath, merged)
}

func countOf(ss []string, want string) int {
	n := 0
	for _, s := range ss {
		if s == want {
			n++
		}
	}
	return n
}

func (s *Synchronizer) write(rel string, content []byte) (Change, error) {
	existing, err := s.Root.ReadFile(rel)
	if err == nil && bytes.Equal(existing, content) {
		return Change{Path: rel}, nil
	}
	if err := s.Root.WriteFile(rel, content, 0644); err != nil {
		return Change{}, fmt.Errorf("writing %s: %w", rel, err)
	}
	return Change{Path: rel, Changed: true}, nil
}

// PackageSummary is the name and version read from one package file.
type PackageSummary struct {
	Name     string
	Version  string
	FileName string
}

// ScanPackages reads every package file in the software directory, sorted by
// file name. Files that do not parse or lack a name or version are skipped.
func (s *Synchronizer) ScanPackages() ([]PackageSummary, error) {
	matches, err := s.Root.Glob(path.Join(s.Layout.SoftwareDir, "*"+s.Layout.Suffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []PackageSummary
	for _, rel := range matches {
		data, err := s.Root.ReadFile(rel)
		if err != nil {
			continue
		}
		var doc struct {
			Name    string `yaml:"name"`
			Version string `yaml:"version"`
		}
		if yaml.Unmarshal(data, &doc) != nil || doc.Name == "" || doc.Version == "" {
			continue
		}
		out = append(out, PackageSummary{Name: doc.Name, Version: doc.Version, FileName: path.Base(rel)})
	}
	return out, nil
}
