// Package sandbox confines file operations to a working tree, typically the
// scratch clone of the GitOps repository.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a relative path resolves outside the root.
var ErrOutsideRoot = errors.New("path escapes the working tree")

// Root is a directory all operations are confined to.
type Root struct {
	dir string
}

// New resolves dir (following symlinks) and returns a Root for it.
func New(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving root symlinks: %w", err)
	}
	return &Root{dir: real}, nil
}

// Dir returns the resolved root directory.
func (r *Root) Dir() string { return r.dir }

// Resolve returns the absolute path for rel after checking it stays inside
// the root. rel may not exist yet.
func (r *Root) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%q: %w", rel, ErrOutsideRoot)
	}
	candidate := filepath.Clean(filepath.Join(r.dir, rel))
	resolved, err := resolveExistingPath(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rel, err)
	}
	if resolved != r.dir && !strings.HasPrefix(resolved, r.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%q resolves to %q: %w", rel, resolved, ErrOutsideRoot)
	}
	return resolved, nil
}

// Rel returns abs relative to the root, using forward slashes.
func (r *Root) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// resolveExistingPath resolves symlinks for the longest existing prefix of
// path and appends the rest.
func resolveExistingPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	dir := filepath.Dir(path)
	if dir == path {
		return path, nil
	}
	resolvedDir, err := resolveExistingPath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, filepath.Base(path)), nil
}

// ReadFile reads rel. A missing file returns an error matching fs.ErrNotExist.
func (r *Root) ReadFile(rel string) ([]byte, error) {
	resolved, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

// WriteFile atomically replaces rel with content, creating parent
// directories as needed.
func (r *Root) WriteFile(rel string, content []byte, perm os.FileMode) error {
	resolved, err := r.Resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".fleet-publish-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", resolved, err)
	}

	success = true
	return nil
}

// Glob matches pattern relative to the root and returns root-relative,
// sorted paths.
func (r *Root) Glob(pattern string) ([]string, error) {
	if _, err := r.Resolve(filepath.Dir(pattern)); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(r.dir, pattern))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := r.Rel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}
