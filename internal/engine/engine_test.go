package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/config"
	"github.com/bianoble/fleet-publish/internal/github"
	"github.com/bianoble/fleet-publish/internal/registry"
	"github.com/bianoble/fleet-publish/internal/store"
)

// fakeRegistry publishes into an in-memory title list so a later probe
// observes earlier uploads.
type fakeRegistry struct {
	version    string
	versionErr error
	titles     []registry.Title
	searchErr  error
	uploadErr  error
	uploadHash string
	uploads    []string
	policies   []registry.Policy
	policyErr  error
}

func (f *fakeRegistry) ServerVersion(context.Context) (string, error) {
	if f.versionErr != nil {
		return "", f.versionErr
	}
	if f.version == "" {
		return "4.74.0", nil
	}
	return f.version, nil
}

func (f *fakeRegistry) SearchTitles(context.Context, string) ([]registry.Title, error) {
	return f.titles, f.searchErr
}

func (f *fakeRegistry) UploadPackage(_ context.Context, title, path string, opts registry.PackageOptions) (*registry.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	version := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	f.uploads = append(f.uploads, title)
	f.titles = append(f.titles, registry.Title{
		ID:         42,
		Name:       title,
		Versions:   []registry.TitleVersion{{Version: version}},
		HashSHA256: f.uploadHash,
	})
	titleID, installerID := 42, 99
	return &registry.UploadResult{TitleID: &titleID, InstallerID: &installerID, Hash: f.uploadHash}, nil
}

func (f *fakeRegistry) UpsertPolicy(_ context.Context, p registry.Policy) (bool, error) {
	if f.policyErr != nil {
		return false, f.policyErr
	}
	for i, existing := range f.policies {
		if existing.Name == p.Name {
			f.policies[i] = p
			return false, nil
		}
	}
	f.policies = append(f.policies, p)
	return true, nil
}

// fakeStore keeps objects in a map keyed by object key.
type fakeStore struct {
	objects map[string]store.ObjectInfo
	puts    int
	putErr  error
}

func newFakeStore(keys ...string) *fakeStore {
	f := &fakeStore{objects: map[string]store.ObjectInfo{}}
	for _, k := range keys {
		f.objects[k] = store.ObjectInfo{Key: k}
	}
	return f
}

func (f *fakeStore) Head(_ context.Context, key string) (*store.ObjectInfo, bool, error) {
	o, ok := f.objects[key]
	if !ok {
		return nil, false, nil
	}
	return &o, true, nil
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, size int64, digest, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	f.puts++
	f.objects[key] = store.ObjectInfo{Key: key, Size: size, SHA256: digest}
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]store.ObjectInfo, error) {
	var out []store.ObjectInfo
	for k, o := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

// fakePulls tracks pull requests per head branch.
type fakePulls struct {
	open     map[string]*github.PullRequest
	creates  int
	bodies   []string
	labels   []string
	labelErr error
}

func newFakePulls() *fakePulls {
	return &fakePulls{open: map[string]*github.PullRequest{}}
}

func (f *fakePulls) FindOpenPullRequest(_ context.Context, repo, head, base string) (*github.PullRequest, error) {
	return f.open[head+"->"+base], nil
}

func (f *fakePulls) CreatePullRequest(_ context.Context, repo string, req github.NewPullRequest) (*github.PullRequest, error) {
	key := req.Head + "->" + req.Base
	if _, ok := f.open[key]; ok {
		return nil, &github.APIError{StatusCode: 422, Message: "Validation Failed"}
	}
	f.creates++
	f.bodies = append(f.bodies, req.Body)
	pr := &github.PullRequest{Number: f.creates, HTMLURL: fmt.Sprintf("https://github.com/acme/gitops/pull/%d", f.creates)}
	f.open[key] = pr
	return pr, nil
}

func (f *fakePulls) AddLabels(_ context.Context, repo string, number int, labels []string) error {
	f.labels = append(f.labels, labels...)
	return f.labelErr
}

func (f *fakePulls) RequestReviewers(context.Context, string, int, []string) error {
	return nil
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com", "GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
	return strings.TrimSpace(string(out))
}

// newRemote creates a bare config repository with a team document.
func newRemote(t *testing.T) string {
	t.Helper()
	requireGit(t)
	workDir := t.TempDir()
	bare := t.TempDir()
	gitRun(t, workDir, "init", "-b", "main")
	if err := os.MkdirAll(filepath.Join(workDir, "teams"), 0755); err != nil {
		t.Fatal(err)
	}
	team := "name: Workstations\n# managed software\nsoftware:\n  packages: []\n"
	if err := os.WriteFile(filepath.Join(workDir, "teams", "workstations.yml"), []byte(team), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, workDir, "add", ".")
	gitRun(t, workDir, "commit", "-m", "initial")
	gitRun(t, workDir, "clone", "--bare", workDir, bare)
	return bare
}

// writeArtifact writes a fake installer named <version>.pkg so the fake
// registry can recover the version from the path.
func writeArtifact(t *testing.T, version, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), version+".pkg")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func testConfig(remote string) *config.Config {
	cfg := &config.Config{
		Version: 1,
		Registry: config.Registry{
			URL:    "https://fleet.example.com",
			Token:  "fleet-token",
			TeamID: 7,
		},
		GitOps: config.GitOps{
			RepoURL:      remote,
			TeamYAMLPath: "teams/workstations.yml",
		},
		GitHub: config.GitHub{
			Repo:     "acme/gitops",
			Token:    "gh-token",
			Reviewer: "octocat",
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func directConfig() *config.Config {
	disabled := false
	cfg := testConfig("")
	cfg.GitOps.Enabled = &disabled
	return cfg
}

func logBuffer() (*bytes.Buffer, zerolog.Logger) {
	var buf bytes.Buffer
	return &buf, zerolog.New(&buf)
}

func stepOf(t *testing.T, err error) *StepError {
	t.Helper()
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StepError, got %T: %v", err, err)
	}
	return se
}
