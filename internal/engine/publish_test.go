package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bianoble/fleet-publish/internal/config"
	"github.com/bianoble/fleet-publish/internal/digest"
	"github.com/bianoble/fleet-publish/internal/git"
	"github.com/bianoble/fleet-publish/internal/platform"
	"github.com/bianoble/fleet-publish/internal/registry"
	"github.com/bianoble/fleet-publish/internal/store"
)

func firefox(t *testing.T) Artifact {
	return Artifact{
		Path:        writeArtifact(t, "1.2.3", "firefox installer"),
		Title:       "Firefox",
		Version:     "1.2.3",
		Platform:    platform.Darwin,
		SelfService: true,
	}
}

func newPublishEngine(cfg *config.Config, reg *fakeRegistry, pulls *fakePulls) *PublishEngine {
	e := &PublishEngine{
		Config:   cfg,
		Registry: reg,
		Logger:   zerolog.Nop(),
	}
	if pulls != nil {
		e.PullRequests = pulls
	}
	return e
}

func showFile(t *testing.T, remote, rev, path string) string {
	t.Helper()
	return gitRun(t, remote, "show", rev+":"+path)
}

func TestPublishEndToEnd(t *testing.T) {
	remote := newRemote(t)
	reg := &fakeRegistry{}
	pulls := newFakePulls()
	e := newPublishEngine(testConfig(remote), reg, pulls)
	a := firefox(t)

	res, err := e.Publish(context.Background(), a)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	wantHash, _ := digest.File(a.Path)
	if res.Hash != wantHash {
		t.Errorf("Hash = %s, want %s", res.Hash, wantHash)
	}
	if len(reg.uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(reg.uploads))
	}
	if res.Upload.TitleID == nil || *res.Upload.TitleID != 42 || *res.Upload.InstallerID != 99 {
		t.Errorf("Upload = %+v", res.Upload)
	}
	if res.Capability.Variant != registry.SchemaCurrent {
		t.Errorf("Variant = %s, want current", res.Capability.Variant)
	}
	if res.Branch != "autopkg/software-updates" || res.BranchState != git.BranchCreated {
		t.Errorf("branch = %s (%s)", res.Branch, res.BranchState)
	}
	if !res.Committed {
		t.Fatal("expected a commit")
	}
	if res.PullRequest == nil || res.PullRequest.HTMLURL != "https://github.com/acme/gitops/pull/1" {
		t.Fatalf("PullRequest = %+v", res.PullRequest)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	branch := "refs/heads/autopkg/software-updates"
	var pkg map[string]any
	if err := yaml.Unmarshal([]byte(showFile(t, remote, branch, "lib/macos/software/firefox.yml")), &pkg); err != nil {
		t.Fatal(err)
	}
	if pkg["name"] != "Firefox" || pkg["version"] != "1.2.3" || pkg["platform"] != "darwin" || pkg["hash_sha256"] != wantHash {
		t.Errorf("package file = %v", pkg)
	}
	if _, ok := pkg["self_service"]; ok {
		t.Error("current schema must keep targeting out of the package file")
	}

	team := showFile(t, remote, branch, "teams/workstations.yml")
	if !strings.Contains(team, "# managed software") {
		t.Errorf("team comment lost:\n%s", team)
	}
	if !strings.Contains(team, "path: ../lib/macos/software/firefox.yml") || !strings.Contains(team, "self_service: true") {
		t.Errorf("team entry missing:\n%s", team)
	}

	subject := gitRun(t, remote, "log", "-1", "--format=%s", branch)
	if subject != "feat(software): Firefox 1.2.3 [firefox]" {
		t.Errorf("commit subject = %q", subject)
	}
	if len(pulls.bodies) != 1 || !strings.Contains(pulls.bodies[0], "**Firefox 1.2.3** was just added") || !strings.Contains(pulls.bodies[0], "- **Firefox** `1.2.3`") {
		t.Errorf("pull request body = %q", pulls.bodies)
	}
	if len(pulls.labels) != 1 || pulls.labels[0] != "autopkg" {
		t.Errorf("labels = %v", pulls.labels)
	}
}

func TestPublishIdempotent(t *testing.T) {
	remote := newRemote(t)
	reg := &fakeRegistry{}
	pulls := newFakePulls()
	cfg := testConfig(remote)
	a := firefox(t)

	if _, err := newPublishEngine(cfg, reg, pulls).Publish(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	second, err := newPublishEngine(cfg, reg, pulls).Publish(context.Background(), a)
	if err != nil {
		t.Fatalf("second Publish: %v", err)
	}

	if len(reg.uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(reg.uploads))
	}
	if !second.Upload.AlreadyExisted {
		t.Error("second run should find the package")
	}
	if second.BranchState != git.BranchCheckedOut {
		t.Errorf("BranchState = %s, want %s", second.BranchState, git.BranchCheckedOut)
	}
	if second.Committed {
		t.Error("second run should not commit")
	}
	if second.PullRequest != nil {
		t.Error("second run should not touch the pull request")
	}
	if pulls.creates != 1 {
		t.Errorf("pull requests created = %d, want 1", pulls.creates)
	}
	count := gitRun(t, remote, "rev-list", "--count", "refs/heads/main..refs/heads/autopkg/software-updates")
	if count != "1" {
		t.Errorf("commits on shared branch = %s, want 1", count)
	}
	team := showFile(t, remote, "refs/heads/autopkg/software-updates", "teams/workstations.yml")
	if n := strings.Count(team, "firefox.yml"); n != 1 {
		t.Errorf("team entries for firefox = %d, want 1:\n%s", n, team)
	}
}

func TestPublishSecondArtifactSharesBranch(t *testing.T) {
	remote := newRemote(t)
	reg := &fakeRegistry{}
	pulls := newFakePulls()
	cfg := testConfig(remote)

	if _, err := newPublishEngine(cfg, reg, pulls).Publish(context.Background(), firefox(t)); err != nil {
		t.Fatal(err)
	}
	chrome := Artifact{
		Path:     writeArtifact(t, "120.0", "chrome installer"),
		Title:    "Google Chrome",
		Version:  "120.0",
		Platform: platform.Darwin,
	}
	res, err := newPublishEngine(cfg, reg, pulls).Publish(context.Background(), chrome)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Committed || !res.Reused {
		t.Errorf("Committed = %v, Reused = %v; want both", res.Committed, res.Reused)
	}
	if res.PullRequest == nil || res.PullRequest.Number != 1 {
		t.Errorf("PullRequest = %+v", res.PullRequest)
	}
	if pulls.creates != 1 {
		t.Errorf("pull requests created = %d, want 1", pulls.creates)
	}
	branch := "refs/heads/autopkg/software-updates"
	files := gitRun(t, remote, "ls-tree", "-r", "--name-only", branch)
	for _, want := range []string{"lib/macos/software/firefox.yml", "lib/macos/software/google-chrome.yml"} {
		if !strings.Contains(files, want) {
			t.Errorf("%s missing from branch:\n%s", want, files)
		}
	}
}

func TestPublishLegacySchema(t *testing.T) {
	remote := newRemote(t)
	cfg := testConfig(remote)
	cfg.Registry.MinimumVersion = "4.60.0"
	reg := &fakeRegistry{version: "4.70.0"}
	a := firefox(t)
	a.LabelsIncludeAny = []string{"Engineering"}

	res, err := newPublishEngine(cfg, reg, newFakePulls()).Publish(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if res.Capability.Variant != registry.SchemaLegacy {
		t.Fatalf("Variant = %s, want legacy", res.Capability.Variant)
	}
	branch := "refs/heads/autopkg/software-updates"
	pkg := showFile(t, remote, branch, "lib/macos/software/firefox.yml")
	if !strings.Contains(pkg, "self_service: true") || !strings.Contains(pkg, "labels_include_any") {
		t.Errorf("legacy package file lacks targeting:\n%s", pkg)
	}
	team := showFile(t, remote, branch, "teams/workstations.yml")
	if strings.Contains(team, "self_service") {
		t.Errorf("legacy team entry should carry only the path:\n%s", team)
	}
}

func TestPublishCurrentSchemaRequiresTeamDocument(t *testing.T) {
	remote := newRemote(t)
	cfg := testConfig(remote)
	cfg.GitOps.TeamYAMLPath = ""
	reg := &fakeRegistry{}
	a := firefox(t)
	a.LabelsIncludeAny = []string{"canary"}

	_, err := newPublishEngine(cfg, reg, newFakePulls()).Publish(context.Background(), a)
	se := stepOf(t, err)
	if se.Step != StepValidate || se.Kind != KindValidation {
		t.Errorf("StepError = %s/%s, want validate/validation", se.Step, se.Kind)
	}
	if !errors.Is(err, errNoTeamDocument) {
		t.Errorf("err = %v, want errNoTeamDocument", err)
	}
	if len(reg.uploads) != 0 {
		t.Errorf("uploads = %d, want none before the config is usable", len(reg.uploads))
	}

	// The legacy schema keeps targeting in the package file and needs no team document.
	cfg.Registry.MinimumVersion = "4.60.0"
	reg = &fakeRegistry{version: "4.70.0"}
	res, err := newPublishEngine(cfg, reg, newFakePulls()).Publish(context.Background(), a)
	if err != nil {
		t.Fatalf("legacy Publish: %v", err)
	}
	if len(res.Changes) != 1 {
		t.Errorf("changes = %v, want only the package file", res.Changes)
	}
	pkg := showFile(t, remote, "refs/heads/autopkg/software-updates", "lib/macos/software/firefox.yml")
	if !strings.Contains(pkg, "canary") {
		t.Errorf("legacy package file lacks labels:\n%s", pkg)
	}
}

func TestPublishRecordsRegistryHash(t *testing.T) {
	remote := newRemote(t)
	reported := strings.Repeat("ab", 32)
	reg := &fakeRegistry{uploadHash: reported}
	pulls := newFakePulls()
	cfg := testConfig(remote)
	a := firefox(t)

	res, err := newPublishEngine(cfg, reg, pulls).Publish(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	local, _ := digest.File(a.Path)
	if res.Hash != reported || res.LocalHash != local {
		t.Errorf("Hash = %s, LocalHash = %s", res.Hash, res.LocalHash)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Step != StepPublish {
		t.Errorf("warnings = %v, want one publish warning for the mismatch", res.Warnings)
	}
	var pkg map[string]any
	if err := yaml.Unmarshal([]byte(showFile(t, remote, "refs/heads/autopkg/software-updates", "lib/macos/software/firefox.yml")), &pkg); err != nil {
		t.Fatal(err)
	}
	if pkg["hash_sha256"] != reported {
		t.Errorf("hash_sha256 = %v, want the registry's %s", pkg["hash_sha256"], reported)
	}
	if out := res.Outputs(); out.HashSHA256 != reported {
		t.Errorf("outputs hash = %s", out.HashSHA256)
	}

	// The registry reports the same hash on the next run, so nothing changes.
	second, err := newPublishEngine(cfg, reg, pulls).Publish(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if second.Committed || len(reg.uploads) != 1 {
		t.Errorf("second run committed=%v uploads=%d", second.Committed, len(reg.uploads))
	}
}

func TestPublishDirectMode(t *testing.T) {
	reg := &fakeRegistry{}
	e := newPublishEngine(directConfig(), reg, nil)

	res, err := e.Publish(context.Background(), firefox(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Branch != "" || res.PullRequest != nil || res.Committed {
		t.Errorf("direct mode touched git: %+v", res)
	}
	if !strings.Contains(res.Summary, "- path: ../lib/macos/software/firefox.yml") {
		t.Errorf("summary:\n%s", res.Summary)
	}
	out := res.Outputs()
	if out.TitleID == nil || *out.TitleID != 42 || out.HashSHA256 != res.Hash || out.GitBranch != "" {
		t.Errorf("outputs = %+v", out)
	}
}

func TestPublishUnsupportedVersion(t *testing.T) {
	reg := &fakeRegistry{version: "4.73.9"}
	_, err := newPublishEngine(directConfig(), reg, nil).Publish(context.Background(), firefox(t))
	se := stepOf(t, err)
	if se.Kind != KindVersionUnsupported {
		t.Errorf("Kind = %s, want %s", se.Kind, KindVersionUnsupported)
	}
	if len(reg.uploads) != 0 {
		t.Error("nothing may be uploaded to an unsupported registry")
	}
}

func TestPublishVersionQueryFallbackWarns(t *testing.T) {
	reg := &fakeRegistry{versionErr: errors.New("connection refused")}
	res, err := newPublishEngine(directConfig(), reg, nil).Publish(context.Background(), firefox(t))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Capability.Fallback || res.Capability.RawVersion != config.DefaultMinimumVersion {
		t.Errorf("Capability = %+v", res.Capability)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Step != StepCapability {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestPublishProbeFailureStillUploads(t *testing.T) {
	reg := &fakeRegistry{searchErr: &registry.TransportError{Op: "search titles", Err: errors.New("timeout")}}
	res, err := newPublishEngine(directConfig(), reg, nil).Publish(context.Background(), firefox(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(reg.uploads))
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Step != StepProbe {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestPublishConflictingLabels(t *testing.T) {
	reg := &fakeRegistry{}
	a := firefox(t)
	a.LabelsIncludeAny = []string{"a"}
	a.LabelsExcludeAny = []string{"b"}

	_, err := newPublishEngine(directConfig(), reg, nil).Publish(context.Background(), a)
	se := stepOf(t, err)
	if se.Step != StepValidate || se.Kind != KindValidation {
		t.Errorf("StepError = %+v", se)
	}
	if len(reg.uploads) != 0 {
		t.Error("invalid input must not upload")
	}
}

func TestPublishValidatesInput(t *testing.T) {
	_, err := newPublishEngine(directConfig(), &fakeRegistry{}, nil).Publish(context.Background(), Artifact{
		Path:     filepath.Join(t.TempDir(), "missing.pkg"),
		Platform: "beos",
	})
	se := stepOf(t, err)
	var ve *config.ValidationError
	if !errors.As(se, &ve) {
		t.Fatalf("expected ValidationError, got %v", se.Err)
	}
	if len(ve.Errors) != 4 {
		t.Errorf("errors = %v, want title, version, path and platform", ve.Errors)
	}
}

func TestPublishUploadFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rejected", &registry.PublishError{Title: "Firefox", Err: &registry.APIError{Op: "upload", StatusCode: 400, Body: "bad"}}, KindPublishFailed},
		{"transport", &registry.TransportError{Op: "upload", Err: errors.New("tls handshake timeout")}, KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistry{uploadErr: tt.err}
			_, err := newPublishEngine(directConfig(), reg, nil).Publish(context.Background(), firefox(t))
			se := stepOf(t, err)
			if se.Step != StepPublish || se.Kind != tt.want {
				t.Errorf("StepError = %s/%s, want %s/%s", se.Step, se.Kind, StepPublish, tt.want)
			}
		})
	}
}

func TestPublishMirrorsAndPrunes(t *testing.T) {
	st := newFakeStore(
		store.ObjectKey("software", "Firefox", "1.0", ".pkg"),
		store.ObjectKey("software", "Firefox", "1.1", ".pkg"),
		store.ObjectKey("software", "Firefox", "1.2", ".pkg"),
	)
	cfg := directConfig()
	cfg.Store.Enabled = true
	e := newPublishEngine(cfg, &fakeRegistry{}, nil)
	e.Store = st

	a := firefox(t)
	res, err := e.Publish(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mirror == nil || !res.Mirror.Uploaded || res.Mirror.Key != "software/Firefox/Firefox-1.2.3.pkg" {
		t.Errorf("Mirror = %+v", res.Mirror)
	}
	if res.Retention == nil || len(res.Retention.Deleted) != 1 || res.Retention.Deleted[0] != "1.0" {
		t.Errorf("Retention = %+v", res.Retention)
	}

	// Mirroring again with the same digest skips the upload.
	res, err = e.Publish(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mirror.Uploaded {
		t.Error("identical object re-uploaded")
	}
	if st.puts != 1 {
		t.Errorf("puts = %d, want 1", st.puts)
	}
}

func TestPublishMirrorFailureIsFatal(t *testing.T) {
	st := newFakeStore()
	st.putErr = &store.APIError{Op: "put", StatusCode: 403, Code: "AccessDenied"}
	cfg := directConfig()
	cfg.Store.Enabled = true
	e := newPublishEngine(cfg, &fakeRegistry{}, nil)
	e.Store = st

	_, err := e.Publish(context.Background(), firefox(t))
	se := stepOf(t, err)
	if se.Step != StepMirror || se.Kind != KindStoreFailed {
		t.Errorf("StepError = %s/%s", se.Step, se.Kind)
	}
}

func TestPublishAutoUpdatePolicy(t *testing.T) {
	cfg := directConfig()
	cfg.AutoUpdate.Enabled = true
	cfg.AutoUpdate.BundleID = "org.mozilla.firefox"
	reg := &fakeRegistry{}

	res, err := newPublishEngine(cfg, reg, nil).Publish(context.Background(), firefox(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.PolicyName != "autopkg-auto-update-firefox" || !res.PolicyCreated {
		t.Errorf("policy = %q created=%v", res.PolicyName, res.PolicyCreated)
	}
	if len(reg.policies) != 1 || !strings.Contains(reg.policies[0].Query, "'org.mozilla.firefox'") {
		t.Errorf("policies = %+v", reg.policies)
	}

	reg.policyErr = errors.New("forbidden")
	res, err = newPublishEngine(cfg, reg, nil).Publish(context.Background(), firefox(t))
	if err != nil {
		t.Fatalf("policy failure must not fail the run: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if w.Step == StepPolicy {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a policy warning", res.Warnings)
	}
}

func TestPublishSideEffectWarningsLogged(t *testing.T) {
	remote := newRemote(t)
	pulls := newFakePulls()
	pulls.labelErr = errors.New("label not found")
	buf, logger := logBuffer()
	e := newPublishEngine(testConfig(remote), &fakeRegistry{}, pulls)
	e.Logger = logger

	res, err := e.Publish(context.Background(), firefox(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Step != StepReview {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if !strings.Contains(buf.String(), "adding labels failed") {
		t.Errorf("warning not logged:\n%s", buf.String())
	}
	if len(res.Outputs().Warnings) != 1 {
		t.Errorf("outputs warnings = %v", res.Outputs().Warnings)
	}
}

func TestPublishCloneFailure(t *testing.T) {
	requireGit(t)
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist.git"))
	_, err := newPublishEngine(cfg, &fakeRegistry{}, newFakePulls()).Publish(context.Background(), firefox(t))
	se := stepOf(t, err)
	if se.Step != StepClone || se.Kind != KindGitOperationFailed {
		t.Errorf("StepError = %s/%s", se.Step, se.Kind)
	}
}

func TestPublishCleansScratchDir(t *testing.T) {
	remote := newRemote(t)
	work := t.TempDir()
	e := newPublishEngine(testConfig(remote), &fakeRegistry{}, newFakePulls())
	e.WorkDir = work

	if _, err := e.Publish(context.Background(), firefox(t)); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir not removed: %d entries", len(entries))
	}
}

func TestLayoutOverrides(t *testing.T) {
	cfg := testConfig("")
	cfg.GitOps.SoftwareDir = "software"
	cfg.GitOps.TeamYAMLPackagePathPrefix = "../software/"
	cfg.PlatformDirs = map[string]config.PlatformDir{
		"windows": {SoftwareDir: "win/software"},
	}

	l, err := Layout(cfg, platform.Darwin)
	if err != nil {
		t.Fatal(err)
	}
	if l.SoftwareDir != "software" || l.PathPrefix != "../software/" || l.Suffix != ".yml" {
		t.Errorf("darwin layout = %+v", l)
	}
	l, err = Layout(cfg, platform.Windows)
	if err != nil {
		t.Fatal(err)
	}
	if l.SoftwareDir != "win/software" || l.PathPrefix != "../lib/windows/software/" {
		t.Errorf("windows layout = %+v", l)
	}
}
