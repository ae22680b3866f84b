package engine

import (
	"errors"
	"fmt"

	"github.com/bianoble/fleet-publish/internal/config"
	"github.com/bianoble/fleet-publish/internal/git"
	"github.com/bianoble/fleet-publish/internal/github"
	"github.com/bianoble/fleet-publish/internal/gitops"
	"github.com/bianoble/fleet-publish/internal/platform"
	"github.com/bianoble/fleet-publish/internal/registry"
	"github.com/bianoble/fleet-publish/internal/report"
	"github.com/bianoble/fleet-publish/internal/store"
)

// Step names a pipeline stage in errors and warnings.
type Step string

const (
	StepValidate   Step = "validate"
	StepCapability Step = "capability"
	StepProbe      Step = "probe"
	StepHash       Step = "hash"
	StepPublish    Step = "publish"
	StepMirror     Step = "mirror"
	StepRetention  Step = "retention"
	StepPolicy     Step = "policy"
	StepClone      Step = "clone"
	StepSync       Step = "sync"
	StepCommit     Step = "commit"
	StepReview     Step = "pull-request"
)

// Kind classifies a fatal failure.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindVersionUnsupported Kind = "version-unsupported"
	KindTransport          Kind = "transport"
	KindIO                 Kind = "io"
	KindPublishFailed      Kind = "publish-failed"
	KindStoreFailed        Kind = "store-failed"
	KindGitOperationFailed Kind = "git-operation-failed"
	KindPullRequestFailed  Kind = "pull-request-failed"
)

// StepError is a fatal pipeline failure.
type StepError struct {
	Step Step
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// fail wraps err for step. Transport failures are classified as such
// regardless of the step's default kind.
func fail(step Step, kind Kind, err error) *StepError {
	var te *registry.TransportError
	if errors.As(err, &te) {
		kind = KindTransport
	}
	return &StepError{Step: step, Kind: kind, Err: err}
}

// Warning is a best-effort failure that did not stop the run.
type Warning struct {
	Step Step
	Err  error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Step, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Artifact is one installer to publish.
type Artifact struct {
	Path     string
	Title    string
	Version  string
	Platform platform.Platform
	// Slug names the package file. Defaults to a slug of Title.
	Slug string

	SelfService      bool
	AutomaticInstall bool
	SetupExperience  bool
	LabelsIncludeAny []string
	LabelsExcludeAny []string

	// Script contents are uploaded. A Path is written into the package
	// file instead of the contents.
	PreInstallQuery   gitops.Script
	InstallScript     gitops.Script
	UninstallScript   gitops.Script
	PostInstallScript gitops.Script

	// BundleID enables the auto-update policy for darwin packages.
	BundleID string
}

// Result is the outcome of a publish run.
type Result struct {
	Title      string
	Version    string
	Slug       string
	Capability registry.Capability
	Upload     registry.UploadResult
	// Hash is the SHA-256 recorded in the package file: the registry's when
	// it reports one, otherwise LocalHash.
	Hash string
	// LocalHash is the SHA-256 of the artifact on disk.
	LocalHash string

	Mirror    *store.MirrorResult
	Retention *store.RetentionResult

	PolicyName    string
	PolicyCreated bool

	Branch      string
	BranchState git.BranchState
	Changes     []gitops.Change
	Committed   bool
	PullRequest *github.PullRequest
	Reused      bool

	// Summary is a markdown description of the package, set in direct mode.
	Summary string

	Warnings []Warning
}

func (r *Result) warn(step Step, err error) {
	r.Warnings = append(r.Warnings, Warning{Step: step, Err: err})
}

// Outputs converts the result into the persisted outputs file.
func (r *Result) Outputs() *report.Outputs {
	out := &report.Outputs{
		Version:        report.FormatVersion,
		Title:          r.Title,
		SoftwareVer:    r.Version,
		TitleID:        r.Upload.TitleID,
		InstallerID:    r.Upload.InstallerID,
		HashSHA256:     r.Hash,
		AlreadyExisted: r.Upload.AlreadyExisted,
		SchemaVariant:  string(r.Capability.Variant),
		GitBranch:      r.Branch,
		Committed:      r.Committed,
	}
	if r.Mirror != nil {
		out.StoreKey = r.Mirror.Key
	}
	if r.PullRequest != nil {
		out.PullRequestURL = r.PullRequest.HTMLURL
	}
	for _, w := range r.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	return out
}

// Layout resolves where package files for p live, applying the platform map
// and then the repository-wide overrides from cfg.
func Layout(cfg *config.Config, p platform.Platform) (gitops.Layout, error) {
	overrides := make(map[string]platform.Layout, len(cfg.PlatformDirs))
	for name, d := range cfg.PlatformDirs {
		overrides[name] = platform.Layout{SoftwareDir: d.SoftwareDir, PathPrefix: d.PathPrefix}
	}
	m, err := platform.NewMap(overrides)
	if err != nil {
		return gitops.Layout{}, err
	}
	pl, err := m.Resolve(p)
	if err != nil {
		return gitops.Layout{}, err
	}
	if cfg.GitOps.SoftwareDir != "" && !m.IsCustom(p) {
		pl.SoftwareDir = cfg.GitOps.SoftwareDir
	}
	if cfg.GitOps.TeamYAMLPackagePathPrefix != "" && !m.IsCustom(p) {
		pl.PathPrefix = cfg.GitOps.TeamYAMLPackagePathPrefix
	}
	suffix := cfg.GitOps.PackageYAMLSuffix
	if suffix == "" {
		suffix = config.DefaultPackageYAMLSuffix
	}
	return gitops.Layout{
		SoftwareDir:  pl.SoftwareDir,
		Suffix:       suffix,
		TeamYAMLPath: cfg.GitOps.TeamYAMLPath,
		PathPrefix:   pl.PathPrefix,
	}, nil
}
