package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/config"
	"github.com/bianoble/fleet-publish/internal/digest"
	"github.com/bianoble/fleet-publish/internal/git"
	"github.com/bianoble/fleet-publish/internal/github"
	"github.com/bianoble/fleet-publish/internal/gitops"
	"github.com/bianoble/fleet-publish/internal/platform"
	"github.com/bianoble/fleet-publish/internal/registry"
	"github.com/bianoble/fleet-publish/internal/render"
	"github.com/bianoble/fleet-publish/internal/sandbox"
	"github.com/bianoble/fleet-publish/internal/store"
)

var errNoTeamDocument = errors.New("gitops.team_yaml_path is required: this server version keeps self-service and label targeting in the team YAML")

// Registry is the registry API used by the pipeline. *registry.Client
// implements it.
type Registry interface {
	registry.VersionSource
	registry.TitleSearcher
	UploadPackage(ctx context.Context, title, path string, opts registry.PackageOptions) (*registry.UploadResult, error)
	UpsertPolicy(ctx context.Context, p registry.Policy) (bool, error)
}

// Store is the object store used for mirroring and retention.
// *store.Client implements it.
type Store interface {
	store.ObjectWriter
	store.ObjectStore
}

// PublishEngine runs the publish pipeline for one artifact.
type PublishEngine struct {
	Config   *config.Config
	Registry Registry
	// Store is nil when mirroring is disabled.
	Store Store
	// PullRequests is required when GitOps is enabled.
	PullRequests github.PullRequests
	// WorkDir is where the config repository is cloned. Empty uses the
	// system temp directory.
	WorkDir string
	Logger  zerolog.Logger
}

// Publish uploads the artifact unless it is already published, mirrors it,
// and converges the GitOps repository to reference it. Best-effort failures
// are returned as warnings on the result.
func (e *PublishEngine) Publish(ctx context.Context, a Artifact) (*Result, error) {
	log := e.Logger.With().Str("title", a.Title).Str("version", a.Version).Logger()

	a, opts, err := e.prepare(a)
	if err != nil {
		return nil, err
	}
	res := &Result{Title: a.Title, Version: a.Version, Slug: a.Slug}

	capability, err := registry.ResolveCapability(ctx, e.Registry, e.Config.Registry.MinimumVersion, log)
	if err != nil {
		var unsupported *registry.UnsupportedVersionError
		if errors.As(err, &unsupported) {
			return nil, &StepError{Step: StepCapability, Kind: KindVersionUnsupported, Err: err}
		}
		return nil, fail(StepCapability, KindValidation, err)
	}
	res.Capability = capability
	if capability.Fallback {
		res.warn(StepCapability, fmt.Errorf("server version unavailable, assuming %s", capability.RawVersion))
	}
	log.Info().Str("server_version", capability.RawVersion).Str("schema", string(capability.Variant)).Msg("resolved registry capability")

	if e.Config.GitOpsEnabled() && capability.Variant == registry.SchemaCurrent {
		layout, err := Layout(e.Config, a.Platform)
		if err != nil {
			return nil, fail(StepValidate, KindValidation, err)
		}
		if layout.TeamYAMLPath == "" {
			return nil, &StepError{Step: StepValidate, Kind: KindValidation, Err: errNoTeamDocument}
		}
	}

	res.LocalHash, err = digest.File(a.Path)
	if err != nil {
		return nil, &StepError{Step: StepHash, Kind: KindIO, Err: err}
	}
	res.Hash = res.LocalHash

	if err := e.publish(ctx, log, a, opts, res); err != nil {
		return nil, err
	}

	if e.Store != nil {
		if err := e.mirror(ctx, log, a, res); err != nil {
			return nil, err
		}
	}

	if e.Config.AutoUpdate.Enabled {
		e.upsertPolicy(ctx, log, a, res)
	}

	if !e.Config.GitOpsEnabled() {
		layout, err := Layout(e.Config, a.Platform)
		if err != nil {
			return nil, fail(StepSync, KindValidation, err)
		}
		res.Summary, err = render.PackageSummary(render.PackageNote{
			Vars:             e.vars(a, res),
			PackagePath:      layout.PathPrefix + a.Slug + layout.Suffix,
			SelfService:      a.SelfService,
			LabelsIncludeAny: a.LabelsIncludeAny,
			LabelsExcludeAny: a.LabelsExcludeAny,
		})
		if err != nil {
			return nil, fail(StepSync, KindValidation, err)
		}
		log.Info().Msg("gitops disabled; published directly")
		return res, nil
	}

	if err := e.converge(ctx, log, a, res); err != nil {
		return nil, err
	}
	return res, nil
}

// prepare validates the artifact and fills defaults.
func (e *PublishEngine) prepare(a Artifact) (Artifact, registry.PackageOptions, error) {
	var errs []string
	a.Title = strings.TrimSpace(a.Title)
	a.Version = strings.TrimSpace(a.Version)
	if a.Title == "" {
		errs = append(errs, "title is required")
	}
	if a.Version == "" {
		errs = append(errs, "version is required")
	}
	if a.Path == "" {
		errs = append(errs, "artifact path is required")
	} else if st, err := os.Stat(a.Path); err != nil {
		errs = append(errs, fmt.Sprintf("artifact %s: %v", a.Path, err))
	} else if st.IsDir() {
		errs = append(errs, fmt.Sprintf("artifact %s is a directory", a.Path))
	}
	if a.Platform == "" {
		a.Platform = platform.Default
	}
	if _, err := platform.Parse(string(a.Platform)); err != nil {
		errs = append(errs, err.Error())
	}
	if a.Slug == "" {
		a.Slug = gitops.Slugify(a.Title)
	}
	if a.AutomaticInstall && !a.Platform.SupportsAutomaticInstall() {
		e.Logger.Warn().Str("platform", string(a.Platform)).Msg("automatic_install is only supported for darwin; ignoring")
		a.AutomaticInstall = false
	}

	opts := registry.PackageOptions{
		SelfService:       a.SelfService,
		AutomaticInstall:  a.AutomaticInstall,
		LabelsIncludeAny:  a.LabelsIncludeAny,
		LabelsExcludeAny:  a.LabelsExcludeAny,
		InstallScript:     a.InstallScript.Contents,
		UninstallScript:   a.UninstallScript.Contents,
		PreInstallQuery:   a.PreInstallQuery.Contents,
		PostInstallScript: a.PostInstallScript.Contents,
	}
	if err := opts.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return a, opts, &StepError{Step: StepValidate, Kind: KindValidation, Err: &config.ValidationError{Errors: errs}}
	}
	return a, opts, nil
}

// publish probes for the package and uploads it when absent.
func (e *PublishEngine) publish(ctx context.Context, log zerolog.Logger, a Artifact, opts registry.PackageOptions, res *Result) error {
	existing, err := registry.FindExisting(ctx, e.Registry, a.Title, a.Version)
	if err != nil {
		log.Warn().Err(err).Msg("existence probe failed; uploading")
		res.warn(StepProbe, err)
	}
	if existing != nil {
		log.Info().Str("matched", existing.MatchedName).Msg("package already published; skipping upload")
		res.Upload = *existing
		e.adoptHash(res, existing.Hash)
		return nil
	}

	uploaded, err := e.Registry.UploadPackage(ctx, a.Title, a.Path, opts)
	if err != nil {
		return fail(StepPublish, KindPublishFailed, err)
	}
	res.Upload = *uploaded
	e.adoptHash(res, uploaded.Hash)
	if uploaded.AlreadyExisted {
		log.Info().Msg("registry reports package already exists")
	} else {
		log.Info().Str("hash", digest.Short(res.Hash)).Msg("uploaded package")
	}
	return nil
}

// adoptHash records the registry's hash when it reports one. A hash that
// differs from the local digest is kept but flagged.
func (e *PublishEngine) adoptHash(res *Result, reported string) {
	if reported == "" {
		res.Upload.Hash = res.LocalHash
		return
	}
	if reported != res.LocalHash {
		res.warn(StepPublish, fmt.Errorf("registry reported hash %s, local hash is %s", digest.Short(reported), digest.Short(res.LocalHash)))
	}
	res.Hash = reported
	res.Upload.Hash = reported
}

// mirror copies the artifact to the object store and prunes old versions.
func (e *PublishEngine) mirror(ctx context.Context, log zerolog.Logger, a Artifact, res *Result) error {
	prefix := e.Config.Store.Prefix
	key := store.ObjectKey(prefix, a.Title, a.Version, filepath.Ext(a.Path))
	m, err := store.Mirror(ctx, e.Store, key, a.Path, res.LocalHash)
	if err != nil {
		return fail(StepMirror, KindStoreFailed, err)
	}
	res.Mirror = m
	log.Info().Str("key", key).Bool("uploaded", m.Uploaded).Msg("mirrored artifact")

	c := &store.Collector{Store: e.Store, Prefix: prefix, Logger: log}
	ret, err := c.Collect(ctx, a.Title, e.Config.Store.RetainCount())
	if err != nil {
		log.Warn().Err(err).Msg("retention failed")
		res.warn(StepRetention, err)
		return nil
	}
	res.Retention = ret
	for _, f := range ret.Failures {
		res.warn(StepRetention, fmt.Errorf("deleting %s: %w", f.Key, f.Err))
	}
	return nil
}

func (e *PublishEngine) upsertPolicy(ctx context.Context, log zerolog.Logger, a Artifact, res *Result) {
	bundleID := a.BundleID
	if bundleID == "" {
		bundleID = e.Config.AutoUpdate.BundleID
	}
	if bundleID == "" || a.Platform != platform.Darwin {
		log.Debug().Msg("auto-update policy skipped")
		return
	}
	p := registry.AutoUpdatePolicy(e.Config.AutoUpdate.NameTemplate, a.Title, a.Version, bundleID)
	created, err := e.Registry.UpsertPolicy(ctx, p)
	if err != nil {
		log.Warn().Err(err).Str("policy", p.Name).Msg("auto-update policy failed")
		res.warn(StepPolicy, err)
		return
	}
	res.PolicyName = p.Name
	res.PolicyCreated = created
	log.Info().Str("policy", p.Name).Bool("created", created).Msg("auto-update policy upserted")
}

// converge writes the GitOps files on the shared branch, commits when they
// changed, and opens or reuses the pull request.
func (e *PublishEngine) converge(ctx context.Context, log zerolog.Logger, a Artifact, res *Result) error {
	cfg := e.Config
	layout, err := Layout(cfg, a.Platform)
	if err != nil {
		return fail(StepSync, KindValidation, err)
	}

	scratch, err := os.MkdirTemp(e.WorkDir, "fleet-publish-*")
	if err != nil {
		return &StepError{Step: StepClone, Kind: KindIO, Err: err}
	}
	defer os.RemoveAll(scratch)

	res.Branch = git.SharedBranch(cfg.GitOps.BranchPrefix)
	ws, err := git.Prepare(ctx, filepath.Join(scratch, "repo"), git.Options{
		RepoURL:     cfg.GitOps.RepoURL,
		Token:       cfg.GitHub.Token,
		BaseBranch:  cfg.GitOps.BaseBranch,
		Branch:      res.Branch,
		AuthorName:  cfg.GitOps.AuthorName,
		AuthorEmail: cfg.GitOps.AuthorEmail,
		Depth:       1,
		Logger:      log,
	})
	if err != nil {
		return &StepError{Step: StepClone, Kind: KindGitOperationFailed, Err: err}
	}
	res.BranchState = ws.State

	root, err := sandbox.New(ws.Repo.Dir())
	if err != nil {
		return &StepError{Step: StepSync, Kind: KindIO, Err: err}
	}
	syncer := &gitops.Synchronizer{Root: root, Layout: layout}
	targeting := gitops.Targeting{
		SelfService:      a.SelfService,
		SetupExperience:  a.SetupExperience,
		LabelsIncludeAny: a.LabelsIncludeAny,
		LabelsExcludeAny: a.LabelsExcludeAny,
	}
	pkg, err := syncer.WritePackage(a.Slug, gitops.PackageSpec{
		Name:              a.Title,
		Version:           a.Version,
		Platform:          a.Platform,
		Hash:              res.Hash,
		AutomaticInstall:  a.AutomaticInstall,
		PreInstallQuery:   a.PreInstallQuery,
		InstallScript:     a.InstallScript,
		UninstallScript:   a.UninstallScript,
		PostInstallScript: a.PostInstallScript,
		Targeting:         targeting,
	}, res.Capability.Variant)
	if err != nil {
		return &StepError{Step: StepSync, Kind: KindIO, Err: err}
	}
	res.Changes = append(res.Changes, pkg)

	if layout.TeamYAMLPath != "" {
		team, err := syncer.MergeTeam(a.Slug, gitops.TeamFields(targeting, res.Capability.Variant))
		if err != nil {
			return &StepError{Step: StepSync, Kind: KindIO, Err: err}
		}
		res.Changes = append(res.Changes, team)
	}

	vars := e.vars(a, res)
	message, err := render.CommitMessage(cfg.GitOps.CommitMessage, vars)
	if err != nil {
		return fail(StepCommit, KindValidation, err)
	}
	paths := make([]string, 0, len(res.Changes))
	for _, c := range res.Changes {
		paths = append(paths, c.Path)
	}
	res.Committed, err = ws.CommitAndPush(ctx, message, paths...)
	if err != nil {
		return &StepError{Step: StepCommit, Kind: KindGitOperationFailed, Err: err}
	}
	if !res.Committed {
		log.Info().Msg("no changes; skipping push and pull request")
		return nil
	}

	return e.review(ctx, log, syncer, vars, res)
}

func (e *PublishEngine) review(ctx context.Context, log zerolog.Logger, syncer *gitops.Synchronizer, vars render.Vars, res *Result) error {
	cfg := e.Config
	if e.PullRequests == nil {
		return &StepError{Step: StepReview, Kind: KindValidation, Err: errors.New("no pull request client configured")}
	}

	summaries, err := syncer.ScanPackages()
	if err != nil {
		log.Warn().Err(err).Msg("scanning packages for pull request body failed")
		res.warn(StepReview, err)
	}
	body := render.SharedBody{Latest: vars}
	for _, s := range summaries {
		body.Packages = append(body.Packages, render.Package{Name: s.Name, Version: s.Version, FileName: s.FileName})
	}
	text, err := render.PullRequestBody(body)
	if err != nil {
		return fail(StepReview, KindValidation, err)
	}
	title, err := render.PullRequestTitle(cfg.GitOps.PRTitle, vars)
	if err != nil {
		return fail(StepReview, KindValidation, err)
	}

	r := &github.Reconciler{API: e.PullRequests, Logger: log}
	out, err := r.OpenOrReuse(ctx, github.Request{
		Repo:     cfg.GitHub.Repo,
		Head:     res.Branch,
		Base:     cfg.GitOps.BaseBranch,
		Title:    title,
		Body:     text,
		Labels:   cfg.GitHub.Labels,
		Reviewer: cfg.GitHub.Reviewer,
	})
	if err != nil {
		return &StepError{Step: StepReview, Kind: KindPullRequestFailed, Err: err}
	}
	pr := out.PullRequest
	res.PullRequest = &pr
	res.Reused = out.Reused
	for _, w := range out.Warnings {
		res.warn(StepReview, w)
	}
	return nil
}

func (e *PublishEngine) vars(a Artifact, res *Result) render.Vars {
	v := render.Vars{
		Title:    a.Title,
		Version:  a.Version,
		Slug:     a.Slug,
		Platform: string(a.Platform),
		Hash:     res.Hash,
	}
	if res.Upload.TitleID != nil {
		v.TitleID = *res.Upload.TitleID
	}
	if res.Upload.InstallerID != nil {
		v.InstallerID = *res.Upload.InstallerID
	}
	return v
}
