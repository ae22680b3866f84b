package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SharedBranchName is the branch every publish run commits to. A single
// branch keeps earlier unmerged packages visible to the GitOps runner.
const SharedBranchName = "software-updates"

// SharedBranch returns <prefix>/software-updates.
func SharedBranch(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "autopkg"
	}
	return prefix + "/" + SharedBranchName
}

// BranchState records how the shared branch was obtained.
type BranchState string

const (
	BranchMissing    BranchState = "missing"
	BranchCreated    BranchState = "created"
	BranchCheckedOut BranchState = "checked-out"
)

// Options configure a working tree.
type Options struct {
	RepoURL     string
	Token       string
	BaseBranch  string
	Branch      string
	AuthorName  string
	AuthorEmail string
	// Depth limits clone history. Zero clones everything.
	Depth  int
	Logger zerolog.Logger
}

// Workspace is a clone positioned on the shared branch.
type Workspace struct {
	Repo   *Repository
	Branch string
	State  BranchState
	logger zerolog.Logger
}

// Prepare clones the base branch into dir and switches to the shared branch,
// continuing it from the remote when it exists and creating it from the base
// otherwise.
func Prepare(ctx context.Context, dir string, opts Options) (*Workspace, error) {
	if opts.RepoURL == "" || opts.BaseBranch == "" || opts.Branch == "" {
		return nil, errors.New("git: repo URL, base branch and branch are required")
	}
	secrets := []string{opts.Token}

	cloneArgs := []string{"clone", "--origin", "origin", "--branch", opts.BaseBranch}
	if opts.Depth > 0 {
		cloneArgs = append(cloneArgs, "--depth", fmt.Sprint(opts.Depth), "--no-single-branch")
	}
	cloneArgs = append(cloneArgs, AuthenticatedURL(opts.RepoURL, opts.Token), dir)
	if _, err := run(ctx, "", secrets, cloneArgs...); err != nil {
		return nil, err
	}

	ws := &Workspace{
		Repo:   NewRepository(dir, secrets...),
		Branch: opts.Branch,
		State:  BranchMissing,
		logger: opts.Logger,
	}
	if err := ws.configureIdentity(ctx, opts.AuthorName, opts.AuthorEmail); err != nil {
		return nil, err
	}
	if err := ws.ensureBranch(ctx, opts.Depth); err != nil {
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) configureIdentity(ctx context.Context, name, email string) error {
	if name != "" {
		if _, err := w.Repo.Run(ctx, "config", "user.name", name); err != nil {
			return err
		}
	}
	if email != "" {
		if _, err := w.Repo.Run(ctx, "config", "user.email", email); err != nil {
			return err
		}
	}
	return nil
}

// RemoteBranchExists asks the remote whether branch exists.
func (w *Workspace) RemoteBranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := w.Repo.Run(ctx, "ls-remote", "--exit-code", "--heads", "origin", branch)
	if err == nil {
		return true, nil
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.ExitCode == 2 {
		return false, nil
	}
	return false, err
}

func (w *Workspace) ensureBranch(ctx context.Context, depth int) error {
	exists, err := w.RemoteBranchExists(ctx, w.Branch)
	if err != nil {
		return err
	}
	if !exists {
		w.logger.Info().Str("branch", w.Branch).Msg("creating shared branch")
		if _, err := w.Repo.Run(ctx, "checkout", "-b", w.Branch); err != nil {
			return err
		}
		w.State = BranchCreated
		return nil
	}

	w.logger.Info().Str("branch", w.Branch).Msg("continuing shared branch")
	refspec := fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", w.Branch, w.Branch)
	fetchArgs := []string{"fetch", "origin", refspec}
	if depth > 0 {
		fetchArgs = []string{"fetch", "--depth", fmt.Sprint(depth), "origin", refspec}
	}
	if _, err := w.Repo.Run(ctx, fetchArgs...); err != nil {
		return err
	}
	if _, err := w.Repo.Run(ctx, "checkout", "-B", w.Branch, "origin/"+w.Branch); err != nil {
		return err
	}
	w.State = BranchCheckedOut
	return nil
}

// Stage adds paths to the index.
func (w *Workspace) Stage(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := w.Repo.Run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// HasChanges reports whether paths differ from HEAD, staged or not.
func (w *Workspace) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	out, err := w.Repo.Run(ctx, args...)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CommitAndPush stages paths and, when anything changed, commits with
// message and pushes the branch with upstream tracking. It reports whether a
// commit was made. A rejected push is returned as an error; callers re-run.
func (w *Workspace) CommitAndPush(ctx context.Context, message string, paths ...string) (bool, error) {
	if err := w.Stage(ctx, paths...); err != nil {
		return false, err
	}
	changed, err := w.HasChanges(ctx, paths...)
	if err != nil {
		return false, err
	}
	if !changed {
		w.logger.Info().Str("branch", w.Branch).Msg("no changes to commit")
		return false, nil
	}
	if _, err := w.Repo.Run(ctx, "commit", "-m", message); err != nil {
		return false, err
	}
	if _, err := w.Repo.Run(ctx, "push", "--set-upstream", "origin", w.Branch); err != nil {
		return true, err
	}
	head, _ := w.Repo.Run(ctx, "rev-parse", "HEAD")
	w.logger.Info().Str("branch", w.Branch).Str("commit", head).Msg("pushed")
	return true, nil
}
