package github

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// PullRequests is the API surface the Reconciler needs.
type PullRequests interface {
	FindOpenPullRequest(ctx context.Context, repo, head, base string) (*PullRequest, error)
	CreatePullRequest(ctx context.Context, repo string, req NewPullRequest) (*PullRequest, error)
	AddLabels(ctx context.Context, repo string, number int, labels []string) error
	RequestReviewers(ctx context.Context, repo string, number int, reviewers []string) error
}

// Request describes the pull request to open or reuse.
type Request struct {
	Repo     string
	Head     string
	Base     string
	Title    string
	Body     string
	Labels   []string
	Reviewer string
}

// SideEffectError is a failed best-effort call made after the pull request
// was found or opened.
type SideEffectError struct {
	Action string
	Number int
	Err    error
}

func (e *SideEffectError) Error() string {
	if e.Number > 0 {
		return fmt.Sprintf("%s on #%d: %v", e.Action, e.Number, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *SideEffectError) Unwrap() error {
	return e.Err
}

// Outcome is the pull request a reconcile ended on.
type Outcome struct {
	PullRequest PullRequest

	// Reused is true when an open pull request already existed.
	Reused bool

	// Warnings lists best-effort failures. They never fail the reconcile.
	Warnings []*SideEffectError
}

// Reconciler keeps at most one open pull request per head and base.
type Reconciler struct {
	API    PullRequests
	Logger zerolog.Logger
}

// OpenOrReuse returns the open pull request for req.Head into req.Base,
// creating it when none exists. A create that races another run (422) falls
// back to the search. Labels and the reviewer are applied only to pull
// requests this call opened or recovered from a race; an existing request
// is left as is.
func (r *Reconciler) OpenOrReuse(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{}

	existing, err := r.API.FindOpenPullRequest(ctx, req.Repo, req.Head, req.Base)
	if err != nil {
		// The create below still detects an existing request.
		r.Logger.Warn().Err(err).Str("head", req.Head).Msg("pull request search failed")
		out.Warnings = append(out.Warnings, &SideEffectError{Action: "search pull requests", Err: err})
	}
	if existing != nil {
		r.Logger.Info().Str("url", existing.HTMLURL).Msg("reusing open pull request")
		out.PullRequest = *existing
		out.Reused = true
		return out, nil
	}

	created, err := r.API.CreatePullRequest(ctx, req.Repo, NewPullRequest{
		Title:               req.Title,
		Head:                req.Head,
		Base:                req.Base,
		Body:                req.Body,
		MaintainerCanModify: true,
	})
	switch {
	case err == nil && created != nil && created.HTMLURL != "":
		out.PullRequest = *created
		r.Logger.Info().Str("url", created.HTMLURL).Int("number", created.Number).Msg("opened pull request")
	case err == nil || IsValidationFailed(err):
		found, searchErr := r.API.FindOpenPullRequest(ctx, req.Repo, req.Head, req.Base)
		if searchErr != nil {
			return nil, fmt.Errorf("recovering pull request after create: %w", searchErr)
		}
		if found == nil {
			if err != nil {
				return nil, fmt.Errorf("creating pull request: %w", err)
			}
			return nil, errors.New("creating pull request: response carried no URL and no open pull request was found")
		}
		r.Logger.Info().Str("url", found.HTMLURL).Msg("pull request opened concurrently; reusing")
		out.PullRequest = *found
	default:
		return nil, fmt.Errorf("creating pull request: %w", err)
	}

	number := out.PullRequest.Number
	if number <= 0 {
		return out, nil
	}
	if len(req.Labels) > 0 {
		if err := r.API.AddLabels(ctx, req.Repo, number, req.Labels); err != nil {
			r.Logger.Warn().Err(err).Int("number", number).Msg("adding labels failed")
			out.Warnings = append(out.Warnings, &SideEffectError{Action: "add labels", Number: number, Err: err})
		}
	}
	if req.Reviewer != "" {
		if err := r.API.RequestReviewers(ctx, req.Repo, number, []string{req.Reviewer}); err != nil {
			r.Logger.Warn().Err(err).Int("number", number).Msg("requesting reviewer failed")
			out.Warnings = append(out.Warnings, &SideEffectError{Action: "request reviewer", Number: number, Err: err})
		}
	}
	return out, nil
}
