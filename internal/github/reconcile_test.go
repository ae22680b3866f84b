package github

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakePulls struct {
	open      []*PullRequest // successive FindOpenPullRequest results
	findErr   error
	created   *PullRequest
	createErr error
	labelErr  error
	reviewErr error
	finds     int
	creates   int
	labels    []string
	reviewers []string
}

func (f *fakePulls) FindOpenPullRequest(ctx context.Context, repo, head, base string) (*PullRequest, error) {
	f.finds++
	if f.findErr != nil {
		return nil, f.findErr
	}
	if len(f.open) == 0 {
		return nil, nil
	}
	pr := f.open[0]
	if len(f.open) > 1 {
		f.open = f.open[1:]
	}
	return pr, nil
}

func (f *fakePulls) CreatePullRequest(ctx context.Context, repo string, req NewPullRequest) (*PullRequest, error) {
	f.creates++
	if !req.MaintainerCanModify {
		return nil, errors.New("maintainer_can_modify not set")
	}
	return f.created, f.createErr
}

func (f *fakePulls) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	f.labels = append(f.labels, labels...)
	return f.labelErr
}

func (f *fakePulls) RequestReviewers(ctx context.Context, repo string, number int, reviewers []string) error {
	f.reviewers = append(f.reviewers, reviewers...)
	return f.reviewErr
}

func testRequest() Request {
	return Request{
		Repo:     "acme/gitops",
		Head:     "autopkg/software-updates",
		Base:     "main",
		Title:    "Software updates from AutoPkg",
		Body:     "body",
		Labels:   []string{"autopkg"},
		Reviewer: "octocat",
	}
}

func TestOpenOrReuseExisting(t *testing.T) {
	api := &fakePulls{open: []*PullRequest{{Number: 3, HTMLURL: "https://github.com/acme/gitops/pull/3"}}}
	r := &Reconciler{API: api, Logger: zerolog.Nop()}

	out, err := r.OpenOrReuse(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Reused || out.PullRequest.Number != 3 {
		t.Errorf("outcome = %+v", out)
	}
	if api.creates != 0 {
		t.Errorf("creates = %d, want 0", api.creates)
	}
	if len(api.labels) != 0 || len(api.reviewers) != 0 {
		t.Error("existing pull request should not be relabelled")
	}
}

func TestOpenOrReuseCreates(t *testing.T) {
	api := &fakePulls{created: &PullRequest{Number: 7, HTMLURL: "https://github.com/acme/gitops/pull/7"}}
	r := &Reconciler{API: api, Logger: zerolog.Nop()}

	out, err := r.OpenOrReuse(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if out.Reused || out.PullRequest.HTMLURL != "https://github.com/acme/gitops/pull/7" {
		t.Errorf("outcome = %+v", out)
	}
	if len(api.labels) != 1 || api.labels[0] != "autopkg" {
		t.Errorf("labels = %v", api.labels)
	}
	if len(api.reviewers) != 1 || api.reviewers[0] != "octocat" {
		t.Errorf("reviewers = %v", api.reviewers)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("warnings = %v", out.Warnings)
	}
}

func TestOpenOrReuseRaceFallsBackToSearch(t *testing.T) {
	api := &fakePulls{
		open:      []*PullRequest{nil, {Number: 9, HTMLURL: "https://github.com/acme/gitops/pull/9"}},
		createErr: &APIError{StatusCode: 422, Message: "Validation Failed"},
	}
	r := &Reconciler{API: api, Logger: zerolog.Nop()}

	out, err := r.OpenOrReuse(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("422 should not be fatal: %v", err)
	}
	if out.PullRequest.Number != 9 {
		t.Errorf("Number = %d, want 9", out.PullRequest.Number)
	}
	if api.finds != 2 {
		t.Errorf("finds = %d, want 2", api.finds)
	}
}

func TestOpenOrReuseRaceWithNothingFound(t *testing.T) {
	api := &fakePulls{createErr: &APIError{StatusCode: 422, Message: "Validation Failed"}}
	r := &Reconciler{API: api, Logger: zerolog.Nop()}

	_, err := r.OpenOrReuse(context.Background(), testRequest())
	if !IsValidationFailed(err) {
		t.Errorf("expected wrapped 422, got %v", err)
	}
}

func TestOpenOrReuseCreateFailure(t *testing.T) {
	api := &fakePulls{createErr: &APIError{StatusCode: 403, Message: "Resource not accessible"}}
	r := &Reconciler{API: api, Logger: zerolog.Nop()}

	if _, err := r.OpenOrReuse(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error")
	}
	if api.finds != 1 {
		t.Errorf("finds = %d, want 1", api.finds)
	}
}

func TestOpenOrReuseSideEffectsAreWarnings(t *testing.T) {
	api := &fakePulls{
		created:   &PullRequest{Number: 7, HTMLURL: "https://github.com/acme/gitops/pull/7"},
		labelErr:  errors.New("label boom"),
		reviewErr: &APIError{StatusCode: 422, Message: "Reviews may only be requested from collaborators"},
	}
	r := &Reconciler{API: api, Logger: zerolog.Nop()}

	out, err := r.OpenOrReuse(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("side-effect failures must not fail: %v", err)
	}
	if len(out.Warnings) != 2 {
		t.Fatalf("warnings = %d, want 2", len(out.Warnings))
	}
	if out.Warnings[0].Action != "add labels" || out.Warnings[1].Action != "request reviewer" {
		t.Errorf("warnings = %v", out.Warnings)
	}
}

func TestOpenOrReuseSearchFailureStillCreates(t *testing.T) {
	api := &fakePulls{
		findErr: errors.New("search down"),
		created: &PullRequest{Number: 7, HTMLURL: "https://github.com/acme/gitops/pull/7"},
	}
	r := &Reconciler{API: api, Logger: zerolog.Nop()}

	out, err := r.OpenOrReuse(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if out.PullRequest.Number != 7 {
		t.Errorf("Number = %d", out.PullRequest.Number)
	}
	if len(out.Warnings) != 1 || out.Warnings[0].Action != "search pull requests" {
		t.Errorf("warnings = %v", out.Warnings)
	}
}
