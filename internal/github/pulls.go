package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// PullRequest is the subset of a pull request (or its search hit) in use.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
	State   string `json:"state"`
}

// NewPullRequest is the body of a create request.
type NewPullRequest struct {
	Title               string `json:"title"`
	Head                string `json:"head"`
	Base                string `json:"base"`
	Body                string `json:"body"`
	MaintainerCanModify bool   `json:"maintainer_can_modify"`
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("github: repo %q must be owner/repo", repo)
	}
	return url.PathEscape(owner), url.PathEscape(name), nil
}

// FindOpenPullRequest searches for an open pull request from head into base.
// It returns nil when none exists.
func (c *Client) FindOpenPullRequest(ctx context.Context, repo, head, base string) (*PullRequest, error) {
	if _, _, err := splitRepo(repo); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("repo:%s is:pr is:open head:%s base:%s", repo, head, base)
	var result struct {
		TotalCount int           `json:"total_count"`
		Items      []PullRequest `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/issues?q="+url.QueryEscape(q), nil, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	pr := result.Items[0]
	return &pr, nil
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, repo string, req NewPullRequest) (*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var pr PullRequest
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", owner, name), req, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// AddLabels attaches labels to an issue or pull request.
func (c *Client) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	body := map[string][]string{"labels": labels}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, name, number), body, nil)
}

// RequestReviewers asks the given users to review a pull request.
func (c *Client) RequestReviewers(ctx context.Context, repo string, number int, reviewers []string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	body := map[string][]string{"reviewers": reviewers}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls/%d/requested_reviewers", owner, name, number), body, nil)
}
