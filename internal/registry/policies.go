package registry

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// PolicyNamePlaceholder is replaced by the slugified title in policy name
// templates.
const PolicyNamePlaceholder = "%NAME%"

// Policy is a team policy.
type Policy struct {
	ID          int    `json:"id,omitempty"`
	Name        string `json:"name"`
	Query       string `json:"query"`
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
	Platform    string `json:"platform"`
	Critical    bool   `json:"critical"`
}

var (
	policyStrip    = regexp.MustCompile(`[^\w\s-]`)
	policyCollapse = regexp.MustCompile(`[\s_-]+`)
)

// PolicyName renders template with every %NAME% replaced by a slug of title.
func PolicyName(template, title string) string {
	s := strings.ToLower(title)
	s = policyStrip.ReplaceAllString(s, "")
	s = policyCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return strings.ReplaceAll(template, PolicyNamePlaceholder, s)
}

// VersionQuery returns an osquery query matching hosts with bundleID
// installed below version. Single quotes are doubled.
func VersionQuery(bundleID, version string) string {
	b := strings.ReplaceAll(bundleID, "'", "''")
	v := strings.ReplaceAll(version, "'", "''")
	return "SELECT 1 WHERE EXISTS (\n" +
		"  SELECT 1 FROM apps WHERE bundle_identifier = '" + b + "' " +
		"AND version_compare(bundle_short_version, '" + v + "') < 0\n" +
		");"
}

// AutoUpdatePolicy builds the policy that flags hosts running an older
// version of title.
func AutoUpdatePolicy(template, title, version, bundleID string) Policy {
	return Policy{
		Name:        PolicyName(template, title),
		Query:       VersionQuery(bundleID, version),
		Description: fmt.Sprintf("Auto-update policy for %s (version %s). Created by fleet-publish.", title, version),
		Resolution:  fmt.Sprintf("Install %s %s via Fleet self-service.", title, version),
		Platform:    "darwin",
		Critical:    false,
	}
}

// ListPolicies returns the team's policies.
func (c *Client) ListPolicies(ctx context.Context) ([]Policy, error) {
	var resp struct {
		Policies []Policy `json:"policies"`
	}
	if err := c.getJSON(ctx, "list policies", c.policiesPath(), &resp); err != nil {
		return nil, err
	}
	return resp.Policies, nil
}

// UpsertPolicy updates the team policy named p.Name, or creates it when no
// such policy exists. It reports whether a new policy was created.
func (c *Client) UpsertPolicy(ctx context.Context, p Policy) (bool, error) {
	existing, err := c.ListPolicies(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.Name == p.Name {
			p.ID = 0
			path := fmt.Sprintf("%s/%d", c.policiesPath(), e.ID)
			return false, c.sendJSON(ctx, "update policy", http.MethodPatch, path, p, nil)
		}
	}
	return true, c.sendJSON(ctx, "create policy", http.MethodPost, c.policiesPath(), p, nil)
}

func (c *Client) policiesPath() string {
	return fmt.Sprintf("/teams/%d/policies", c.teamID)
}
