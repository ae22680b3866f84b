package config

import "strings"

// LookupFunc matches os.LookupEnv. Injected so credential binding happens
// once, at process start, and stays testable.
type LookupFunc func(key string) (string, bool)

// Environment variable names bound by BindEnv.
const (
	EnvRegistryToken   = "FLEET_API_TOKEN"
	EnvGitHubToken     = "FLEET_GITOPS_GITHUB_TOKEN"
	EnvGitHubTokenAlt  = "GITHUB_TOKEN"
	EnvReviewer        = "PR_REVIEWER"
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
	EnvRegion          = "AWS_REGION"
	EnvNoInherit       = "FLEET_PUBLISH_NO_INHERIT"
)

// BindEnv fills empty credential fields from the environment. Values already
// present in the config always win.
func BindEnv(cfg *Config, lookup LookupFunc) {
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}

	fill(&cfg.Registry.Token, EnvRegistryToken)
	fill(&cfg.GitHub.Token, EnvGitHubToken, EnvGitHubTokenAlt)
	fill(&cfg.GitHub.Reviewer, EnvReviewer)
	fill(&cfg.Store.AccessKeyID, EnvAccessKeyID)
	fill(&cfg.Store.SecretAccessKey, EnvSecretAccessKey)
	fill(&cfg.Store.SessionToken, EnvSessionToken)
	fill(&cfg.Store.Region, EnvRegion)
}

// NoInherit reports whether FLEET_PUBLISH_NO_INHERIT is "1" or "true".
func NoInherit(lookup LookupFunc) bool {
	v, _ := lookup(EnvNoInherit)
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true"
}
