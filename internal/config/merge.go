package config

import "fmt"

// Merge combines two configs where overlay takes precedence over base.
//   - version: must agree if both declare it (non-zero); fatal error on mismatch
//   - scalar fields: non-zero overlay value wins
//   - github.labels: overlay replaces base when set (an empty list clears labels)
//   - platform_dirs: merge by platform name, overlay entry wins
func Merge(base, overlay *Config) (*Config, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := *base

	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	r, o := &result.Registry, overlay.Registry
	str(&r.URL, o.URL)
	str(&r.Token, o.Token)
	if o.TeamID != 0 {
		r.TeamID = o.TeamID
	}
	str(&r.MinimumVersion, o.MinimumVersion)
	str(&r.Timeout, o.Timeout)
	str(&r.UploadTimeout, o.UploadTimeout)

	g, og := &result.GitOps, overlay.GitOps
	if og.Enabled != nil {
		v := *og.Enabled
		g.Enabled = &v
	}
	str(&g.RepoURL, og.RepoURL)
	str(&g.BaseBranch, og.BaseBranch)
	str(&g.BranchPrefix, og.BranchPrefix)
	str(&g.AuthorName, og.AuthorName)
	str(&g.AuthorEmail, og.AuthorEmail)
	str(&g.SoftwareDir, og.SoftwareDir)
	str(&g.PackageYAMLSuffix, og.PackageYAMLSuffix)
	str(&g.TeamYAMLPath, og.TeamYAMLPath)
	str(&g.TeamYAMLPackagePathPrefix, og.TeamYAMLPackagePathPrefix)
	str(&g.CommitMessage, og.CommitMessage)
	str(&g.PRTitle, og.PRTitle)

	h, oh := &result.GitHub, overlay.GitHub
	str(&h.APIURL, oh.APIURL)
	str(&h.Repo, oh.Repo)
	str(&h.Token, oh.Token)
	str(&h.Reviewer, oh.Reviewer)
	str(&h.Timeout, oh.Timeout)
	if oh.Labels != nil {
		h.Labels = append([]string(nil), oh.Labels...)
	}

	st, ost := &result.Store, overlay.Store
	if ost.Enabled {
		st.Enabled = true
	}
	str(&st.Endpoint, ost.Endpoint)
	str(&st.Region, ost.Region)
	str(&st.Bucket, ost.Bucket)
	str(&st.Prefix, ost.Prefix)
	str(&st.AccessKeyID, ost.AccessKeyID)
	str(&st.SecretAccessKey, ost.SecretAccessKey)
	str(&st.SessionToken, ost.SessionToken)
	str(&st.Timeout, ost.Timeout)
	if ost.Retain != nil {
		v := *ost.Retain
		st.Retain = &v
	}

	a, oa := &result.AutoUpdate, overlay.AutoUpdate
	if oa.Enabled {
		a.Enabled = true
	}
	str(&a.NameTemplate, oa.NameTemplate)
	str(&a.BundleID, oa.BundleID)

	result.PlatformDirs = mergePlatformDirs(base.PlatformDirs, overlay.PlatformDirs)

	return &result, nil
}

// MergeAll merges multiple configs in order (lowest precedence first).
func MergeAll(configs []*Config) (*Config, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	result := configs[0]
	for i := 1; i < len(configs); i++ {
		var err error
		result, err = Merge(result, configs[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func str(dst *string, overlay string) {
	if overlay != "" {
		*dst = overlay
	}
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0 && overlay == 0:
		*out = 0 // neither declares; validation will catch this
	case base == 0:
		*out = overlay
	case overlay == 0:
		*out = base
	case base == overlay:
		*out = base
	default:
		return fmt.Errorf("config version mismatch: one layer declares version %d, another declares version %d — all config layers must agree on version", base, overlay)
	}
	return nil
}

func mergePlatformDirs(base, overlay map[string]PlatformDir) map[string]PlatformDir {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	result := make(map[string]PlatformDir, len(base)+len(overlay))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		result[k] = v
	}
	return result
}
