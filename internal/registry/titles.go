package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Title is one software title as returned by the titles search endpoint.
type Title struct {
	ID              int            `json:"id"`
	Name            string         `json:"name"`
	Versions        []TitleVersion `json:"versions"`
	SoftwarePackage *PackageInfo   `json:"software_package"`
	HashSHA256      string         `json:"hash_sha256"`
}

// PackageInfo describes the installer currently attached to a title.
type PackageInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	HashSHA256 string `json:"hash_sha256"`
}

// TitleVersion accepts both {"version": "1.2.3", ...} and a bare "1.2.3".
type TitleVersion struct {
	ID      int    `json:"id"`
	Version string `json:"version"`
}

func (v *TitleVersion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &v.Version)
	}
	type plain TitleVersion
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = TitleVersion(p)
	return nil
}

// Hash returns the title's hash, falling back to the package hash.
func (t *Title) Hash() string {
	if t.HashSHA256 != "" {
		return t.HashSHA256
	}
	if t.SoftwarePackage != nil {
		return t.SoftwarePackage.HashSHA256
	}
	return ""
}

// HasVersion reports whether version equals one of the listed versions or the
// active package version. Comparison is byte-for-byte.
func (t *Title) HasVersion(version string) bool {
	for _, v := range t.Versions {
		if v.Version == version {
			return true
		}
	}
	return t.SoftwarePackage != nil && t.SoftwarePackage.Version == version
}

// SearchTitles lists titles available for install on the client's team whose
// name matches query.
func (c *Client) SearchTitles(ctx context.Context, query string) ([]Title, error) {
	q := url.Values{}
	q.Set("available_for_install", "true")
	q.Set("team_id", strconv.Itoa(c.teamID))
	q.Set("query", query)

	var resp struct {
		SoftwareTitles []Title `json:"software_titles"`
	}
	if err := c.getJSON(ctx, "search titles", "/software/titles?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.SoftwareTitles, nil
}

// MatchTitle picks the title for name: exact match first, then
// case-insensitive, then containment in either direction. Returns nil when
// nothing matches.
func MatchTitle(titles []Title, name string) *Title {
	for i := range titles {
		if titles[i].Name == name {
			return &titles[i]
		}
	}
	for i := range titles {
		if strings.EqualFold(titles[i].Name, name) {
			return &titles[i]
		}
	}
	want := strings.ToLower(name)
	if want == "" {
		return nil
	}
	for i := range titles {
		got := strings.ToLower(titles[i].Name)
		if got == "" {
			continue
		}
		if strings.Contains(got, want) || strings.Contains(want, got) {
			return &titles[i]
		}
	}
	return nil
}

// TitleSearcher is implemented by *Client.
type TitleSearcher interface {
	SearchTitles(ctx context.Context, query string) ([]Title, error)
}

// FindExisting reports whether title at exactly version is already published.
// It returns nil when nothing matches. A non-nil error means the lookup itself
// failed; callers treat that as not found.
func FindExisting(ctx context.Context, s TitleSearcher, title, version string) (*UploadResult, error) {
	titles, err := s.SearchTitles(ctx, title)
	if err != nil {
		return nil, err
	}
	match := MatchTitle(titles, title)
	if match == nil || !match.HasVersion(version) {
		return nil, nil
	}
	id := match.ID
	return &UploadResult{
		TitleID:        &id,
		Hash:           match.Hash(),
		AlreadyExisted: true,
		MatchedName:    match.Name,
	}, nil
}
