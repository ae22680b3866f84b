package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// SchemaVariant decides which GitOps document owns the self-service and
// label-targeting fields of a package.
type SchemaVariant string

const (
	// SchemaLegacy keeps targeting inside the package YAML.
	SchemaLegacy SchemaVariant = "legacy"
	// SchemaCurrent moves targeting into the team YAML package entry.
	SchemaCurrent SchemaVariant = "current"
)

// CurrentSchemaVersion is the first server release that reads targeting from
// the team YAML.
const CurrentSchemaVersion = "4.74.0"

// Capability is the server's reported version and the schema variant derived
// from it. It is resolved once per run.
type Capability struct {
	RawVersion string
	Variant    SchemaVariant
	// Fallback is set when the server could not be queried and the minimum
	// version was assumed instead.
	Fallback bool
}

// Version is a parsed MAJOR.MINOR.PATCH triple.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	for _, d := range [3]int{v.Major - o.Major, v.Minor - o.Minor, v.Patch - o.Patch} {
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
	}
	return 0
}

// IsZero reports whether v is 0.0.0, the marker development builds report.
func (v Version) IsZero() bool {
	return v == Version{}
}

// ParseVersion parses MAJOR.MINOR.PATCH with an optional -suffix, which is
// ignored.
func ParseVersion(s string) (Version, error) {
	core, _, _ := strings.Cut(strings.TrimSpace(s), "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version %q is not MAJOR.MINOR.PATCH", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("version %q has non-numeric component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// ServerVersion returns the raw version string the server reports.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "version", "/version", &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Version) == "" {
		return "", fmt.Errorf("version: response has no version field")
	}
	return strings.TrimSpace(resp.Version), nil
}

// VersionSource is implemented by *Client.
type VersionSource interface {
	ServerVersion(ctx context.Context) (string, error)
}

// ResolveCapability queries the server version and maps it to a schema
// variant. Query failures fall back to minimum. 0.0.0 is treated as exactly
// minimum, and unparseable versions are accepted. Only a version strictly
// below minimum is an error.
func ResolveCapability(ctx context.Context, src VersionSource, minimum string, logger zerolog.Logger) (Capability, error) {
	minVer, err := ParseVersion(minimum)
	if err != nil {
		return Capability{}, fmt.Errorf("minimum version: %w", err)
	}

	raw, err := src.ServerVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("assumed", minimum).Msg("could not query server version")
		return Capability{RawVersion: minimum, Variant: variantFor(minVer), Fallback: true}, nil
	}

	v, err := ParseVersion(raw)
	if err != nil {
		logger.Warn().Str("reported", raw).Msg("unparseable server version, assuming supported")
		return Capability{RawVersion: raw, Variant: SchemaCurrent}, nil
	}
	if v.IsZero() {
		logger.Debug().Str("reported", raw).Str("assumed", minimum).Msg("development build, treating as minimum")
		v = minVer
	}
	if v.Compare(minVer) < 0 {
		return Capability{}, &UnsupportedVersionError{Reported: raw, Minimum: minimum}
	}
	return Capability{RawVersion: raw, Variant: variantFor(v)}, nil
}

func variantFor(v Version) SchemaVariant {
	current, _ := ParseVersion(CurrentSchemaVersion)
	if v.Compare(current) >= 0 {
		return SchemaCurrent
	}
	return SchemaLegacy
}
