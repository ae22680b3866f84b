package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// ObjectStore is the subset of Client used by the retention collector.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// RetentionSet groups a title's stored keys by version.
type RetentionSet struct {
	Title    string
	Versions map[string][]string
}

// DeleteFailure records a key that could not be removed.
type DeleteFailure struct {
	Key string
	Err error
}

// RetentionResult lists versions newest first.
type RetentionResult struct {
	Kept        []string
	Deleted     []string
	DeletedKeys []string
	Failures    []DeleteFailure
}

// Collector prunes old versions of a title from the store.
type Collector struct {
	Store  ObjectStore
	Prefix string
	Logger zerolog.Logger
	// DryRun computes the result without deleting anything.
	DryRun bool
}

// BuildRetentionSet groups keys by the version encoded in their names. Keys
// that do not follow the naming convention are ignored.
func BuildRetentionSet(title string, objects []ObjectInfo) RetentionSet {
	set := RetentionSet{Title: title, Versions: make(map[string][]string)}
	for _, o := range objects {
		v, ok := ExtractVersion(title, o.Key)
		if !ok {
			continue
		}
		set.Versions[v] = append(set.Versions[v], o.Key)
	}
	return set
}

// SortVersionsDesc orders versions newest first. Semantic ordering is used
// when every version parses as semver, numeric ordering of the dotted parts
// when every version is purely numeric (1.2.3.4), and lexicographic ordering
// otherwise.
func SortVersionsDesc(versions []string) {
	allSemver, allNumeric := true, true
	for _, v := range versions {
		if !semver.IsValid(canonicalSemver(v)) {
			allSemver = false
		}
		if _, ok := numericParts(v); !ok {
			allNumeric = false
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		switch {
		case allSemver:
			if c := semver.Compare(canonicalSemver(versions[i]), canonicalSemver(versions[j])); c != 0 {
				return c > 0
			}
		case allNumeric:
			a, _ := numericParts(versions[i])
			b, _ := numericParts(versions[j])
			if c := compareParts(a, b); c != 0 {
				return c > 0
			}
		}
		return versions[i] > versions[j]
	})
}

// numericParts splits a dotted version whose every part is a decimal number.
func numericParts(v string) ([]int, bool) {
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || f == "" || strings.HasPrefix(f, "+") {
			return nil, false
		}
		parts[i] = n
	}
	return parts, true
}

// compareParts compares part by part; missing trailing parts count as zero.
func compareParts(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	return 0
}

func canonicalSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Collect keeps the retain newest versions of title and deletes the rest.
// A title with a single stored version is never touched, and at least one
// version is always kept. Per-key delete failures are logged and recorded but
// do not stop the remaining deletions.
func (c *Collector) Collect(ctx context.Context, title string, retain int) (*RetentionResult, error) {
	objects, err := c.Store.List(ctx, TitlePrefix(c.Prefix, title))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", title, err)
	}
	set := BuildRetentionSet(title, objects)

	versions := make([]string, 0, len(set.Versions))
	for v := range set.Versions {
		versions = append(versions, v)
	}
	SortVersionsDesc(versions)

	result := &RetentionResult{}
	if len(versions) <= 1 {
		result.Kept = versions
		return result, nil
	}
	if retain < 1 {
		retain = 1
	}
	if retain >= len(versions) {
		result.Kept = versions
		return result, nil
	}

	result.Kept = versions[:retain]
	result.Deleted = versions[retain:]
	for _, v := range result.Deleted {
		keys := append([]string(nil), set.Versions[v]...)
		sort.Strings(keys)
		for _, key := range keys {
			if c.DryRun {
				result.DeletedKeys = append(result.DeletedKeys, key)
				continue
			}
			if err := c.Store.Delete(ctx, key); err != nil {
				c.Logger.Warn().Err(err).Str("key", key).Msg("could not delete old version")
				result.Failures = append(result.Failures, DeleteFailure{Key: key, Err: err})
				continue
			}
			c.Logger.Debug().Str("key", key).Msg("deleted old version")
			result.DeletedKeys = append(result.DeletedKeys, key)
		}
	}
	return result, nil
}
