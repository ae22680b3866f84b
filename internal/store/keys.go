package store

import (
	"path"
	"strings"
)

// DefaultPrefix is the key namespace for mirrored installers.
const DefaultPrefix = "software"

// knownExtensions are stripped from object names before reading the version.
// Several may stack, e.g. Firefox-1.2.pkg.sha256.
var knownExtensions = []string{
	".pkg", ".dmg", ".zip", ".msi", ".exe", ".deb", ".rpm", ".app",
	".tar", ".gz", ".tgz", ".xz", ".bz2",
	".sha256", ".json", ".yml", ".yaml", ".plist", ".manifest", ".sig",
}

// TitlePrefix returns the namespace holding every version of title.
func TitlePrefix(prefix, title string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return title + "/"
	}
	return prefix + "/" + title + "/"
}

// ObjectKey names an installer: <prefix>/<Title>/<Title>-<Version><ext>.
// ext includes its leading dot.
func ObjectKey(prefix, title, version, ext string) string {
	return TitlePrefix(prefix, title) + title + "-" + version + ext
}

// ExtractVersion reads the version from a key following the ObjectKey
// convention. It reports false for keys that belong to a different title.
func ExtractVersion(title, key string) (string, bool) {
	base := path.Base(key)
	rest, ok := strings.CutPrefix(base, title+"-")
	if !ok || rest == "" {
		return "", false
	}

	stripped := false
	for {
		trimmed := trimKnownExtension(rest)
		if trimmed == rest {
			break
		}
		rest = trimmed
		stripped = true
	}
	if !stripped {
		if ext := path.Ext(rest); ext != "" && ext != rest && !isDigits(ext[1:]) {
			rest = strings.TrimSuffix(rest, ext)
		}
	}
	if rest == "" || strings.HasPrefix(rest, ".") {
		return "", false
	}
	return rest, true
}

func trimKnownExtension(s string) string {
	lower := strings.ToLower(s)
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lower, ext) && len(s) > len(ext) {
			return s[:len(s)-len(ext)]
		}
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
