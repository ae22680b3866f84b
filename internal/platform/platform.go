package platform

import (
	"fmt"
	"sort"
	"strings"
)

// Platform identifies the device family an artifact installs on.
type Platform string

const (
	Darwin  Platform = "darwin"
	Windows Platform = "windows"
	Linux   Platform = "linux"
	IOS     Platform = "ios"
	IPadOS  Platform = "ipados"
)

// Default is used when the caller does not name a platform.
const Default = Darwin

// Layout is where a platform's package YAML lives in the config repository,
// and how the aggregator document refers to it.
type Layout struct {
	SoftwareDir string // relative to repo root, e.g. lib/macos/software
	PathPrefix  string // prefix used in aggregator entries, e.g. ../lib/macos/software/
}

// builtinLayouts follow the directory convention of the Fleet GitOps starter repo.
var builtinLayouts = map[Platform]Layout{
	Darwin:  {SoftwareDir: "lib/macos/software", PathPrefix: "../lib/macos/software/"},
	Windows: {SoftwareDir: "lib/windows/software", PathPrefix: "../lib/windows/software/"},
	Linux:   {SoftwareDir: "lib/linux/software", PathPrefix: "../lib/linux/software/"},
	IOS:     {SoftwareDir: "lib/ios/software", PathPrefix: "../lib/ios/software/"},
	IPadOS:  {SoftwareDir: "lib/ipados/software", PathPrefix: "../lib/ipados/software/"},
}

// Parse validates a platform name. The empty string yields Default and
// "macos" is accepted as an alias for darwin.
func Parse(s string) (Platform, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "":
		return Default, nil
	case "macos":
		return Darwin, nil
	default:
		p := Platform(v)
		if _, ok := builtinLayouts[p]; !ok {
			return "", fmt.Errorf("unknown platform '%s' — must be one of: %s", s, strings.Join(Names(), ", "))
		}
		return p, nil
	}
}

// Names returns the supported platform names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtinLayouts))
	for p := range builtinLayouts {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// SupportsAutomaticInstall reports whether the registry can create an
// automatic-install policy for the platform. Only macOS packages can.
func (p Platform) SupportsAutomaticInstall() bool {
	return p == Darwin
}

// Map resolves platforms to repository layouts, with optional overrides.
type Map struct {
	layouts map[Platform]Layout
}

// NewMap creates a Map seeded with the built-in layouts. Overrides replace
// individual fields; empty override fields keep the built-in value.
func NewMap(overrides map[string]Layout) (*Map, error) {
	layouts := make(map[Platform]Layout, len(builtinLayouts))
	for p, l := range builtinLayouts {
		layouts[p] = l
	}
	for name, o := range overrides {
		p, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("platform_dirs: %w", err)
		}
		l := layouts[p]
		if o.SoftwareDir != "" {
			l.SoftwareDir = o.SoftwareDir
		}
		if o.PathPrefix != "" {
			l.PathPrefix = o.PathPrefix
		}
		layouts[p] = l
	}
	return &Map{layouts: layouts}, nil
}

// Resolve returns the layout for p.
func (m *Map) Resolve(p Platform) (Layout, error) {
	l, ok := m.layouts[p]
	if !ok {
		return Layout{}, fmt.Errorf("unknown platform '%s'", p)
	}
	return l, nil
}

// IsCustom reports whether p's layout differs from the built-in one.
func (m *Map) IsCustom(p Platform) bool {
	return m.layouts[p] != builtinLayouts[p]
}
