// Package gitops writes the declarative YAML that a Fleet GitOps runner
// applies: one package file per artifact, plus the team file that references
// every package.
package gitops

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/fleet-publish/internal/platform"
	"github.com/bianoble/fleet-publish/internal/registry"
)

// Script is either inline contents or a path relative to the package file.
type Script struct {
	Contents string
	Path     string
}

// IsZero reports whether neither form is set.
func (s Script) IsZero() bool { return s.Contents == "" && s.Path == "" }

// Targeting selects which hosts see the package.
type Targeting struct {
	SelfService      bool
	SetupExperience  bool
	LabelsIncludeAny []string
	LabelsExcludeAny []string
}

// PackageSpec is the desired state of one package file.
type PackageSpec struct {
	Name              string
	Version           string
	Platform          platform.Platform
	Hash              string
	AutomaticInstall  bool
	PreInstallQuery   Script
	InstallScript     Script
	UninstallScript   Script
	PostInstallScript Script
	Targeting         Targeting
}

// Field is one ordered key/value pair in a YAML mapping.
type Field struct {
	Key   string
	Value any
}

// PackageFields returns the package file's fields in output order. The
// legacy schema embeds targeting here; the current schema leaves it to the
// team file.
func PackageFields(spec PackageSpec, variant registry.SchemaVariant) []Field {
	fields := []Field{
		{"name", spec.Name},
		{"version", spec.Version},
		{"platform", string(spec.Platform)},
	}
	if spec.Hash != "" {
		fields = append(fields, Field{"hash_sha256", spec.Hash})
	}
	if variant == registry.SchemaLegacy {
		fields = append(fields, Field{"self_service", spec.Targeting.SelfService})
		if len(spec.Targeting.LabelsIncludeAny) > 0 {
			fields = append(fields, Field{"labels_include_any", spec.Targeting.LabelsIncludeAny})
		}
		if len(spec.Targeting.LabelsExcludeAny) > 0 {
			fields = append(fields, Field{"labels_exclude_any", spec.Targeting.LabelsExcludeAny})
		}
	}
	if spec.AutomaticInstall && spec.Platform.SupportsAutomaticInstall() {
		fields = append(fields, Field{"automatic_install", true})
	}
	if f, ok := scriptField("pre_install_query", "query", spec.PreInstallQuery); ok {
		fields = append(fields, f)
	}
	for _, s := range []struct {
		key    string
		script Script
	}{
		{"install_script", spec.InstallScript},
		{"uninstall_script", spec.UninstallScript},
		{"post_install_script", spec.PostInstallScript},
	} {
		if f, ok := scriptField(s.key, "contents", s.script); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// scriptField renders a script as {inlineKey: ...} or {path: ...}. A path
// takes precedence when both are set.
func scriptField(key, inlineKey string, s Script) (Field, bool) {
	switch {
	case s.Path != "":
		return Field{key, []Field{{"path", s.Path}}}, true
	case s.Contents != "":
		return Field{key, []Field{{inlineKey, s.Contents}}}, true
	default:
		return Field{}, false
	}
}

// TeamFields returns the targeting fields merged into the team file entry.
// Under the legacy schema only the path reference is kept there.
func TeamFields(t Targeting, variant registry.SchemaVariant) []Field {
	if variant != registry.SchemaCurrent {
		return nil
	}
	fields := []Field{{"self_service", t.SelfService}}
	if t.SetupExperience {
		fields = append(fields, Field{"setup_experience", true})
	}
	if len(t.LabelsIncludeAny) > 0 {
		fields = append(fields, Field{"labels_include_any", t.LabelsIncludeAny})
	}
	if len(t.LabelsExcludeAny) > 0 {
		fields = append(fields, Field{"labels_exclude_any", t.LabelsExcludeAny})
	}
	return fields
}

// RenderPackage serializes the package file. The file is owned entirely by
// this tool and is always replaced wholesale.
func RenderPackage(spec PackageSpec, variant registry.SchemaVariant) ([]byte, error) {
	if spec.Name == "" || spec.Version == "" {
		return nil, fmt.Errorf("package name and version are required")
	}
	node, err := mappingNode(PackageFields(spec, variant))
	if err != nil {
		return nil, err
	}
	return encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{node}})
}

// mappingNode builds an ordered mapping. []Field values become nested
// mappings.
func mappingNode(fields []Field) (*yaml.Node, error) {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range fields {
		v, err := valueNode(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", f.Key, err)
		}
		m.Content = append(m.Content, scalar(f.Key), v)
	}
	return m, nil
}

func valueNode(v any) (*yaml.Node, error) {
	if nested, ok := v.([]Field); ok {
		return mappingNode(nested)
	}
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &n, nil
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func encode(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
