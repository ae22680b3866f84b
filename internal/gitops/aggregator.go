package gitops

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// MergeTeamEntry merges one package reference into a team document and
// returns the new document. The entry is keyed on path: an existing entry has
// the given fields updated in place, keeping any others; otherwise a new entry
// is appended. A missing or empty document starts as software: {packages: []}.
// Unrelated content, ordering and comments are preserved.
func MergeTeamEntry(doc []byte, path string, fields []Field) ([]byte, error) {
	if path == "" {
		return nil, errors.New("team entry path is required")
	}

	root, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("team document must be a mapping, got %s", kindName(top.Kind))
	}

	software, err := ensureMapping(top, "software")
	if err != nil {
		return nil, err
	}
	packages, err := ensureSequence(software, "packages")
	if err != nil {
		return nil, err
	}

	entry := findEntry(packages, path)
	if entry == nil {
		entry = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		entry.Content = append(entry.Content, scalar("path"), scalar(path))
		packages.Content = append(packages.Content, entry)
	}
	for _, f := range fields {
		v, err := valueNode(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", f.Key, err)
		}
		setKey(entry, f.Key, v)
	}
	// Flow style on an empty list would otherwise leak into the output.
	packages.Style = 0

	return encode(root)
}

// TeamEntries returns the path of every package entry in a team document.
func TeamEntries(doc []byte) ([]string, error) {
	root, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}
	top := root.Content[0]
	software := lookup(top, "software")
	if software == nil || software.Kind != yaml.MappingNode {
		return nil, nil
	}
	packages := lookup(software, "packages")
	if packages == nil || packages.Kind != yaml.SequenceNode {
		return nil, nil
	}
	var paths []string
	for _, item := range packages.Content {
		if p := lookup(item, "path"); p != nil && p.Kind == yaml.ScalarNode {
			paths = append(paths, p.Value)
		}
	}
	return paths, nil
}

// parseDocument decodes doc, substituting an empty mapping for empty input.
func parseDocument(doc []byte) (*yaml.Node, error) {
	var root yaml.Node
	if len(bytes.TrimSpace(doc)) > 0 {
		if err := yaml.Unmarshal(doc, &root); err != nil {
			return nil, fmt.Errorf("parsing team document: %w", err)
		}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if top := root.Content[0]; top.Kind == yaml.ScalarNode && top.Tag == "!!null" {
		root.Content[0] = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	return &root, nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setKey(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, scalar(key), v)
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "")
}

func ensureMapping(parent *yaml.Node, key string) (*yaml.Node, error) {
	n := lookup(parent, key)
	switch {
	case n == nil:
		n = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		parent.Content = append(parent.Content, scalar(key), n)
	case isNull(n):
		*n = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	case n.Kind != yaml.MappingNode:
		return nil, fmt.Errorf("%s must be a mapping, got %s", key, kindName(n.Kind))
	}
	return n, nil
}

func ensureSequence(parent *yaml.Node, key string) (*yaml.Node, error) {
	n := lookup(parent, key)
	switch {
	case n == nil:
		n = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		parent.Content = append(parent.Content, scalar(key), n)
	case isNull(n):
		*n = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	case n.Kind != yaml.SequenceNode:
		return nil, fmt.Errorf("%s must be a list, got %s", key, kindName(n.Kind))
	}
	return n, nil
}

func findEntry(seq *yaml.Node, path string) *yaml.Node {
	for _, item := range seq.Content {
		if p := lookup(item, "path"); p != nil && p.Value == path {
			return item
		}
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
