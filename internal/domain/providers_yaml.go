package domain

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ProviderFile is the shape of the declarative providers.yaml document: a
// map keyed by provider-id (§6).
type ProviderFile map[string]*Provider

// LoadProvidersYAML parses a providers.yaml document and resolves alias
// entries transitively. An alias chain longer than maxAliasDepth is
// rejected as a configuration error rather than looped forever.
func LoadProvidersYAML(raw []byte) (map[string]*Provider, error) {
	var file ProviderFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("domain: parse providers.yaml: %w", err)
	}

	out := make(map[string]*Provider, len(file))
	for id, p := range file {
		if p == nil {
			continue
		}
		p.ID = id
		out[id] = p
	}

	const maxAliasDepth = 8
	resolved := make(map[string]*Provider, len(out))
	for id := range out {
		p, err := resolveAlias(out, id, maxAliasDepth)
		if err != nil {
			return nil, err
		}
		resolved[id] = p
	}
	return resolved, nil
}

func resolveAlias(all map[string]*Provider, id string, depth int) (*Provider, error) {
	p, ok := all[id]
	if !ok {
		return nil, fmt.Errorf("domain: unknown_provider_template: %q", id)
	}
	if p.Alias == "" {
		return p, nil
	}
	if depth <= 0 {
		return nil, fmt.Errorf("domain: alias chain too deep resolving %q", id)
	}
	target, err := resolveAlias(all, p.Alias, depth-1)
	if err != nil {
		return nil, err
	}
	// The aliasing entry inherits the target's shape but keeps its own ID.
	clone := *target
	clone.ID = id
	clone.Alias = ""
	return &clone, nil
}
