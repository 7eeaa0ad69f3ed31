// Package template substitutes ${path.to.value} tokens in URLs, query
// strings, request bodies and headers against a context mapping (§4.1).
package template

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)

// legacyPrefix marks the deprecated ${connectionConfig.X} form to ${X}
// before resolution, so both spellings hit the same lookup path.
const legacyPrefix = "connectionConfig."

// Context is the union of connection-config, tenant config, and session
// values a template may reference, addressed by dotted path.
type Context map[string]any

// MissingKeys returns every ${...} token in template that does not resolve
// against ctx. An empty slice means every token resolves.
func MissingKeys(tmpl string, ctx Context) []string {
	var missing []string
	seen := map[string]bool{}
	for _, m := range tokenPattern.FindAllStringSubmatch(tmpl, -1) {
		path := normalizePath(m[1])
		if _, ok := lookup(ctx, path); !ok {
			if !seen[m[1]] {
				seen[m[1]] = true
				missing = append(missing, m[1])
			}
		}
	}
	return missing
}

// Interpolate substitutes every ${path.to.value} token in tmpl with its
// value from ctx, stringified. If urlEncode is true, each substituted value
// is URL-component-encoded individually; the surrounding template text is
// left verbatim. Interpolate never silently substitutes an empty string for
// a missing key — callers must check MissingKeys first and fail with
// invalid_connection_config if it is non-empty.
func Interpolate(tmpl string, ctx Context, urlEncode bool) (string, error) {
	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(tmpl, func(tok string) string {
		m := tokenPattern.FindStringSubmatch(tok)
		path := normalizePath(m[1])
		v, ok := lookup(ctx, path)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("template: missing key %q", m[1])
			}
			return tok
		}
		s := stringify(v)
		if urlEncode {
			return url.QueryEscape(s)
		}
		return s
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// InterpolateMap interpolates every value of the flat map m, returning a new
// map. The first value with a missing key aborts the whole call.
func InterpolateMap(m map[string]string, ctx Context, urlEncode bool) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		r, err := Interpolate(v, ctx, urlEncode)
		if err != nil {
			return nil, fmt.Errorf("template: key %q: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

// MissingKeysMap reports the union of missing keys across every template
// value in m.
func MissingKeysMap(m map[string]string, ctx Context) []string {
	var out []string
	for _, v := range m {
		out = append(out, MissingKeys(v, ctx)...)
	}
	return out
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, legacyPrefix) {
		return strings.TrimPrefix(path, legacyPrefix)
	}
	return path
}

// lookup resolves a dotted path against ctx, descending into nested maps.
func lookup(ctx Context, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(ctx)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
