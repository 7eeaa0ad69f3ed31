package engine

import "github.com/dropDatabas3/authbroker/internal/template"

// mergeMaps returns a new map with each src applied in order (later wins),
// matching the "caller wins; undefined entries are removed" semantics of
// §4.4 step 3 when the last src is the caller-supplied overrides.
func mergeMaps(srcs ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range srcs {
		for k, v := range m {
			if v == nil {
				delete(out, k)
				continue
			}
			out[k] = v
		}
	}
	return out
}

// templateContext builds the union of connection-config, tenant config and
// session values every template resolves against (§3 invariant).
func templateContext(connectionConfig map[string]any, tenant map[string]any) template.Context {
	return template.Context(mergeMaps(tenant, connectionConfig))
}

func stringsToMapAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
