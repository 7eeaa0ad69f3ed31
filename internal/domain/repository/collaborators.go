package repository

import (
	"context"
)

// ProxyRequest is a minimal proxy-call config, enough to drive the
// Verification Prober (§4.8) and, in the broader system, downstream
// proxied calls — whose retry/pagination policy is explicitly out of
// scope here (§2 Non-goals).
type ProxyRequest struct {
	Method  string
	URL     string
	Headers map[string]string
}

// ProxyResponse is the minimal shape the prober needs.
type ProxyResponse struct {
	StatusCode int
}

// ProxyClient is the external proxy collaborator the Verification Prober
// routes probe requests through.
type ProxyClient interface {
	Do(ctx context.Context, req ProxyRequest) (ProxyResponse, error)
}

// SyncOrchestrator is the external sync scheduler; the Post-Connection Hook
// Runner asks it to kick off an initial sync (§4.7 step 1) but never
// implements scheduling itself (§2 Non-goals).
type SyncOrchestrator interface {
	TriggerInitialSync(ctx context.Context, environmentID, providerConfigKey, connectionID string) error
}

// WebhookSandbox runs a tenant-defined external post-connection script in
// isolation (§4.7 step 3). The sandbox implementation itself is out of
// scope; the core only knows how to invoke it and log the outcome.
type WebhookSandbox interface {
	RunPostConnectionScript(ctx context.Context, environmentID, providerConfigKey string, payload map[string]any) error
}
