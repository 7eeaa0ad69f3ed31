// Package prober implements the Verification Prober (§4.8): a read-only
// sanity check run once, immediately after non-OAuth credentials are
// minted, through the proxy collaborator — never retried.
package prober

import (
	"context"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/engine"
)

// Verifier issues the provider-declared verification probe through a
// ProxyClient collaborator, matching engine.Prober.
type Verifier struct {
	Proxy     repository.ProxyClient
	Providers repository.ProviderRegistry
}

// Verify constructs the minimal proxy-call config for hc's provider and
// routes it through the proxy collaborator. Any 2xx is success; anything
// else — non-2xx, transport error, missing declaration — is
// connection_test_failed (§4.8), never retried.
func (v *Verifier) Verify(ctx context.Context, hc engine.HookContext) (bool, error) {
	provider, err := v.Providers.Provider(ctx, hc.Provider)
	if err != nil {
		return false, authzerr.New(authzerr.ConnectionTestFailed, "resolve provider %q: %v", hc.Provider, err)
	}
	probe := provider.Proxy.Verification
	if probe == nil {
		return false, authzerr.New(authzerr.ConnectionTestFailed, "provider %q declares no verification probe", hc.Provider)
	}

	req := repository.ProxyRequest{
		Method:  probe.Method,
		URL:     probe.BaseURL + probe.Endpoint,
		Headers: probe.Headers,
	}

	resp, err := v.Proxy.Do(ctx, req)
	if err != nil {
		return false, authzerr.New(authzerr.ConnectionTestFailed, "probe transport error: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, authzerr.New(authzerr.ConnectionTestFailed, "probe returned status %d", resp.StatusCode)
	}
	return true, nil
}

var _ engine.Prober = (*Verifier)(nil)
