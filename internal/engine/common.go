package engine

import (
	"context"
	"errors"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/template"
)

// interpolateOrFail validates tmpl resolves fully against ctx before
// interpolating it, surfacing invalid_connection_config on any missing key
// rather than silently dropping it (§4.1 invariant).
func interpolateOrFail(tmpl string, ctx template.Context, urlEncode bool) (string, error) {
	if missing := template.MissingKeys(tmpl, ctx); len(missing) > 0 {
		return "", authzerr.New(authzerr.InvalidConnectionConfig, "template %q missing %v", tmpl, missing)
	}
	out, err := template.Interpolate(tmpl, ctx, urlEncode)
	if err != nil {
		return "", authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}
	return out, nil
}

// resolveProviderAndConfig loads a tenant's IntegrationConfig and the
// Provider descriptor it binds to, the pair every driver needs before it can
// resolve a single template.
func resolveProviderAndConfig(ctx context.Context, env Env, environmentID, providerConfigKey string) (*domain.Provider, *domain.IntegrationConfig, error) {
	integ, err := env.Configs.Get(ctx, environmentID, providerConfigKey)
	if err != nil {
		return nil, nil, authzerr.New(authzerr.UnknownProviderConfig, "%v", err)
	}
	provider, err := env.Registry.Provider(ctx, integ.Provider)
	if err != nil {
		return nil, nil, authzerr.New(authzerr.UnknownProviderTemplate, "%v", err)
	}
	return provider, integ, nil
}

// effectiveClientCredentials applies a session's ConfigOverride (§6
// credentials.oauth_client_id_override) on top of the tenant's
// IntegrationConfig, field by field.
func effectiveClientCredentials(integ domain.IntegrationConfig, override *domain.ConfigOverride) (clientID, clientSecret, scopes string) {
	clientID, clientSecret, scopes = integ.OAuthClientID, integ.OAuthClientSecret, integ.OAuthScopes
	if override == nil {
		return
	}
	if override.ClientID != "" {
		clientID = override.ClientID
	}
	if override.ClientSecret != "" {
		clientSecret = override.ClientSecret
	}
	if override.Scopes != "" {
		scopes = override.Scopes
	}
	return
}

// classifyExchangeError maps a tokenExchange failure onto the stable error
// codes of §7, distinguishing refresh exchanges from first-time exchanges
// since they publish different codes.
func classifyExchangeError(err error, isRefresh bool) error {
	if errors.Is(err, errUpstreamTimeout) {
		return authzerr.New(authzerr.UpstreamTimeout, "token exchange timed out")
	}
	var ue *upstreamError
	if errors.As(err, &ue) {
		code := authzerr.TokenExternalError
		if isRefresh {
			code = authzerr.RefreshTokenExternalError
		}
		return authzerr.Wrap(code, ue.Status, ue.Body)
	}
	code := authzerr.TokenParsingError
	if isRefresh {
		code = authzerr.RefreshTokenParsingError
	}
	return authzerr.New(code, "%v", err)
}
