package engine

import (
	"context"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/dropDatabas3/authbroker/internal/template"
)

// OAuth2CCDriver implements the OAUTH2_CC client-credentials grant (§4.5):
// synchronous, no redirect, no session. A successful Start directly upserts
// a connection.
type OAuth2CCDriver struct{ Env Env }

func NewOAuth2CCDriver(env Env) *OAuth2CCDriver { return &OAuth2CCDriver{Env: env} }

func (d *OAuth2CCDriver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	provider, integ, err := resolveProviderAndConfig(ctx, d.Env, req.EnvironmentID, req.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	tctx := templateContext(req.ConnectionConfig, nil)
	tokenURLTmpl := provider.TokenURL.Resolve(domain.AuthModeOAuth2CC)
	if missing := template.MissingKeys(tokenURLTmpl, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "token_url missing %v in template %q", missing, tokenURLTmpl)
	}
	if missing := template.MissingKeysMap(provider.TokenParams, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "token_params missing %v", missing)
	}

	tokenURL, err := template.Interpolate(tokenURLTmpl, tctx, provider.TokenURLEncode)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}

	params, err := template.InterpolateMap(provider.TokenParams, tctx, false)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}
	params["grant_type"] = "client_credentials"

	var override *domain.ConfigOverride
	if req.ClientIDOverride != "" || req.ClientSecretOverride != "" {
		override = &domain.ConfigOverride{ClientID: req.ClientIDOverride, ClientSecret: req.ClientSecretOverride}
	}
	clientID, clientSecret, _ := effectiveClientCredentials(*integ, override)

	callCtx, cancel := context.WithTimeout(ctx, d.Env.requestTimeout())
	defer cancel()

	resp, _, err := tokenExchange(callCtx, d.Env.httpClient(), tokenURL, provider.TokenRequestAuthMethod, provider.BodyFormat, clientID, clientSecret, params)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeOAuth2CC), "error").Inc()
		return nil, wrapOAuth2CCError(err)
	}

	creds, err := domain.ParseOAuth2Credentials(resp, nil, d.Env.now())
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeOAuth2CC), "error").Inc()
		return nil, authzerr.New(authzerr.OAuth2CCError, "%v", err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeOAuth2CC), "success").Inc()
	creds.OAuth2.ConfigOverride = override

	connectionConfig := mergeMaps(req.ConnectionConfig, domain.ExtractOAuth2Metadata(resp))

	conn := domain.Connection{
		ConnectionID: domain.ConnectionID{
			EnvironmentID:     req.EnvironmentID,
			ProviderConfigKey: req.ProviderConfigKey,
			ConnectionID:      req.ConnectionID,
		},
		Provider:         provider.ID,
		Credentials:      *creds,
		ConnectionConfig: connectionConfig,
	}
	result, err := d.Env.Connections.Upsert(ctx, conn)
	if err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "upsert connection: %v", err)
	}

	if d.Env.Hooks != nil {
		d.Env.Hooks.Run(HookContext{
			EnvironmentID:     req.EnvironmentID,
			ProviderConfigKey: req.ProviderConfigKey,
			ConnectionID:      req.ConnectionID,
			Provider:          provider.ID,
			AuthMode:          string(domain.AuthModeOAuth2CC),
			Operation:         string(result.Operation),
			Success:           true,
			NewConnection:     result.Operation == domain.OperationCreation,
			WebSocketClientID: req.WebSocketClientID,
		})
	}

	return &StartResult{Completion: &Completion{Connection: result}}, nil
}

// Finish is unreachable for OAUTH2_CC: it never redirects, so nothing ever
// calls back into it.
func (d *OAuth2CCDriver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
	return nil, authzerr.New(authzerr.InvalidAuthMode, "OAUTH2_CC has no callback leg")
}

func wrapOAuth2CCError(err error) error {
	classified := classifyExchangeError(err, false)
	if e, ok := authzerr.As(classified); ok {
		e.Code = authzerr.OAuth2CCError
		return e
	}
	return authzerr.New(authzerr.OAuth2CCError, "%v", err)
}
