package engine

import (
	"context"
	"net/url"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/dropDatabas3/authbroker/internal/template"
)

// AppDriver implements the APP auth mode: an install-style redirect
// (§4.4 APP/APP_STORE/CUSTOM start) that still completes with an
// authorization-code exchange (§4.4 APP). Start gets its own
// startInstallFlow composition — no client_id/scope/PKCE, unlike OAUTH2 —
// but Finish shares finishCodeFlow/exchangeAndUpsert with OAuth2Driver,
// since APP legitimately completes via a code exchange.
type AppDriver struct{ Env Env }

func NewAppDriver(env Env) *AppDriver { return &AppDriver{Env: env} }

func (d *AppDriver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	return startInstallFlow(ctx, d.Env, req, domain.AuthModeApp)
}

func (d *AppDriver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
	return finishCodeFlow(ctx, d.Env, req)
}

// CustomDriver implements the CUSTOM auth mode (GitHub-app-like installs):
// start redirects to the install URL, finish exchanges the code and, absent
// an installation_id, leaves the connection Pending until a later callback
// supplies one (§4.4 step 7). The pending branch lives in exchangeAndUpsert,
// keyed off provider.Mode, so this driver's Finish is otherwise identical
// to AppDriver's.
type CustomDriver struct{ Env Env }

func NewCustomDriver(env Env) *CustomDriver { return &CustomDriver{Env: env} }

func (d *CustomDriver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	return startInstallFlow(ctx, d.Env, req, domain.AuthModeCustom)
}

func (d *CustomDriver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
	return finishCodeFlow(ctx, d.Env, req)
}

// startInstallFlow composes the app-installation redirect shared by APP,
// CUSTOM and APP_STORE (§4.4): interpolate authorization_url against
// connectionConfig ∪ {appPublicLink}, no token machinery, then append
// ?state=sessionId.
func startInstallFlow(ctx context.Context, env Env, req StartRequest, mode domain.AuthMode) (*StartResult, error) {
	provider, integ, err := resolveProviderAndConfig(ctx, env, req.EnvironmentID, req.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	tctx := installTemplateContext(req.ConnectionConfig, integ)
	urlTmpl := provider.AuthorizationURL.Resolve(mode)
	installURL, err := interpolateOrFail(urlTmpl, tctx, provider.AuthorizationURLEncode)
	if err != nil {
		return nil, err
	}

	now := env.now()
	sess := domain.OAuthSession{
		ID:                domain.NewID(),
		EnvironmentID:     req.EnvironmentID,
		ProviderConfigKey: req.ProviderConfigKey,
		Provider:          provider.ID,
		AuthMode:          mode,
		ConnectionID:      req.ConnectionID,
		CallbackURL:       req.CallbackURL,
		ConnectionConfig:  req.ConnectionConfig,
		WebSocketClientID: req.WebSocketClientID,
		ActivityLogID:     req.ActivityLogID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(env.sessionTTL()),
	}
	if err := env.Sessions.Create(ctx, sess); err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "persist session: %v", err)
	}

	q := url.Values{}
	q.Set("state", sess.ID)
	return &StartResult{Redirect: &Redirect{URI: applyQuery(installURL, q)}}, nil
}

// installTemplateContext is templateContext plus appPublicLink, the
// tenant's configured app-install link (config.app_link), available for
// interpolation into APP/APP_STORE/CUSTOM authorization_url templates.
func installTemplateContext(connectionConfig map[string]any, integ *domain.IntegrationConfig) template.Context {
	tenant := map[string]any{}
	if integ != nil && integ.AppLink != "" {
		tenant["appPublicLink"] = integ.AppLink
	}
	return templateContext(connectionConfig, tenant)
}

// AppStoreDriver implements the APP_STORE auth mode: a marketplace install
// redirect whose callback carries a signed receipt rather than an
// authorization code, so no token exchange ever happens (§4.4 APP_STORE).
type AppStoreDriver struct{ Env Env }

func NewAppStoreDriver(env Env) *AppStoreDriver { return &AppStoreDriver{Env: env} }

func (d *AppStoreDriver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	return startInstallFlow(ctx, d.Env, req, domain.AuthModeAppStore)
}

func (d *AppStoreDriver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
	sess, err := d.Env.Sessions.FindAndDelete(ctx, req.State)
	if err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "session lookup: %v", err)
	}
	if sess == nil {
		return nil, authzerr.New(authzerr.InvalidState, "no session for state %q", req.State)
	}
	if sess.Expired(d.Env.now()) {
		return nil, authzerr.New(authzerr.InvalidState, "session %q expired", req.State)
	}

	provider, _, err := resolveProviderAndConfig(ctx, d.Env, sess.EnvironmentID, sess.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	creds := domain.Credentials{
		Type:   domain.CredentialAppStore,
		Opaque: req.CallbackMetadata,
	}
	conn := domain.Connection{
		ConnectionID: domain.ConnectionID{
			EnvironmentID:     sess.EnvironmentID,
			ProviderConfigKey: sess.ProviderConfigKey,
			ConnectionID:      sess.ConnectionID,
		},
		Provider:         provider.ID,
		Credentials:      creds,
		ConnectionConfig: mergeMaps(sess.ConnectionConfig, req.CallbackMetadata),
	}
	result, err := d.Env.Connections.Upsert(ctx, conn)
	if err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "upsert connection: %v", err)
	}

	fireHooks(d.Env, sess, provider, result, false, nil)
	metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeAppStore), "success").Inc()
	return &Completion{Connection: result}, nil
}
