package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/dropDatabas3/authbroker/internal/template"
	"go.uber.org/zap"
)

// OAuth2Driver implements the OAUTH2 authorization-code flow with optional
// PKCE (§4.4 OAUTH2 start/finish). AppDriver and CustomDriver share only its
// finishCodeFlow half (their Start uses startInstallFlow instead), since
// APP and CUSTOM installs still complete with an authorization-code
// exchange but start with a plain install redirect, not an OAUTH2 authorize
// URL.
type OAuth2Driver struct{ Env Env }

func NewOAuth2Driver(env Env) *OAuth2Driver { return &OAuth2Driver{Env: env} }

func (d *OAuth2Driver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	return startCodeFlow(ctx, d.Env, req, domain.AuthModeOAuth2, true)
}

func (d *OAuth2Driver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
	return finishCodeFlow(ctx, d.Env, req)
}

// startCodeFlow builds and persists the session for a redirect-based,
// authorization-code-shaped handshake, then returns the authorize-URL
// redirect. mode selects which per-auth-mode URL/param overrides apply;
// enforceGrantType rejects a non-authorization_code grant_type declaration
// (only meaningful for plain OAUTH2, §4.4 step 1).
func startCodeFlow(ctx context.Context, env Env, req StartRequest, mode domain.AuthMode, enforceGrantType bool) (*StartResult, error) {
	provider, integ, err := resolveProviderAndConfig(ctx, env, req.EnvironmentID, req.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	tctx := templateContext(req.ConnectionConfig, nil)

	authURLTmpl := provider.AuthorizationURL.Resolve(mode)
	tokenURLTmpl := provider.TokenURL.Resolve(mode)

	if missing := template.MissingKeys(authURLTmpl, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "authorization_url missing %v in template %q", missing, authURLTmpl)
	}
	if missing := template.MissingKeys(tokenURLTmpl, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "token_url missing %v in template %q", missing, tokenURLTmpl)
	}
	if missing := template.MissingKeysMap(provider.AuthorizationParams, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "authorization_params missing %v", missing)
	}
	if missing := template.MissingKeysMap(provider.TokenParams, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "token_params missing %v", missing)
	}

	if enforceGrantType {
		if gt, ok := provider.TokenParams["grant_type"]; ok && gt != "authorization_code" {
			return nil, authzerr.New(authzerr.UnknownGrantType, "provider declares grant_type %q, expected authorization_code", gt)
		}
	}

	interpolatedAuthParams, err := template.InterpolateMap(provider.AuthorizationParams, tctx, false)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}
	allAuthParams := mergeMaps(stringsToMapAny(interpolatedAuthParams), req.AuthorizationParams)

	var codeVerifier, codeChallenge string
	if !provider.DisablePKCE {
		codeVerifier, err = newCodeVerifier()
		if err != nil {
			return nil, authzerr.New(authzerr.UnknownError, "generate code_verifier: %v", err)
		}
		codeChallenge = codeChallengeS256(codeVerifier)
		allAuthParams["code_challenge"] = codeChallenge
		allAuthParams["code_challenge_method"] = "S256"
	}

	if provider.ID == "slack" {
		if us, ok := req.ConnectionConfig["user_scope"]; ok {
			allAuthParams["user_scope"] = us
		}
		if req.UserScope != "" {
			allAuthParams["user_scope"] = req.UserScope
		}
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
		CodeVerifier:      codeVerifier,
		ConnectionConfig:  req.ConnectionConfig,
		WebSocketClientID: req.WebSocketClientID,
		ActivityLogID:     req.ActivityLogID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(env.sessionTTL()),
	}
	if req.ClientIDOverride != "" || req.ClientSecretOverride != "" || req.ScopesOverride != "" {
		sess.ConfigOverride = &domain.ConfigOverride{
			ClientID:     req.ClientIDOverride,
			ClientSecret: req.ClientSecretOverride,
			Scopes:       req.ScopesOverride,
		}
	}

	if err := env.Sessions.Create(ctx, sess); err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "persist session: %v", err)
	}

	clientID, _, scopes := effectiveClientCredentials(*integ, sess.ConfigOverride)

	authURL, err := template.Interpolate(authURLTmpl, tctx, provider.AuthorizationURLEncode)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}

	sep := provider.ScopeSeparator
	if sep == "" {
		sep = " "
	}
	scopeList := domain.IntegrationConfig{OAuthScopes: scopes}.ScopeSlice()

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", req.CallbackURL)
	if len(scopeList) > 0 {
		q.Set("scope", strings.Join(scopeList, sep))
	}
	q.Set("state", sess.ID)
	for k, v := range allAuthParams {
		q.Set(k, fmt.Sprint(v))
	}

	finalURL := applyQuery(authURL, q)
	if provider.AuthorizationURLFragment {
		finalURL = moveQueryToFragment(finalURL)
	}
	for lit, repl := range provider.AuthorizationURLReplacements {
		finalURL = strings.ReplaceAll(finalURL, lit, repl)
	}

	return &StartResult{Redirect: &Redirect{URI: finalURL}}, nil
}

// finishCodeFlow consumes a redirect callback shared by OAUTH2, APP and
// CUSTOM: look up the session, then exchange the code for a token.
func finishCodeFlow(ctx context.Context, env Env, req CallbackRequest) (*Completion, error) {
	sess, err := env.Sessions.FindAndDelete(ctx, req.State)
	if err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "session lookup: %v", err)
	}
	if sess == nil {
		return nil, authzerr.New(authzerr.InvalidState, "no session for state %q", req.State)
	}
	if sess.Expired(env.now()) {
		return nil, authzerr.New(authzerr.InvalidState, "session %q expired", req.State)
	}

	provider, integ, err := resolveProviderAndConfig(ctx, env, sess.EnvironmentID, sess.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	return exchangeAndUpsert(ctx, env, provider, integ, sess, req)
}

// exchangeAndUpsert performs the token exchange and connection upsert shared
// by OAUTH2, APP and the CUSTOM (GitHub-app) finish leg.
func exchangeAndUpsert(ctx context.Context, env Env, provider *domain.Provider, integ *domain.IntegrationConfig, sess *domain.OAuthSession, req CallbackRequest) (*Completion, error) {
	clientID, clientSecret, _ := effectiveClientCredentials(*integ, sess.ConfigOverride)

	tctx := templateContext(sess.ConnectionConfig, nil)
	tokenURLTmpl := provider.TokenURL.Resolve(sess.AuthMode)
	tokenURL, err := template.Interpolate(tokenURLTmpl, tctx, provider.TokenURLEncode)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}

	params, err := template.InterpolateMap(withoutKey(provider.TokenParams, "grant_type"), tctx, false)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}
	params["grant_type"] = "authorization_code"
	params["code"] = req.Code
	params["redirect_uri"] = sess.CallbackURL
	if !provider.DisablePKCE && sess.CodeVerifier != "" {
		params["code_verifier"] = sess.CodeVerifier
	}

	callCtx, cancel := context.WithTimeout(ctx, env.requestTimeout())
	defer cancel()

	resp, _, err := tokenExchange(callCtx, env.httpClient(), tokenURL, provider.TokenRequestAuthMethod, provider.BodyFormat, clientID, clientSecret, params)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(sess.AuthMode), "error").Inc()
		return nil, classifyExchangeError(err, false)
	}

	creds, err := domain.ParseOAuth2Credentials(resp, nil, env.now())
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(sess.AuthMode), "error").Inc()
		return nil, authzerr.New(authzerr.TokenParsingError, "%v", err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues(string(sess.AuthMode), "success").Inc()
	creds.OAuth2.ConfigOverride = sess.ConfigOverride

	tokenMetadata := domain.ExtractOAuth2Metadata(resp)
	connectionConfig := mergeMaps(sess.ConnectionConfig, tokenMetadata, req.CallbackMetadata)

	if provider.Mode == domain.AuthModeCustom && req.InstallationID == "" {
		conn := domain.Connection{
			ConnectionID: domain.ConnectionID{
				EnvironmentID:     sess.EnvironmentID,
				ProviderConfigKey: sess.ProviderConfigKey,
				ConnectionID:      sess.ConnectionID,
			},
			Provider:         provider.ID,
			Credentials:      *creds,
			ConnectionConfig: connectionConfig,
			Pending:          true,
		}
		result, err := env.Connections.Upsert(ctx, conn)
		if err != nil {
			return nil, authzerr.New(authzerr.UnknownError, "upsert pending connection: %v", err)
		}
		fireHooks(env, sess, provider, result, true, nil)
		return &Completion{Connection: result, Pending: true}, nil
	}

	if provider.Mode == domain.AuthModeCustom && req.InstallationID != "" {
		connectionConfig["installation_id"] = req.InstallationID
	}

	conn := domain.Connection{
		ConnectionID: domain.ConnectionID{
			EnvironmentID:     sess.EnvironmentID,
			ProviderConfigKey: sess.ProviderConfigKey,
			ConnectionID:      sess.ConnectionID,
		},
		Provider:         provider.ID,
		Credentials:      *creds,
		ConnectionConfig: connectionConfig,
		Pending:          false,
	}
	result, err := env.Connections.Upsert(ctx, conn)
	if err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "upsert connection: %v", err)
	}

	fireHooks(env, sess, provider, result, false, nil)
	if env.Prober != nil && provider.Proxy.Verification != nil {
		runProbe(ctx, env, sess, provider)
	}
	return &Completion{Connection: result}, nil
}

func fireHooks(env Env, sess *domain.OAuthSession, provider *domain.Provider, result domain.UpsertResult, pending bool, finishErr error) {
	if env.Hooks == nil {
		return
	}
	env.Hooks.Run(HookContext{
		EnvironmentID:     sess.EnvironmentID,
		ProviderConfigKey: sess.ProviderConfigKey,
		ConnectionID:      sess.ConnectionID,
		Provider:          provider.ID,
		AuthMode:          string(provider.Mode),
		Operation:         string(result.Operation),
		Success:           finishErr == nil,
		Err:               finishErr,
		NewConnection:     result.Operation == domain.OperationCreation && !pending,
		WebSocketClientID: sess.WebSocketClientID,
	})
}

func runProbe(ctx context.Context, env Env, sess *domain.OAuthSession, provider *domain.Provider) {
	if env.Logger != nil {
		env.Logger.Debug("running verification probe",
			zap.String("provider", provider.ID),
			zap.String("connection_id", sess.ConnectionID),
		)
	}
	_, _ = env.Prober.Verify(ctx, HookContext{
		EnvironmentID:     sess.EnvironmentID,
		ProviderConfigKey: sess.ProviderConfigKey,
		ConnectionID:      sess.ConnectionID,
		Provider:          provider.ID,
		AuthMode:          string(provider.Mode),
	})
}

func withoutKey(m map[string]string, key string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}

func applyQuery(rawURL string, extra url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func moveQueryToFragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := u.RawQuery
	u.RawQuery = ""
	u.Fragment = query
	return u.String()
}
