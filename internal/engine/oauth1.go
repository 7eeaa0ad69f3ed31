package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/dropDatabas3/authbroker/internal/oauth1sign"
	"github.com/dropDatabas3/authbroker/internal/template"
)

// OAuth1Driver implements the OAUTH1 three-legged flow: request a request
// token, redirect the user to authorize it, then exchange it plus the
// returned verifier for an access token (RFC 5849, §4.4 OAUTH1).
type OAuth1Driver struct{ Env Env }

func NewOAuth1Driver(env Env) *OAuth1Driver { return &OAuth1Driver{Env: env} }

func (d *OAuth1Driver) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	provider, integ, err := resolveProviderAndConfig(ctx, d.Env, req.EnvironmentID, req.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	tctx := templateContext(req.ConnectionConfig, nil)
	reqTokenURLTmpl := provider.RequestTokenURL.Resolve(domain.AuthModeOAuth1)
	if reqTokenURLTmpl == "" {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "provider %q declares no request_token_url", provider.ID)
	}
	if missing := template.MissingKeys(reqTokenURLTmpl, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "request_token_url missing %v", missing)
	}
	reqTokenURL, err := template.Interpolate(reqTokenURLTmpl, tctx, false)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}

	authURLTmpl := provider.AuthorizationURL.Resolve(domain.AuthModeOAuth1)
	if missing := template.MissingKeys(authURLTmpl, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "authorization_url missing %v", missing)
	}
	authURL, err := template.Interpolate(authURLTmpl, tctx, false)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}

	clientID, clientSecret, _ := effectiveClientCredentials(*integ, nil)

	// sessionID must exist before the request-token POST: it is carried in
	// oauth_callback itself (the provider echoes that exact URL back on
	// redirect, never the authorize URL), so Finish can key off req.State
	// without the provider ever being told about a "state" concept (§4.4
	// OAUTH1 start).
	sessionID := domain.NewID()
	callbackURL := applyQuery(req.CallbackURL, url.Values{"state": {sessionID}})

	callCtx, cancel := context.WithTimeout(ctx, d.Env.requestTimeout())
	defer cancel()

	resp, err := d.oauth1Post(callCtx, reqTokenURL, clientID, clientSecret, "", "", oauth1sign.Params{
		"oauth_callback": callbackURL,
	})
	if err != nil {
		return nil, classifyExchangeError(err, false)
	}
	if resp.Get("oauth_callback_confirmed") != "true" {
		return nil, authzerr.New(authzerr.InvalidCallbackOAuth1, "request token endpoint did not confirm oauth_callback")
	}
	requestToken := resp.Get("oauth_token")
	requestTokenSecret := resp.Get("oauth_token_secret")
	if requestToken == "" || requestTokenSecret == "" {
		return nil, authzerr.New(authzerr.TokenParsingError, "request token response missing oauth_token/oauth_token_secret")
	}

	now := d.Env.now()
	sess := domain.OAuthSession{
		ID:                 sessionID,
		EnvironmentID:      req.EnvironmentID,
		ProviderConfigKey:  req.ProviderConfigKey,
		Provider:           provider.ID,
		AuthMode:           domain.AuthModeOAuth1,
		ConnectionID:       req.ConnectionID,
		CallbackURL:        req.CallbackURL,
		ConnectionConfig:   req.ConnectionConfig,
		WebSocketClientID:  req.WebSocketClientID,
		ActivityLogID:      req.ActivityLogID,
		RequestToken:       requestToken,
		RequestTokenSecret: requestTokenSecret,
		CreatedAt:          now,
		ExpiresAt:          now.Add(d.Env.sessionTTL()),
	}
	if err := d.Env.Sessions.Create(ctx, sess); err != nil {
		return nil, authzerr.New(authzerr.UnknownError, "persist session: %v", err)
	}

	q := url.Values{}
	q.Set("oauth_token", requestToken)
	q.Set("state", sessionID)
	finalURL := applyQuery(authURL, q)

	return &StartResult{Redirect: &Redirect{URI: finalURL}}, nil
}

func (d *OAuth1Driver) Finish(ctx context.Context, req CallbackRequest) (*Completion, error) {
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
	if req.OAuthToken != sess.RequestToken {
		return nil, authzerr.New(authzerr.InvalidCallbackOAuth1, "callback oauth_token does not match the session's request token")
	}
	if req.OAuthVerifier == "" {
		return nil, authzerr.New(authzerr.InvalidCallbackOAuth1, "callback missing oauth_verifier")
	}

	provider, integ, err := resolveProviderAndConfig(ctx, d.Env, sess.EnvironmentID, sess.ProviderConfigKey)
	if err != nil {
		return nil, err
	}

	tctx := templateContext(sess.ConnectionConfig, nil)
	accessTokenURLTmpl := provider.TokenURL.Resolve(domain.AuthModeOAuth1)
	accessTokenURL, err := template.Interpolate(accessTokenURLTmpl, tctx, false)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}

	clientID, clientSecret, _ := effectiveClientCredentials(*integ, nil)

	callCtx, cancel := context.WithTimeout(ctx, d.Env.requestTimeout())
	defer cancel()

	resp, err := d.oauth1Post(callCtx, accessTokenURL, clientID, clientSecret, sess.RequestToken, sess.RequestTokenSecret, oauth1sign.Params{
		"oauth_verifier": req.OAuthVerifier,
	})
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeOAuth1), "error").Inc()
		return nil, classifyExchangeError(err, false)
	}
	accessToken := resp.Get("oauth_token")
	accessTokenSecret := resp.Get("oauth_token_secret")
	if accessToken == "" || accessTokenSecret == "" {
		metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeOAuth1), "error").Inc()
		return nil, authzerr.New(authzerr.TokenParsingError, "access token response missing oauth_token/oauth_token_secret")
	}
	metrics.AuthAttemptsTotal.WithLabelValues(string(domain.AuthModeOAuth1), "success").Inc()

	creds := domain.Credentials{
		Type: domain.CredentialOAuth1,
		OAuth1: &domain.OAuth1Credentials{
			OAuthToken:       accessToken,
			OAuthTokenSecret: accessTokenSecret,
		},
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

	if d.Env.Hooks != nil {
		d.Env.Hooks.Run(HookContext{
			EnvironmentID:     sess.EnvironmentID,
			ProviderConfigKey: sess.ProviderConfigKey,
			ConnectionID:      sess.ConnectionID,
			Provider:          provider.ID,
			AuthMode:          string(domain.AuthModeOAuth1),
			Operation:         string(result.Operation),
			Success:           true,
			NewConnection:     result.Operation == domain.OperationCreation,
			WebSocketClientID: sess.WebSocketClientID,
		})
	}

	return &Completion{Connection: result}, nil
}

// oauth1Post signs and sends a form-encoded POST per RFC 5849 §3, returning
// the form-decoded response body.
func (d *OAuth1Driver) oauth1Post(ctx context.Context, rawURL, consumerKey, consumerSecret, token, tokenSecret string, extra oauth1sign.Params) (url.Values, error) {
	signed, err := oauth1sign.Sign(http.MethodPost, rawURL, consumerKey, consumerSecret, token, tokenSecret, extra)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(""))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", oauth1sign.Build(signed))
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.Env.httpClient().Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errUpstreamTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &upstreamError{Status: resp.StatusCode, Body: string(raw)}
	}

	return url.ParseQuery(string(raw))
}
