package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/engine"
	"github.com/dropDatabas3/authbroker/internal/hmacguard"
	"github.com/go-chi/chi/v5"
)

// jsonQueryParam decodes a query parameter carrying a JSON object, tolerant
// of it being absent (§6: `params`/`authorization_params`/`credentials` are
// all optional JSON blobs on the query string).
func jsonQueryParam(r *http.Request, name string) (map[string]any, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%s is not valid JSON: %v", name, err)
	}
	return out, nil
}

// environmentID resolves the caller's tenant. Auth/session scoping at the
// HTTP edge (API keys, mTLS, whatever binds a request to an environment) is
// a deployment concern left to the operator's ingress, per §2 Non-goals; the
// broker core only ever needs the resolved id, taken here from a header the
// edge is expected to set.
func environmentID(r *http.Request) string {
	if v := r.Header.Get("X-Environment-Id"); v != "" {
		return v
	}
	return "default"
}

func stringQuery(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

// handleConnect serves GET /oauth/connect/{providerConfigKey} (§6): starts
// a redirect-based handshake (OAUTH1, OAUTH2, APP, CUSTOM, APP_STORE) and
// sends the browser to the provider. Any failure is written as a JSON error
// body via writeError; the browser is not redirected in that case.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerConfigKey := chi.URLParam(r, "providerConfigKey")

	integ, provider, err := s.resolve(ctx, environmentID(r), providerConfigKey)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if err := s.checkHMAC(integ, providerConfigKey, stringQuery(r, "connection_id"), stringQuery(r, "hmac")); err != nil {
		writeError(w, s.Logger, err)
		return
	}

	params, err := jsonQueryParam(r, "params")
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	authParams, err := jsonQueryParam(r, "authorization_params")
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	creds, err := jsonQueryParam(r, "credentials")
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}

	req := engine.StartRequest{
		EnvironmentID:       environmentID(r),
		ProviderConfigKey:   providerConfigKey,
		ConnectionID:        stringQuery(r, "connection_id"),
		CallbackURL:         s.callbackURL(r),
		WebSocketClientID:   stringQuery(r, "ws_client_id"),
		ConnectionConfig:    params,
		AuthorizationParams: authParams,
		UserScope:           stringQuery(r, "user_scope"),
	}
	if creds != nil {
		req.ClientIDOverride, _ = creds["oauth_client_id_override"].(string)
		req.ClientSecretOverride, _ = creds["oauth_client_secret_override"].(string)
	}

	driver, ok := s.Drivers[provider.Mode]
	if !ok || !provider.Mode.IsRedirectBased() {
		writeError(w, s.Logger, authzerr.New(authzerr.InvalidAuthMode, "%q is not a redirect-based auth mode", provider.Mode))
		return
	}

	result, err := driver.Start(ctx, req)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	http.Redirect(w, r, result.Redirect.URI, http.StatusFound)
}

// handleOAuth2CC serves POST /oauth2/cc/{providerConfigKey} (§6): a
// synchronous client-credentials exchange, no redirect, no session.
func (s *Server) handleOAuth2CC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerConfigKey := chi.URLParam(r, "providerConfigKey")

	var body struct {
		ClientID     string         `json:"client_id"`
		ClientSecret string         `json:"client_secret"`
		Params       map[string]any `json:"params"`
		HMAC         string         `json:"hmac"`
		ConnectionID string         `json:"connection_id"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, s.Logger, err)
		return
	}

	integ, provider, err := s.resolve(ctx, environmentID(r), providerConfigKey)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if err := s.checkHMAC(integ, providerConfigKey, body.ConnectionID, body.HMAC); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if provider.Mode != domain.AuthModeOAuth2CC {
		writeError(w, s.Logger, authzerr.New(authzerr.InvalidAuthMode, "%q is not OAUTH2_CC", providerConfigKey))
		return
	}

	driver := s.Drivers[domain.AuthModeOAuth2CC]
	result, err := driver.Start(ctx, engine.StartRequest{
		EnvironmentID:        environmentID(r),
		ProviderConfigKey:    providerConfigKey,
		ConnectionID:         body.ConnectionID,
		ConnectionConfig:     body.Params,
		ClientIDOverride:     body.ClientID,
		ClientSecretOverride: body.ClientSecret,
	})
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providerConfigKey": providerConfigKey,
		"connectionId":      result.Completion.Connection.Connection.ConnectionID.ConnectionID,
	})
}

// handleCallback serves GET /oauth/callback (§6), shared by every
// redirect-based mode. Dispatch happens on the shape of the callback
// payload, not a path segment, since the provider chooses the query
// string shape and there is exactly one registered redirect_uri per
// environment: oauth_token+oauth_verifier is OAuth1 (RFC 5849 §6.3); code
// is the shared authorization-code exchange behind OAUTH2/APP/CUSTOM
// (finishCodeFlow resolves the concrete mode from the session itself, so
// any one of their drivers reaches the same code path); anything else is
// the receipt-only APP_STORE callback.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := engine.CallbackRequest{
		State:          q.Get("state"),
		Code:           q.Get("code"),
		OAuthToken:     q.Get("oauth_token"),
		OAuthVerifier:  q.Get("oauth_verifier"),
		InstallationID: q.Get("installation_id"),
		SetupAction:    q.Get("setup_action"),
		Referer:        r.Referer(),
	}
	if req.State == "" {
		writeError(w, s.Logger, authzerr.New(authzerr.InvalidState, "missing state"))
		return
	}

	var driver engine.Driver
	switch {
	case req.OAuthToken != "" && req.OAuthVerifier != "":
		driver = s.Drivers[domain.AuthModeOAuth1]
	case req.Code != "":
		driver = s.Drivers[domain.AuthModeOAuth2]
	default:
		driver = s.Drivers[domain.AuthModeAppStore]
	}
	if driver == nil {
		writeError(w, s.Logger, authzerr.New(authzerr.InvalidCallbackOAuth2, "no driver registered for this callback shape"))
		return
	}

	completion, err := driver.Finish(ctx, req)
	if err != nil {
		redirectError(w, r, req.Referer, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connectionId": completion.Connection.Connection.ConnectionID.ConnectionID,
		"pending":      completion.Pending,
	})
}

// handleSimpleAuth serves POST /api-auth/{providerConfigKey} and its
// per-mode siblings (§6): every synchronous, non-redirect auth mode
// supplies finished credentials up front in the request body.
func (s *Server) handleSimpleAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerConfigKey := chi.URLParam(r, "providerConfigKey")

	var body struct {
		ConnectionID string         `json:"connection_id"`
		Credentials  map[string]any `json:"credentials"`
		Params       map[string]any `json:"params"`
		HMAC         string         `json:"hmac"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, s.Logger, err)
		return
	}

	integ, provider, err := s.resolve(ctx, environmentID(r), providerConfigKey)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	if err := s.checkHMAC(integ, providerConfigKey, body.ConnectionID, body.HMAC); err != nil {
		writeError(w, s.Logger, err)
		return
	}

	driver, ok := s.Drivers[provider.Mode]
	if !ok || provider.Mode.IsRedirectBased() || provider.Mode == domain.AuthModeOAuth2CC {
		writeError(w, s.Logger, authzerr.New(authzerr.InvalidAuthMode, "%q is not a synchronous auth mode", provider.Mode))
		return
	}

	result, err := driver.Start(ctx, engine.StartRequest{
		EnvironmentID:     environmentID(r),
		ProviderConfigKey: providerConfigKey,
		ConnectionID:      body.ConnectionID,
		ConnectionConfig:  body.Params,
		Credentials:       body.Credentials,
	})
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providerConfigKey": providerConfigKey,
		"connectionId":      result.Completion.Connection.Connection.ConnectionID.ConnectionID,
	})
}

func decodeJSONBody(r *http.Request, out any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return authzerr.New(authzerr.InvalidConnectionConfig, "read body: %v", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return authzerr.New(authzerr.InvalidConnectionConfig, "invalid JSON body: %v", err)
	}
	return nil
}

func (s *Server) resolve(ctx context.Context, environmentID, providerConfigKey string) (*domain.IntegrationConfig, *domain.Provider, error) {
	integ, err := s.Configs.Get(ctx, environmentID, providerConfigKey)
	if err != nil {
		return nil, nil, authzerr.New(authzerr.UnknownProviderConfig, "%v", err)
	}
	provider, err := s.Registry.Provider(ctx, integ.Provider)
	if err != nil {
		return nil, nil, authzerr.New(authzerr.UnknownProviderTemplate, "%v", err)
	}
	return integ, provider, nil
}

func (s *Server) checkHMAC(integ *domain.IntegrationConfig, providerConfigKey, connectionID, supplied string) error {
	return hmacguard.Verify(integ.HMACEnabled, integ.HMACSecret, providerConfigKey, connectionID, supplied)
}

// callbackURL is the broker's own /oauth/callback address, the
// redirect_uri every provider is configured to send the browser back to.
func (s *Server) callbackURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + "/oauth/callback"
}
