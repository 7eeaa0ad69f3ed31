package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuth2Fixture(t *testing.T, tokenHandler http.HandlerFunc) (Env, *memory.SessionStore, *memory.ConnectionStore) {
	t.Helper()

	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)

	providers := memory.NewProviderRegistry(map[string]*domain.Provider{
		"github": {
			ID:               "github",
			Mode:             domain.AuthModeOAuth2,
			AuthorizationURL: domain.URLSpec{Raw: "https://github.com/login/oauth/authorize"},
			TokenURL:         domain.URLSpec{Raw: srv.URL + "/oauth/token"},
			BodyFormat:       domain.BodyFormatForm,
			DisablePKCE:      true,
		},
	})
	configs := memory.NewIntegrationConfigRepository()
	configs.Put("env-1", domain.IntegrationConfig{ProviderConfigKey: "github-conf", Provider: "github", OAuthClientID: "cid", OAuthClientSecret: "csecret"})

	sessions := memory.NewSessionStore()
	conns := memory.NewConnectionStore()

	env := Env{
		Sessions:    sessions,
		Connections: conns,
		Configs:     configs,
		Registry:    providers,
	}
	return env, sessions, conns
}

func TestOAuth2Start_PersistsSessionAndBuildsRedirect(t *testing.T) {
	env, sessions, _ := newOAuth2Fixture(t, nil)
	d := NewOAuth2Driver(env)

	result, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "github-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Redirect)

	u, err := url.Parse(result.Redirect.URI)
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "cid", u.Query().Get("client_id"))

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "conn-1", sess.ConnectionID)
}

func TestOAuth2Finish_ExchangesCodeAndUpsertsConnection(t *testing.T) {
	env, sessions, conns := newOAuth2Fixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "abc123", r.Form.Get("code"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600})
	})
	d := NewOAuth2Driver(env)

	start, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "github-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)
	u, _ := url.Parse(start.Redirect.URI)
	state := u.Query().Get("state")

	// Drain the session to inspect it, then put it back — Finish expects to
	// find it still there and consumes it itself via FindAndDelete.
	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NoError(t, sessions.Create(context.Background(), *sess))

	completion, err := d.Finish(context.Background(), CallbackRequest{State: state, Code: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "conn-1", completion.Connection.Connection.ConnectionID.ConnectionID)
	assert.Equal(t, domain.OperationCreation, completion.Connection.Operation)

	stored, err := conns.Get(context.Background(), domain.ConnectionID{EnvironmentID: "env-1", ProviderConfigKey: "github-conf", ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.Credentials.OAuth2.AccessToken)
}

func TestOAuth2Finish_UnknownStateIsInvalidState(t *testing.T) {
	env, _, _ := newOAuth2Fixture(t, nil)
	d := NewOAuth2Driver(env)

	_, err := d.Finish(context.Background(), CallbackRequest{State: "ghost"})
	require.Error(t, err)
	assert.Equal(t, authzerr.InvalidState, authzerr.CodeOf(err))
}

func TestOAuth2Finish_ExpiredSessionIsInvalidState(t *testing.T) {
	env, sessions, _ := newOAuth2Fixture(t, nil)
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, sessions.Create(context.Background(), domain.OAuthSession{
		ID: "sess-1", EnvironmentID: "env-1", ProviderConfigKey: "github-conf",
		Provider: "github", AuthMode: domain.AuthModeOAuth2, ExpiresAt: past,
	}))

	d := NewOAuth2Driver(env)
	_, err := d.Finish(context.Background(), CallbackRequest{State: "sess-1", Code: "abc"})
	require.Error(t, err)
	assert.Equal(t, authzerr.InvalidState, authzerr.CodeOf(err))
}

func TestOAuth2Finish_UpstreamErrorClassified(t *testing.T) {
	env, sessions, _ := newOAuth2Fixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, sessions.Create(context.Background(), domain.OAuthSession{
		ID: "sess-1", EnvironmentID: "env-1", ProviderConfigKey: "github-conf",
		Provider: "github", AuthMode: domain.AuthModeOAuth2, ExpiresAt: future,
	}))

	d := NewOAuth2Driver(env)
	_, err := d.Finish(context.Background(), CallbackRequest{State: "sess-1", Code: "bad"})
	require.Error(t, err)
	assert.Equal(t, authzerr.TokenExternalError, authzerr.CodeOf(err))
}
