package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAppStoreFixture(t *testing.T) (Env, *memory.SessionStore, *memory.ConnectionStore) {
	t.Helper()

	providers := memory.NewProviderRegistry(map[string]*domain.Provider{
		"marketplace": {
			ID:               "marketplace",
			Mode:             domain.AuthModeAppStore,
			AuthorizationURL: domain.URLSpec{Raw: "https://marketplace.example.com/install"},
		},
	})
	configs := memory.NewIntegrationConfigRepository()
	configs.Put("env-1", domain.IntegrationConfig{ProviderConfigKey: "mp-conf", Provider: "marketplace"})

	sessions := memory.NewSessionStore()
	conns := memory.NewConnectionStore()
	env := Env{Sessions: sessions, Connections: conns, Configs: configs, Registry: providers}
	return env, sessions, conns
}

func TestAppStoreStart_RedirectsToInstallURLWithState(t *testing.T) {
	env, sessions, _ := newAppStoreFixture(t)
	d := NewAppStoreDriver(env)

	result, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "mp-conf",
		ConnectionID:      "conn-1",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Redirect)

	u, err := url.Parse(result.Redirect.URI)
	require.NoError(t, err)
	assert.Equal(t, "marketplace.example.com", u.Host)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "conn-1", sess.ConnectionID)
}

func TestAppStoreFinish_StoresReceiptAsOpaqueCredentials(t *testing.T) {
	env, sessions, conns := newAppStoreFixture(t)
	d := NewAppStoreDriver(env)

	start, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "mp-conf",
		ConnectionID:      "conn-1",
	})
	require.NoError(t, err)
	u, _ := url.Parse(start.Redirect.URI)
	state := u.Query().Get("state")

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), *sess))

	completion, err := d.Finish(context.Background(), CallbackRequest{
		State:            state,
		CallbackMetadata: map[string]any{"receipt": "signed-receipt-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "conn-1", completion.Connection.Connection.ConnectionID.ConnectionID)

	stored, err := conns.Get(context.Background(), domain.ConnectionID{EnvironmentID: "env-1", ProviderConfigKey: "mp-conf", ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialAppStore, stored.Credentials.Type)
	assert.Equal(t, "signed-receipt-1", stored.Credentials.Opaque["receipt"])
}

func TestAppStoreFinish_UnknownStateIsInvalidState(t *testing.T) {
	env, _, _ := newAppStoreFixture(t)
	d := NewAppStoreDriver(env)

	_, err := d.Finish(context.Background(), CallbackRequest{State: "ghost"})
	require.Error(t, err)
	assert.Equal(t, authzerr.InvalidState, authzerr.CodeOf(err))
}

func newAppFixture(t *testing.T) (Env, *memory.SessionStore) {
	t.Helper()

	providers := memory.NewProviderRegistry(map[string]*domain.Provider{
		"acme": {
			ID:               "acme",
			Mode:             domain.AuthModeApp,
			AuthorizationURL: domain.URLSpec{Raw: "https://acme.example.com/install?return=${appPublicLink}"},
		},
	})
	configs := memory.NewIntegrationConfigRepository()
	configs.Put("env-1", domain.IntegrationConfig{ProviderConfigKey: "acme-conf", Provider: "acme", AppLink: "https://app.example.com/connect"})

	sessions := memory.NewSessionStore()
	conns := memory.NewConnectionStore()
	env := Env{Sessions: sessions, Connections: conns, Configs: configs, Registry: providers}
	return env, sessions
}

func TestAppStart_ComposesInstallURLWithAppPublicLinkAndNoOAuth2Params(t *testing.T) {
	env, sessions := newAppFixture(t)
	d := NewAppDriver(env)

	result, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "acme-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Redirect)

	u, err := url.Parse(result.Redirect.URI)
	require.NoError(t, err)
	assert.Equal(t, "acme.example.com", u.Host)
	assert.Equal(t, "https://app.example.com/connect", u.Query().Get("return"))
	assert.Empty(t, u.Query().Get("client_id"), "APP start must not include OAUTH2 authorize machinery")
	assert.Empty(t, u.Query().Get("response_type"))
	assert.Empty(t, u.Query().Get("scope"))
	assert.Empty(t, u.Query().Get("code_challenge"))
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "conn-1", sess.ConnectionID)
}

func newCustomFixture(t *testing.T, tokenHandler http.HandlerFunc) (Env, *memory.SessionStore, *memory.ConnectionStore) {
	t.Helper()

	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)

	providers := memory.NewProviderRegistry(map[string]*domain.Provider{
		"github-app": {
			ID:               "github-app",
			Mode:             domain.AuthModeCustom,
			AuthorizationURL: domain.URLSpec{Raw: "https://github.com/apps/acme/installations/new"},
			TokenURL:         domain.URLSpec{Raw: srv.URL + "/login/oauth/access_token"},
			BodyFormat:       domain.BodyFormatForm,
			DisablePKCE:      true,
		},
	})
	configs := memory.NewIntegrationConfigRepository()
	configs.Put("env-1", domain.IntegrationConfig{ProviderConfigKey: "gha-conf", Provider: "github-app", OAuthClientID: "cid", OAuthClientSecret: "csecret"})

	sessions := memory.NewSessionStore()
	conns := memory.NewConnectionStore()
	env := Env{Sessions: sessions, Connections: conns, Configs: configs, Registry: providers}
	return env, sessions, conns
}

func TestCustomFinish_NoInstallationIDLeavesConnectionPending(t *testing.T) {
	env, sessions, conns := newCustomFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3600})
	})
	d := NewCustomDriver(env)

	start, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "gha-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)
	u, _ := url.Parse(start.Redirect.URI)
	assert.Empty(t, u.Query().Get("client_id"), "CUSTOM start must not include OAUTH2 authorize machinery")
	assert.Empty(t, u.Query().Get("code_challenge"))
	state := u.Query().Get("state")

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), *sess))

	completion, err := d.Finish(context.Background(), CallbackRequest{State: state, Code: "abc"})
	require.NoError(t, err)
	assert.True(t, completion.Pending)

	stored, err := conns.Get(context.Background(), domain.ConnectionID{EnvironmentID: "env-1", ProviderConfigKey: "gha-conf", ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.True(t, stored.Pending)
}

func TestCustomFinish_WithInstallationIDCompletesConnection(t *testing.T) {
	env, sessions, conns := newCustomFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3600})
	})
	d := NewCustomDriver(env)

	start, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "gha-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)
	u, _ := url.Parse(start.Redirect.URI)
	state := u.Query().Get("state")

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), *sess))

	completion, err := d.Finish(context.Background(), CallbackRequest{State: state, Code: "abc", InstallationID: "install-1"})
	require.NoError(t, err)
	assert.False(t, completion.Pending)

	stored, err := conns.Get(context.Background(), domain.ConnectionID{EnvironmentID: "env-1", ProviderConfigKey: "gha-conf", ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.False(t, stored.Pending)
	assert.Equal(t, "install-1", stored.ConnectionConfig["installation_id"])
}
