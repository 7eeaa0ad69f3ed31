package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuth1Fixture(t *testing.T, handler http.HandlerFunc) (Env, *memory.SessionStore, *memory.ConnectionStore) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	providers := memory.NewProviderRegistry(map[string]*domain.Provider{
		"twitter": {
			ID:              "twitter",
			Mode:            domain.AuthModeOAuth1,
			RequestTokenURL: domain.URLSpec{Raw: srv.URL + "/oauth/request_token"},
			AuthorizationURL: domain.URLSpec{Raw: srv.URL + "/oauth/authorize"},
			TokenURL:        domain.URLSpec{Raw: srv.URL + "/oauth/access_token"},
		},
	})
	configs := memory.NewIntegrationConfigRepository()
	configs.Put("env-1", domain.IntegrationConfig{ProviderConfigKey: "twitter-conf", Provider: "twitter", OAuthClientID: "cid", OAuthClientSecret: "csecret"})

	sessions := memory.NewSessionStore()
	conns := memory.NewConnectionStore()
	env := Env{Sessions: sessions, Connections: conns, Configs: configs, Registry: providers}
	return env, sessions, conns
}

func TestOAuth1Start_ObtainsRequestTokenAndRedirects(t *testing.T) {
	env, sessions, _ := newOAuth1Fixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/request_token", r.URL.Path)
		w.Write([]byte("oauth_token=rt-1&oauth_token_secret=rts-1&oauth_callback_confirmed=true"))
	})
	d := NewOAuth1Driver(env)

	result, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "twitter-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Redirect)

	u, err := url.Parse(result.Redirect.URI)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", u.Query().Get("oauth_token"))
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "rt-1", sess.RequestToken)
	assert.Equal(t, "rts-1", sess.RequestTokenSecret)
}

func TestOAuth1Start_OAuthCallbackCarriesState(t *testing.T) {
	var gotCallback string
	env, sessions, _ := newOAuth1Fixture(t, func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		for _, part := range strings.Split(auth, ",") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, `oauth_callback="`) {
				raw := strings.TrimSuffix(strings.TrimPrefix(part, `oauth_callback="`), `"`)
				decoded, err := url.QueryUnescape(raw)
				require.NoError(t, err)
				gotCallback = decoded
			}
		}
		w.Write([]byte("oauth_token=rt-1&oauth_token_secret=rts-1&oauth_callback_confirmed=true"))
	})
	d := NewOAuth1Driver(env)

	result, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "twitter-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)

	u, err := url.Parse(result.Redirect.URI)
	require.NoError(t, err)
	redirectState := u.Query().Get("state")
	require.NotEmpty(t, redirectState)

	require.NotEmpty(t, gotCallback, "request-token call must sign oauth_callback")
	callbackURL, err := url.Parse(gotCallback)
	require.NoError(t, err)
	assert.Equal(t, "broker.example.com", callbackURL.Host)
	assert.Equal(t, redirectState, callbackURL.Query().Get("state"),
		"oauth_callback sent to the provider must carry the same state the broker will receive back on its own callback endpoint")

	sess, err := sessions.FindAndDelete(context.Background(), redirectState)
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestOAuth1Start_CallbackNotConfirmedIsRejected(t *testing.T) {
	env, _, _ := newOAuth1Fixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("oauth_token=rt-1&oauth_token_secret=rts-1&oauth_callback_confirmed=false"))
	})
	d := NewOAuth1Driver(env)

	_, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "twitter-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.Error(t, err)
	assert.Equal(t, authzerr.InvalidCallbackOAuth1, authzerr.CodeOf(err))
}

func TestOAuth1Finish_ExchangesVerifierAndUpsertsConnection(t *testing.T) {
	env, sessions, conns := newOAuth1Fixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/request_token" {
			w.Write([]byte("oauth_token=rt-1&oauth_token_secret=rts-1&oauth_callback_confirmed=true"))
			return
		}
		w.Write([]byte("oauth_token=at-1&oauth_token_secret=ats-1"))
	})
	d := NewOAuth1Driver(env)

	start, err := d.Start(context.Background(), StartRequest{
		EnvironmentID:     "env-1",
		ProviderConfigKey: "twitter-conf",
		ConnectionID:      "conn-1",
		CallbackURL:       "https://broker.example.com/oauth/callback",
	})
	require.NoError(t, err)
	u, _ := url.Parse(start.Redirect.URI)
	state := u.Query().Get("state")

	sess, err := sessions.FindAndDelete(context.Background(), state)
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), *sess))

	completion, err := d.Finish(context.Background(), CallbackRequest{State: state, OAuthToken: "rt-1", OAuthVerifier: "verifier-1"})
	require.NoError(t, err)
	assert.Equal(t, "conn-1", completion.Connection.Connection.ConnectionID.ConnectionID)

	stored, err := conns.Get(context.Background(), domain.ConnectionID{EnvironmentID: "env-1", ProviderConfigKey: "twitter-conf", ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.Credentials.OAuth1.OAuthToken)
	assert.Equal(t, "ats-1", stored.Credentials.OAuth1.OAuthTokenSecret)
}

func TestOAuth1Finish_TokenMismatchRejected(t *testing.T) {
	env, sessions, _ := newOAuth1Fixture(t, nil)
	require.NoError(t, sessions.Create(context.Background(), domain.OAuthSession{
		ID: "sess-1", EnvironmentID: "env-1", ProviderConfigKey: "twitter-conf", Provider: "twitter",
		AuthMode: domain.AuthModeOAuth1, RequestToken: "rt-1", RequestTokenSecret: "rts-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))
	d := NewOAuth1Driver(env)

	_, err := d.Finish(context.Background(), CallbackRequest{State: "sess-1", OAuthToken: "wrong-token", OAuthVerifier: "v"})
	require.Error(t, err)
	assert.Equal(t, authzerr.InvalidCallbackOAuth1, authzerr.CodeOf(err))
}

func TestOAuth1Finish_MissingVerifierRejected(t *testing.T) {
	env, sessions, _ := newOAuth1Fixture(t, nil)
	require.NoError(t, sessions.Create(context.Background(), domain.OAuthSession{
		ID: "sess-1", EnvironmentID: "env-1", ProviderConfigKey: "twitter-conf", Provider: "twitter",
		AuthMode: domain.AuthModeOAuth1, RequestToken: "rt-1", RequestTokenSecret: "rts-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))
	d := NewOAuth1Driver(env)

	_, err := d.Finish(context.Background(), CallbackRequest{State: "sess-1", OAuthToken: "rt-1", OAuthVerifier: ""})
	require.Error(t, err)
	assert.Equal(t, authzerr.InvalidCallbackOAuth1, authzerr.CodeOf(err))
}
