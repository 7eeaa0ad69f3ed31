package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	providers map[string]*domain.Provider
}

func (f *fakeRegistry) Provider(ctx context.Context, providerID string) (*domain.Provider, error) {
	p, ok := f.providers[providerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

type fakeConfigs struct {
	configs map[string]*domain.IntegrationConfig
}

func (f *fakeConfigs) Get(ctx context.Context, environmentID, providerConfigKey string) (*domain.IntegrationConfig, error) {
	c, ok := f.configs[providerConfigKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

type fakeDriver struct {
	startResult *engine.StartResult
	startErr    error
	finishErr   error
	finish      *engine.Completion
}

func (d *fakeDriver) Start(ctx context.Context, req engine.StartRequest) (*engine.StartResult, error) {
	return d.startResult, d.startErr
}

func (d *fakeDriver) Finish(ctx context.Context, req engine.CallbackRequest) (*engine.Completion, error) {
	return d.finish, d.finishErr
}

func newTestServer(registry *fakeRegistry, configs *fakeConfigs, drivers map[domain.AuthMode]engine.Driver) *httptest.Server {
	s := &Server{
		Drivers:  drivers,
		Configs:  configs,
		Registry: registry,
	}
	return httptest.NewServer(NewRouter(s))
}

func TestHandleConnect_RedirectsOnSuccess(t *testing.T) {
	registry := &fakeRegistry{providers: map[string]*domain.Provider{
		"github": {ID: "github", Mode: domain.AuthModeOAuth2},
	}}
	configs := &fakeConfigs{configs: map[string]*domain.IntegrationConfig{
		"github-key": {ProviderConfigKey: "github-key", Provider: "github"},
	}}
	drivers := map[domain.AuthMode]engine.Driver{
		domain.AuthModeOAuth2: &fakeDriver{startResult: &engine.StartResult{Redirect: &engine.Redirect{URI: "https://github.com/login/oauth/authorize?x=1"}}},
	}
	srv := newTestServer(registry, configs, drivers)
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(srv.URL + "/oauth/connect/github-key")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://github.com/login/oauth/authorize?x=1", resp.Header.Get("Location"))
}

func TestHandleConnect_UnknownProviderConfig(t *testing.T) {
	registry := &fakeRegistry{providers: map[string]*domain.Provider{}}
	configs := &fakeConfigs{configs: map[string]*domain.IntegrationConfig{}}
	srv := newTestServer(registry, configs, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/oauth/connect/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEqual(t, http.StatusFound, resp.StatusCode)
	assert.True(t, resp.StatusCode >= 400)
}

func TestHandleConnect_NonRedirectModeRejected(t *testing.T) {
	registry := &fakeRegistry{providers: map[string]*domain.Provider{
		"stripe": {ID: "stripe", Mode: domain.AuthModeAPIKey},
	}}
	configs := &fakeConfigs{configs: map[string]*domain.IntegrationConfig{
		"stripe-key": {ProviderConfigKey: "stripe-key", Provider: "stripe"},
	}}
	srv := newTestServer(registry, configs, map[domain.AuthMode]engine.Driver{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/oauth/connect/stripe-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCallback_MissingState(t *testing.T) {
	srv := newTestServer(&fakeRegistry{}, &fakeConfigs{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/oauth/callback")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCallback_OAuth2CodeDispatches(t *testing.T) {
	conn := domain.UpsertResult{Connection: domain.Connection{ConnectionID: domain.ConnectionID{ConnectionID: "conn-1"}}}
	drivers := map[domain.AuthMode]engine.Driver{
		domain.AuthModeOAuth2: &fakeDriver{finish: &engine.Completion{Connection: conn}},
	}
	srv := newTestServer(&fakeRegistry{}, &fakeConfigs{}, drivers)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/oauth/callback?state=sess-1&code=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(&fakeRegistry{}, &fakeConfigs{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

var _ repository.ProviderRegistry = (*fakeRegistry)(nil)
var _ repository.IntegrationConfigRepository = (*fakeConfigs)(nil)
var _ engine.Driver = (*fakeDriver)(nil)
