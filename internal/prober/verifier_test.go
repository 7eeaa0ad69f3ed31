package prober

import (
	"context"
	"errors"
	"testing"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	provider *domain.Provider
	err      error
}

func (f *fakeRegistry) Provider(ctx context.Context, providerID string) (*domain.Provider, error) {
	return f.provider, f.err
}

type fakeProxy struct {
	resp repository.ProxyResponse
	err  error
	req  repository.ProxyRequest
}

func (f *fakeProxy) Do(ctx context.Context, req repository.ProxyRequest) (repository.ProxyResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestVerify_UnknownProvider(t *testing.T) {
	v := &Verifier{Providers: &fakeRegistry{err: repository.ErrNotFound}, Proxy: &fakeProxy{}}
	ok, err := v.Verify(context.Background(), engine.HookContext{Provider: "ghost"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, authzerr.ConnectionTestFailed, authzerr.CodeOf(err))
}

func TestVerify_NoProbeDeclared(t *testing.T) {
	v := &Verifier{Providers: &fakeRegistry{provider: &domain.Provider{}}, Proxy: &fakeProxy{}}
	ok, err := v.Verify(context.Background(), engine.HookContext{Provider: "github"})
	require.Error(t, err)
	assert.False(t, ok)
}

func TestVerify_Success(t *testing.T) {
	p := &domain.Provider{Proxy: domain.Proxy{Verification: &domain.VerificationProbe{
		Method: "GET", BaseURL: "https://api.example.com", Endpoint: "/user",
		Headers: map[string]string{"Accept": "application/json"},
	}}}
	proxy := &fakeProxy{resp: repository.ProxyResponse{StatusCode: 200}}
	v := &Verifier{Providers: &fakeRegistry{provider: p}, Proxy: proxy}

	ok, err := v.Verify(context.Background(), engine.HookContext{Provider: "github"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://api.example.com/user", proxy.req.URL)
	assert.Equal(t, "GET", proxy.req.Method)
}

func TestVerify_NonSuccessStatus(t *testing.T) {
	p := &domain.Provider{Proxy: domain.Proxy{Verification: &domain.VerificationProbe{
		Method: "GET", BaseURL: "https://api.example.com", Endpoint: "/user",
	}}}
	proxy := &fakeProxy{resp: repository.ProxyResponse{StatusCode: 401}}
	v := &Verifier{Providers: &fakeRegistry{provider: p}, Proxy: proxy}

	ok, err := v.Verify(context.Background(), engine.HookContext{Provider: "github"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, authzerr.ConnectionTestFailed, authzerr.CodeOf(err))
}

func TestVerify_TransportError(t *testing.T) {
	p := &domain.Provider{Proxy: domain.Proxy{Verification: &domain.VerificationProbe{
		Method: "GET", BaseURL: "https://api.example.com", Endpoint: "/user",
	}}}
	proxy := &fakeProxy{err: errors.New("dial tcp: timeout")}
	v := &Verifier{Providers: &fakeRegistry{provider: p}, Proxy: proxy}

	_, err := v.Verify(context.Background(), engine.HookContext{Provider: "github"})
	require.Error(t, err)
	assert.Equal(t, authzerr.ConnectionTestFailed, authzerr.CodeOf(err))
}
