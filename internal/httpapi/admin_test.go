package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	swept int
}

func (f *fakeSessions) Create(ctx context.Context, session domain.OAuthSession) error { return nil }

func (f *fakeSessions) FindAndDelete(ctx context.Context, id string) (*domain.OAuthSession, error) {
	return nil, nil
}

func (f *fakeSessions) SweepExpired(ctx context.Context) (int, error) {
	return f.swept, nil
}

func TestHandleAdminSweep_NotConfigured(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&Server{Configs: &fakeConfigs{}, Registry: &fakeRegistry{}}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/sweep", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandleAdminSweep_RunsSweeper(t *testing.T) {
	sweeper := &engine.Sweeper{Sessions: &fakeSessions{swept: 3}}
	srv := httptest.NewServer(NewRouter(&Server{Sweeper: sweeper, Configs: &fakeConfigs{}, Registry: &fakeRegistry{}}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/sweep", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleAdminRefresh_NotConfigured(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&Server{Configs: &fakeConfigs{}, Registry: &fakeRegistry{}}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/connections/github-key/conn-1/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
