package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProxyClient_Do_SetsHeadersAndMethod(t *testing.T) {
	var gotMethod, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &HTTPProxyClient{Client: srv.Client()}
	resp, err := c.Do(context.Background(), repository.ProxyRequest{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Headers: map[string]string{"Accept": "application/json"},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "application/json", gotHeader)
}

func TestHTTPProxyClient_Do_DefaultsToGET(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer srv.Close()

	c := &HTTPProxyClient{Client: srv.Client()}
	_, err := c.Do(context.Background(), repository.ProxyRequest{URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestHTTPProxyClient_Do_TransportError(t *testing.T) {
	c := &HTTPProxyClient{}
	_, err := c.Do(context.Background(), repository.ProxyRequest{URL: "http://127.0.0.1:0/unreachable"})
	assert.Error(t, err)
}
