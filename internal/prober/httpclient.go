package prober

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/authbroker/internal/domain/repository"
)

// HTTPProxyClient is the default repository.ProxyClient: a direct HTTP call
// with no retry, pagination, or request rewriting — anything beyond "issue
// this one declared request" is out of scope (§2 Non-goals), so a bare
// http.Client is the whole implementation; there is nothing here for a
// proxy/transport library to add.
type HTTPProxyClient struct {
	Client  *http.Client
	Timeout time.Duration
}

func (c *HTTPProxyClient) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *HTTPProxyClient) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

func (c *HTTPProxyClient) Do(ctx context.Context, req repository.ProxyRequest) (repository.ProxyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return repository.ProxyResponse{}, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return repository.ProxyResponse{}, err
	}
	defer resp.Body.Close()

	return repository.ProxyResponse{StatusCode: resp.StatusCode}, nil
}

var _ repository.ProxyClient = (*HTTPProxyClient)(nil)
