package engine

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/tokenhttp"
)

// tokenExchange POSTs to tokenURL with params encoded per bodyFormat,
// applying the declared client-credential placement (§4.4 OAUTH2 finish
// step 3-4, §4.5 step 4). It delegates to internal/tokenhttp, which also
// backs the Refresh Coordinator's refresh exchanges.
func tokenExchange(ctx context.Context, client *http.Client, tokenURL string, authMethod domain.TokenAuthMethod, bodyFormat domain.BodyFormat, clientID, clientSecret string, params map[string]string) (map[string]any, int, error) {
	return tokenhttp.Exchange(ctx, client, tokenURL, authMethod, bodyFormat, clientID, clientSecret, params)
}

// errUpstreamTimeout signals the request's context deadline was exceeded.
var errUpstreamTimeout = tokenhttp.ErrTimeout

// upstreamError carries the non-2xx status and body from a failed token
// exchange, so the caller can classify it per §4.5 step 5.
type upstreamError = tokenhttp.UpstreamError
