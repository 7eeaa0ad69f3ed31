// Package tokenhttp issues token-endpoint HTTP exchanges (authorization-code,
// client-credentials, refresh) on behalf of both the Auth Flow Engine and the
// Refresh Coordinator, so the wire-level request shaping lives in one place.
package tokenhttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/authbroker/internal/domain"
)

// ErrTimeout signals the request's context deadline was exceeded.
var ErrTimeout = errors.New("tokenhttp: upstream request timed out")

// UpstreamError carries the non-2xx status and body from a failed token
// exchange, so the caller can classify it per §7.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return "tokenhttp: upstream error"
}

// Exchange POSTs to tokenURL with params encoded per bodyFormat, applying
// the declared client-credential placement. Returns the decoded JSON
// response body.
func Exchange(ctx context.Context, client *http.Client, tokenURL string, authMethod domain.TokenAuthMethod, bodyFormat domain.BodyFormat, clientID, clientSecret string, params map[string]string) (map[string]any, int, error) {
	body, contentType, err := encodeBody(bodyFormat, params, authMethod, clientID, clientSecret)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if authMethod == domain.TokenAuthBasic {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(clientID+":"+clientSecret)))
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, 0, ErrTimeout
		}
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &UpstreamError{Status: resp.StatusCode, Body: string(raw)}
	}

	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, resp.StatusCode, err
		}
	}
	return out, resp.StatusCode, nil
}

func encodeBody(format domain.BodyFormat, params map[string]string, authMethod domain.TokenAuthMethod, clientID, clientSecret string) ([]byte, string, error) {
	full := map[string]string{}
	for k, v := range params {
		full[k] = v
	}
	if authMethod != domain.TokenAuthBasic {
		full["client_id"] = clientID
		full["client_secret"] = clientSecret
	}

	switch format {
	case domain.BodyFormatJSON:
		asAny := make(map[string]any, len(full))
		for k, v := range full {
			asAny[k] = v
		}
		b, err := json.Marshal(asAny)
		return b, "application/json", err
	default:
		form := url.Values{}
		for k, v := range full {
			form.Set(k, v)
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	}
}
