// Package refresh implements the Refresh Coordinator (§4.6): it decides
// when a connection's OAuth2 credentials are stale, de-duplicates concurrent
// refresh attempts for the same connection within one process, and arbitrates
// across processes so a fleet of broker instances never races the same
// upstream refresh exchange.
package refresh

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/dropDatabas3/authbroker/internal/template"
	"github.com/dropDatabas3/authbroker/internal/tokenhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Locker is the cross-process advisory lock every instance acquires before
// performing an upstream refresh exchange, so a fleet never double-spends a
// single-use refresh token (§4.6 step 2, §8 property 3). A single-instance
// deployment can pass NoopLocker, since in-process de-duplication alone is
// sufficient there.
type Locker interface {
	// Lock blocks until the advisory lock for key is held or ctx is done.
	// The returned func releases it; callers must always call it.
	Lock(ctx context.Context, key string) (release func(), err error)
}

// NoopLocker grants the lock immediately; used in single-instance
// deployments where singleflight alone already prevents racing refreshes.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// DefaultSkew is how far ahead of ExpiresAt a refresh is considered due
// (§4.6 step 1).
const DefaultSkew = 15 * time.Minute

// Coordinator implements getFreshCredentials (§4.6): it is the only path by
// which a connection's OAuth2 credentials are refreshed.
type Coordinator struct {
	Connections repository.ConnectionStore
	Configs     repository.IntegrationConfigRepository
	Registry    repository.ProviderRegistry

	Locker     Locker
	HTTPClient *http.Client

	// Skew is how far ahead of expiry a refresh is triggered. Defaults to
	// DefaultSkew.
	Skew time.Duration

	// RequestTimeout bounds the refresh exchange HTTP call.
	RequestTimeout time.Duration

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time

	Logger *zap.Logger

	group singleflight.Group
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) skew() time.Duration {
	if c.Skew > 0 {
		return c.Skew
	}
	return DefaultSkew
}

func (c *Coordinator) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return 30 * time.Second
}

func (c *Coordinator) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Coordinator) locker() Locker {
	if c.Locker != nil {
		return c.Locker
	}
	return NoopLocker{}
}

// GetFreshCredentials returns id's current credentials, transparently
// refreshing them first if they are due (§4.6). Non-OAuth2 connections and
// OAUTH2_CC connections (client-credentials, no refresh token) are returned
// as-is: IsRefreshable gates every call before any network or lock work.
func (c *Coordinator) GetFreshCredentials(ctx context.Context, id domain.ConnectionID) (domain.Credentials, error) {
	conn, err := c.Connections.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Credentials{}, authzerr.New(authzerr.MissingConnection, "connection %s/%s not found", id.ProviderConfigKey, id.ConnectionID)
		}
		return domain.Credentials{}, err
	}

	provider, err := c.Registry.Provider(ctx, conn.Provider)
	if err != nil {
		return domain.Credentials{}, authzerr.New(authzerr.UnknownProviderTemplate, "%v", err)
	}
	if !provider.Mode.IsRefreshable() || conn.Credentials.OAuth2 == nil {
		return conn.Credentials, nil
	}
	if !c.needsRefresh(conn.Credentials.OAuth2) {
		return conn.Credentials, nil
	}

	key := id.EnvironmentID + "/" + id.ProviderConfigKey + "/" + id.ConnectionID
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.refreshLocked(ctx, id)
	})
	if err != nil {
		return domain.Credentials{}, err
	}
	return v.(domain.Credentials), nil
}

// needsRefresh implements the §4.6 step 1 staleness policy: refresh when
// within Skew of ExpiresAt, or opportunistically when ExpiresAt is unknown
// but a refresh_token is present (a provider that never reports an expiry
// still benefits from a periodic proactive refresh).
func (c *Coordinator) needsRefresh(oauth2 *domain.OAuth2Credentials) bool {
	if oauth2.ExpiresAt == nil {
		return oauth2.RefreshToken != ""
	}
	return !c.now().Add(c.skew()).Before(*oauth2.ExpiresAt)
}

// refreshLocked re-fetches the connection (another instance may have just
// refreshed it while this one waited on the lock), acquires the
// cross-process advisory lock, and performs the exchange.
func (c *Coordinator) refreshLocked(ctx context.Context, id domain.ConnectionID) (domain.Credentials, error) {
	key := id.EnvironmentID + "/" + id.ProviderConfigKey + "/" + id.ConnectionID

	release, err := c.locker().Lock(ctx, key)
	if err != nil {
		return domain.Credentials{}, authzerr.New(authzerr.UpstreamTimeout, "acquiring refresh lock: %v", err)
	}
	defer release()

	conn, err := c.Connections.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Credentials{}, authzerr.New(authzerr.MissingConnection, "connection disappeared during refresh")
		}
		return domain.Credentials{}, err
	}
	if conn.Credentials.OAuth2 == nil {
		return domain.Credentials{}, authzerr.New(authzerr.MissingConnection, "connection disappeared during refresh")
	}
	if !c.needsRefresh(conn.Credentials.OAuth2) {
		// Another instance refreshed it while we waited for the lock.
		return conn.Credentials, nil
	}

	provider, err := c.Registry.Provider(ctx, conn.Provider)
	if err != nil {
		return domain.Credentials{}, authzerr.New(authzerr.UnknownProviderTemplate, "%v", err)
	}
	integ, err := c.Configs.Get(ctx, id.EnvironmentID, id.ProviderConfigKey)
	if err != nil {
		return domain.Credentials{}, authzerr.New(authzerr.UnknownProviderConfig, "%v", err)
	}

	start := time.Now()
	creds, err := c.exchange(ctx, *provider, *integ, conn.ConnectionConfig, conn.Credentials.OAuth2)
	metrics.RefreshLatency.Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		metrics.RefreshAttemptsTotal.WithLabelValues(string(provider.Mode), "error").Inc()
		if markErr := c.Connections.MarkFailing(ctx, id, true); markErr != nil && c.Logger != nil {
			c.Logger.Warn("mark connection failing after refresh error", zap.Error(markErr))
		}
		return domain.Credentials{}, err
	}
	metrics.RefreshAttemptsTotal.WithLabelValues(string(provider.Mode), "success").Inc()

	if _, err := c.Connections.Upsert(ctx, domain.Connection{
		ConnectionID:     id,
		Provider:         conn.Provider,
		Credentials:      *creds,
		ConnectionConfig: conn.ConnectionConfig,
		Metadata:         conn.Metadata,
	}); err != nil {
		return domain.Credentials{}, err
	}
	if conn.Failing {
		if err := c.Connections.MarkFailing(ctx, id, false); err != nil && c.Logger != nil {
			c.Logger.Warn("clear connection failing state after refresh", zap.Error(err))
		}
	}

	return *creds, nil
}

// exchange performs the actual refresh_token grant. Per §4.6 step 3, refresh
// reuses token_params when the provider declares no dedicated refresh_params.
func (c *Coordinator) exchange(ctx context.Context, provider domain.Provider, integ domain.IntegrationConfig, connectionConfig map[string]any, prev *domain.OAuth2Credentials) (*domain.Credentials, error) {
	refreshURLTmpl := provider.RefreshURL.Resolve(domain.AuthModeOAuth2)
	if refreshURLTmpl == "" {
		refreshURLTmpl = provider.TokenURL.Resolve(domain.AuthModeOAuth2)
	}

	rawParams := provider.RefreshParams
	if len(rawParams) == 0 {
		rawParams = withoutGrantType(provider.TokenParams)
	}

	tctx := template.Context(connectionConfig)
	if missing := template.MissingKeys(refreshURLTmpl, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "refresh url template missing %v", missing)
	}
	refreshURL, err := template.Interpolate(refreshURLTmpl, tctx, provider.TokenURLEncode)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}

	if missing := template.MissingKeysMap(rawParams, tctx); len(missing) > 0 {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "refresh params missing %v", missing)
	}
	params, err := template.InterpolateMap(rawParams, tctx, false)
	if err != nil {
		return nil, authzerr.New(authzerr.InvalidConnectionConfig, "%v", err)
	}
	params["grant_type"] = "refresh_token"
	params["refresh_token"] = prev.RefreshToken

	clientID, clientSecret := integ.OAuthClientID, integ.OAuthClientSecret
	if prev.ConfigOverride != nil {
		if prev.ConfigOverride.ClientID != "" {
			clientID = prev.ConfigOverride.ClientID
		}
		if prev.ConfigOverride.ClientSecret != "" {
			clientSecret = prev.ConfigOverride.ClientSecret
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	resp, _, err := tokenhttp.Exchange(callCtx, c.httpClient(), refreshURL, provider.TokenRequestAuthMethod, provider.BodyFormat, clientID, clientSecret, params)
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	creds, err := domain.ParseOAuth2Credentials(resp, prev, c.now())
	if err != nil {
		return nil, authzerr.New(authzerr.RefreshTokenParsingError, "%v", err)
	}
	creds.OAuth2.ConfigOverride = prev.ConfigOverride
	return creds, nil
}

func withoutGrantType(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k == "grant_type" {
			continue
		}
		out[k] = v
	}
	return out
}

// classifyRefreshError maps a tokenhttp exchange failure onto the §7 refresh
// error codes, mirroring the engine's classifyExchangeError but against the
// refresh-specific codes (these two packages intentionally don't share one
// classifier: engine's also handles first-time-exchange codes, and neither
// package imports the other).
func classifyRefreshError(err error) error {
	if errors.Is(err, tokenhttp.ErrTimeout) {
		return authzerr.New(authzerr.UpstreamTimeout, "refresh exchange timed out")
	}
	var ue *tokenhttp.UpstreamError
	if errors.As(err, &ue) {
		return authzerr.Wrap(authzerr.RefreshTokenExternalError, ue.Status, ue.Body)
	}
	return authzerr.New(authzerr.RefreshTokenParsingError, "%v", err)
}
