package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"go.uber.org/zap"
)

// HookRunner fires the Post-Connection Hooks (§4.7) after a terminal
// success. Declared here to avoid an import cycle between engine and hooks;
// the concrete *hooks.Runner satisfies it.
type HookRunner interface {
	Run(ctx HookContext)
}

// HookContext is the payload passed to the hook runner on every terminal
// transition, successful or not.
type HookContext struct {
	EnvironmentID     string
	ProviderConfigKey string
	ConnectionID      string
	Provider          string
	AuthMode          string
	Operation         string
	Success           bool
	Err               error
	NewConnection     bool

	// WebSocketClientID addresses the UI client that initiated the flow, so
	// the Notifier can route the terminal event back to it (§2 "Notifier").
	// Empty for flows with no attached UI client (e.g. the CLI).
	WebSocketClientID string
}

// Prober issues the §4.8 verification probe for freshly minted non-OAuth
// credentials.
type Prober interface {
	Verify(ctx context.Context, hc HookContext) (ok bool, err error)
}

// Env bundles every collaborator a Driver needs. Passed by value into each
// driver constructor; Drivers hold their own copy rather than reaching into
// a global.
type Env struct {
	Sessions    repository.SessionStore
	Connections repository.ConnectionStore
	Configs     repository.IntegrationConfigRepository
	Registry    repository.ProviderRegistry

	HTTPClient *http.Client

	Hooks  HookRunner
	Prober Prober

	Logger *zap.Logger

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time

	// SessionTTL bounds new session lifetimes (§3: TTL ≥ 10 min, ≤ 1h).
	SessionTTL time.Duration

	// RequestTimeout bounds every outbound HTTP call (§5, default 30s).
	RequestTimeout time.Duration
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// DefaultSessionTTL is used when Env.SessionTTL is zero.
const DefaultSessionTTL = 30 * time.Minute

// DefaultRequestTimeout is used when Env.RequestTimeout is zero.
const DefaultRequestTimeout = 30 * time.Second

func (e Env) sessionTTL() time.Duration {
	if e.SessionTTL > 0 {
		return e.SessionTTL
	}
	return DefaultSessionTTL
}

func (e Env) requestTimeout() time.Duration {
	if e.RequestTimeout > 0 {
		return e.RequestTimeout
	}
	return DefaultRequestTimeout
}

func (e Env) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}
