// Package engine implements the Auth Flow Engine (§4.4): one driver per
// auth mode, each exposing start and finish, dispatched by the provider's
// declared auth_mode. Drivers are deliberately not built via inheritance
// (§9) — Registry maps AuthMode to a Driver value, nothing more.
package engine

import (
	"context"

	"github.com/dropDatabas3/authbroker/internal/domain"
)

// StartRequest is the caller input to a driver's Start method.
type StartRequest struct {
	EnvironmentID     string
	ProviderConfigKey string
	ConnectionID      string
	CallbackURL       string
	WebSocketClientID string
	ActivityLogID     string

	// ConnectionConfig seeds the session's mutable config map (from the
	// caller's `params` query/body).
	ConnectionConfig map[string]any

	// AuthorizationParams are caller-supplied overrides that win over the
	// provider's declarative authorization_params (§4.4 OAUTH2 start step 3).
	AuthorizationParams map[string]any

	// UserScope is the Slack-specific user_scope passthrough (§4.4 step 3).
	UserScope string

	// ClientIDOverride/ClientSecretOverride/ScopesOverride let the caller
	// override the tenant's IntegrationConfig for this one handshake
	// (§6 credentials.oauth_client_id_override, §9 Open Question #1).
	ClientIDOverride     string
	ClientSecretOverride string
	ScopesOverride       string

	// Non-redirect mode inputs (API_KEY, BASIC, JWT, SIGNATURE, TBA,
	// TABLEAU, BILL, TWO_STEP). OAUTH2_CC takes its client id/secret from
	// ClientIDOverride/ClientSecretOverride instead.
	Credentials map[string]any
}

// StartResult is either a Redirect (interactive modes) or a Completion
// (synchronous modes).
type StartResult struct {
	Redirect   *Redirect
	Completion *Completion
}

// Redirect is a 302-style outcome: the caller sends the end user here.
type Redirect struct {
	URI string
}

// Completion is a terminal, synchronous outcome — used by non-redirect
// modes and by every Finish call.
type Completion struct {
	Connection domain.UpsertResult
	Pending    bool // CUSTOM awaiting installation_id (§4.4 step 7)
}

// CallbackRequest is the caller input to a driver's Finish method.
type CallbackRequest struct {
	State string // OAuth2/APP/CUSTOM/APP_STORE: equals the session id

	// OAuth2
	Code string

	// OAuth1
	OAuthToken    string
	OAuthVerifier string

	// CUSTOM (GitHub-app-like)
	InstallationID string
	SetupAction    string
	Referer        string

	// CallbackMetadata carries any other provider-declared
	// redirect_uri_metadata extras (§4.4 OAUTH2 finish inputs).
	CallbackMetadata map[string]any
}

// Driver is the per-auth-mode contract (§4.4, §9).
type Driver interface {
	// Start begins a handshake. Interactive modes persist a session and
	// return a Redirect; synchronous modes upsert a connection immediately
	// and return a Completion.
	Start(ctx context.Context, req StartRequest) (*StartResult, error)

	// Finish consumes a callback. Only meaningful for redirect-based modes;
	// synchronous-mode drivers implement it as a no-op returning
	// authzerr.InvalidAuthMode, since nothing ever calls it for them.
	Finish(ctx context.Context, req CallbackRequest) (*Completion, error)
}
