package domain

import "time"

// OAuthSession is the transient, single-use record binding a pending
// handshake to its originating tenant, provider, code-verifier, callback
// URL, and log correlator (§3). Its ID doubles as the OAuth "state"
// parameter — the session-state coupling is intentional (§9): do not
// introduce a second identifier.
type OAuthSession struct {
	ID                string // opaque, uuid-like; equals the OAuth "state"
	EnvironmentID     string
	ProviderConfigKey string
	Provider          string
	AuthMode          AuthMode
	ConnectionID      string
	CallbackURL       string
	CodeVerifier      string // 48 hex bytes, random
	ConnectionConfig  map[string]any

	WebSocketClientID string
	ActivityLogID     string

	// RequestToken/RequestTokenSecret are populated between the OAuth1 start
	// and finish legs only (RFC 5849 §6.1/§6.3).
	RequestToken       string
	RequestTokenSecret string

	// ConfigOverride carries the caller-supplied client id/secret/scope
	// overrides (§6 credentials.oauth_client_id_override) so finish (and
	// later refreshes, per the Open Question) can re-apply them.
	ConfigOverride *ConfigOverride

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has outlived its TTL as of now.
func (s OAuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NewID is the hook used to mint new session ids. Overridable in tests.
var NewID = func() string {
	return newUUID()
}
