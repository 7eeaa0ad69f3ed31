package domain

import "time"

// ConnectionID triples a connection's identity: every row is uniquely keyed
// by (environmentId, providerConfigKey, connectionId) per spec §3/§6.
type ConnectionID struct {
	EnvironmentID     string
	ProviderConfigKey string
	ConnectionID      string
}

// Connection is the persistent record produced by a completed handshake.
// Credentials are expected to be encrypted at rest by an external
// collaborator; this type models the decrypted, in-memory shape the core
// operates on.
type Connection struct {
	ConnectionID

	Provider         string
	Credentials      Credentials
	ConnectionConfig map[string]any
	Metadata         map[string]any

	// Pending marks a CUSTOM (GitHub-app-like) connection that completed
	// the OAuth2 leg but has not yet received an installation_id (§4.4
	// OAUTH2 finish, step 7).
	Pending bool

	// Failing is set when the most recent refresh attempt failed; cleared
	// on the next successful refresh or post-connection hook run (§4.7
	// step 4, §7).
	Failing      bool
	FailingSince *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertOperation discriminates whether Upsert created a new row or updated
// an existing one; the hook runner branches on this (§4.4 step 8).
type UpsertOperation string

const (
	OperationCreation UpsertOperation = "creation"
	OperationUpdate   UpsertOperation = "update"
	OperationRefresh  UpsertOperation = "refresh"
)

// UpsertResult is returned by the Connection Store's Upsert.
type UpsertResult struct {
	Connection Connection
	Operation  UpsertOperation
}

// IntegrationConfig is a tenant-scoped binding of a provider descriptor to
// concrete client credentials (§3).
type IntegrationConfig struct {
	ProviderConfigKey string
	Provider          string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScopes       string // comma-separated
	AppLink           string
	Custom            map[string]any

	// WebhookURL and WebhookSecret address the tenant's outbound webhook
	// receiver (§6 "Outbound webhook"); empty WebhookURL suppresses
	// delivery entirely.
	WebhookURL    string
	WebhookSecret string

	// ConnectionsWithScriptsCapLimit bounds how many connections under this
	// provider config may trigger an initial sync (§4.7 step 1); zero means
	// unlimited.
	ConnectionsWithScriptsCapLimit int

	// HMACEnabled/HMACSecret gate the §4.2 HMAC Guard per tenant; the guard
	// is a no-op unless HMACEnabled is set.
	HMACEnabled bool
	HMACSecret  string
}

// ScopeSlice splits OAuthScopes on commas, trimming whitespace, dropping
// empties.
func (c IntegrationConfig) ScopeSlice() []string {
	return splitTrim(c.OAuthScopes, ",")
}
