package repository

import (
	"context"

	"github.com/dropDatabas3/authbroker/internal/domain"
)

// ConnectionStore upserts/reads Connection rows keyed by
// (environmentId, providerConfigKey, connectionId) (§3/§6). Credential
// encryption at rest is an external collaborator's concern; this interface
// operates on the decrypted in-memory Connection shape.
type ConnectionStore interface {
	// Upsert creates or updates the connection identified by id.Connection,
	// reporting which branch was taken so callers can drive hook dispatch
	// (§4.4 step 8).
	Upsert(ctx context.Context, conn domain.Connection) (domain.UpsertResult, error)

	Get(ctx context.Context, id domain.ConnectionID) (*domain.Connection, error)

	// MarkFailing flags/clears a connection's persistent auth-failure state
	// (§4.5 step 5, §4.7 step 4). Clearing is idempotent.
	MarkFailing(ctx context.Context, id domain.ConnectionID, failing bool) error

	// CountForProviderConfig reports how many connections already exist
	// under (environmentId, providerConfigKey), used by the Post-Connection
	// Hook Runner to enforce CONNECTIONS_WITH_SCRIPTS_CAP_LIMIT (§4.7 step 1).
	CountForProviderConfig(ctx context.Context, environmentID, providerConfigKey string) (int, error)
}
