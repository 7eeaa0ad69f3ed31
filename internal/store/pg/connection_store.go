package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/security/secretbox"
	"github.com/jackc/pgx/v5"
)

// CreateConnectionsTable is the DDL for _nango_connections (§6).
const CreateConnectionsTable = `
CREATE TABLE IF NOT EXISTS _nango_connections (
	environment_id      text NOT NULL,
	provider_config_key text NOT NULL,
	connection_id        text NOT NULL,
	provider             text NOT NULL,
	credentials          jsonb NOT NULL,
	connection_config    jsonb NOT NULL DEFAULT '{}',
	metadata             jsonb NOT NULL DEFAULT '{}',
	pending              boolean NOT NULL DEFAULT false,
	failing              boolean NOT NULL DEFAULT false,
	failing_since        timestamptz,
	created_at           timestamptz NOT NULL DEFAULT now(),
	updated_at           timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (environment_id, provider_config_key, connection_id)
)`

// Upsert creates or updates the connection, reporting which branch ran via
// the xmax trick: xmax = 0 means the INSERT path was taken (§4.4 step 8).
// Credentials are sealed with secretbox before they ever reach the wire to
// Postgres; the credentials column stores the sealed string as a JSON
// string value, keeping the column jsonb without exposing tokens in it.
func (s *Store) Upsert(ctx context.Context, conn domain.Connection) (domain.UpsertResult, error) {
	credsPlain, err := json.Marshal(conn.Credentials)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	sealed, err := secretbox.Encrypt(string(credsPlain))
	if err != nil {
		return domain.UpsertResult{}, err
	}
	creds, err := json.Marshal(sealed)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	connCfg, err := json.Marshal(conn.ConnectionConfig)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	meta, err := json.Marshal(conn.Metadata)
	if err != nil {
		return domain.UpsertResult{}, err
	}

	const q = `
INSERT INTO _nango_connections
	(environment_id, provider_config_key, connection_id, provider, credentials,
	 connection_config, metadata, pending, failing, failing_since, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now(), now())
ON CONFLICT (environment_id, provider_config_key, connection_id) DO UPDATE SET
	provider          = EXCLUDED.provider,
	credentials       = EXCLUDED.credentials,
	connection_config = EXCLUDED.connection_config,
	metadata          = EXCLUDED.metadata,
	pending           = EXCLUDED.pending,
	failing           = EXCLUDED.failing,
	failing_since     = EXCLUDED.failing_since,
	updated_at        = now()
RETURNING (xmax = 0) AS inserted, created_at, updated_at`

	row := s.pool.QueryRow(ctx, q,
		conn.EnvironmentID, conn.ProviderConfigKey, conn.ConnectionID, conn.Provider, creds,
		connCfg, meta, conn.Pending, conn.Failing, conn.FailingSince,
	)

	var inserted bool
	if err := row.Scan(&inserted, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
		return domain.UpsertResult{}, err
	}

	op := domain.OperationUpdate
	if inserted {
		op = domain.OperationCreation
	}
	return domain.UpsertResult{Connection: conn, Operation: op}, nil
}

// Get loads a single connection by its triple key.
func (s *Store) Get(ctx context.Context, id domain.ConnectionID) (*domain.Connection, error) {
	const q = `
SELECT environment_id, provider_config_key, connection_id, provider, credentials,
       connection_config, metadata, pending, failing, failing_since, created_at, updated_at
FROM _nango_connections
WHERE environment_id = $1 AND provider_config_key = $2 AND connection_id = $3`

	row := s.pool.QueryRow(ctx, q, id.EnvironmentID, id.ProviderConfigKey, id.ConnectionID)

	var conn domain.Connection
	var creds, connCfg, meta []byte
	err := row.Scan(
		&conn.EnvironmentID, &conn.ProviderConfigKey, &conn.ConnectionID, &conn.Provider, &creds,
		&connCfg, &meta, &conn.Pending, &conn.Failing, &conn.FailingSince, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var sealed string
	if err := json.Unmarshal(creds, &sealed); err != nil {
		return nil, err
	}
	credsPlain, err := secretbox.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(credsPlain), &conn.Credentials); err != nil {
		return nil, err
	}
	if len(connCfg) > 0 {
		if err := json.Unmarshal(connCfg, &conn.ConnectionConfig); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &conn.Metadata); err != nil {
			return nil, err
		}
	}
	return &conn, nil
}

// MarkFailing flips the persistent auth-failure flag (§4.5 step 5, §4.7
// step 4). Setting failing=true stamps FailingSince only if it was not
// already set, so repeated failures don't reset the clock; clearing always
// nulls it.
func (s *Store) MarkFailing(ctx context.Context, id domain.ConnectionID, failing bool) error {
	if !failing {
		const q = `
UPDATE _nango_connections SET failing = false, failing_since = NULL, updated_at = now()
WHERE environment_id = $1 AND provider_config_key = $2 AND connection_id = $3`
		_, err := s.pool.Exec(ctx, q, id.EnvironmentID, id.ProviderConfigKey, id.ConnectionID)
		return err
	}

	const q = `
UPDATE _nango_connections
SET failing = true, failing_since = COALESCE(failing_since, $4), updated_at = now()
WHERE environment_id = $1 AND provider_config_key = $2 AND connection_id = $3`
	_, err := s.pool.Exec(ctx, q, id.EnvironmentID, id.ProviderConfigKey, id.ConnectionID, time.Now().UTC())
	return err
}

// CountForProviderConfig backs the hook runner's per-integration connection
// cap check (§4.7 step 1).
func (s *Store) CountForProviderConfig(ctx context.Context, environmentID, providerConfigKey string) (int, error) {
	const q = `
SELECT count(*) FROM _nango_connections
WHERE environment_id = $1 AND provider_config_key = $2`

	var n int
	if err := s.pool.QueryRow(ctx, q, environmentID, providerConfigKey).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

var _ repository.ConnectionStore = (*Store)(nil)
