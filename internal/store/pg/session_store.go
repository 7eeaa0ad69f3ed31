package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/jackc/pgx/v5"
)

// CreateSessionsTable is the DDL for _nango_oauth_sessions (§6). Exposed so
// migration tooling can embed it without duplicating the schema.
const CreateSessionsTable = `
CREATE TABLE IF NOT EXISTS _nango_oauth_sessions (
	id                  text PRIMARY KEY,
	environment_id      text NOT NULL,
	provider_config_key text NOT NULL,
	provider            text NOT NULL,
	auth_mode           text NOT NULL,
	connection_id       text NOT NULL,
	callback_url        text NOT NULL,
	code_verifier       text NOT NULL DEFAULT '',
	connection_config   jsonb NOT NULL DEFAULT '{}',
	web_socket_client_id text NOT NULL DEFAULT '',
	activity_log_id     text NOT NULL DEFAULT '',
	request_token_secret text NOT NULL DEFAULT '',
	config_override     jsonb,
	created_at          timestamptz NOT NULL DEFAULT now(),
	expires_at          timestamptz NOT NULL
)`

// Create persists a new session row. Sessions are single-use and deleted by
// FindAndDelete before token exchange (§3 Lifecycle).
func (s *Store) Create(ctx context.Context, sess domain.OAuthSession) error {
	connCfg, err := json.Marshal(sess.ConnectionConfig)
	if err != nil {
		return err
	}
	var override []byte
	if sess.ConfigOverride != nil {
		override, err = json.Marshal(sess.ConfigOverride)
		if err != nil {
			return err
		}
	}

	const q = `
INSERT INTO _nango_oauth_sessions
	(id, environment_id, provider_config_key, provider, auth_mode, connection_id,
	 callback_url, code_verifier, connection_config, web_socket_client_id,
	 activity_log_id, request_token_secret, config_override, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err = s.pool.Exec(ctx, q,
		sess.ID, sess.EnvironmentID, sess.ProviderConfigKey, sess.Provider, string(sess.AuthMode),
		sess.ConnectionID, sess.CallbackURL, sess.CodeVerifier, connCfg, sess.WebSocketClientID,
		sess.ActivityLogID, sess.RequestTokenSecret, override, sess.CreatedAt, sess.ExpiresAt,
	)
	return err
}

// FindAndDelete atomically deletes the session with the given id and
// returns what was there, in a single DELETE ... RETURNING statement —
// postgres guarantees that of two concurrent DELETEs targeting the same
// row, only one affects a row and returns it (§8 property 2).
func (s *Store) FindAndDelete(ctx context.Context, id string) (*domain.OAuthSession, error) {
	const q = `
DELETE FROM _nango_oauth_sessions
WHERE id = $1
RETURNING id, environment_id, provider_config_key, provider, auth_mode, connection_id,
          callback_url, code_verifier, connection_config, web_socket_client_id,
          activity_log_id, request_token_secret, config_override, created_at, expires_at`

	row := s.pool.QueryRow(ctx, q, id)

	var sess domain.OAuthSession
	var authMode string
	var connCfg, override []byte
	err := row.Scan(
		&sess.ID, &sess.EnvironmentID, &sess.ProviderConfigKey, &sess.Provider, &authMode, &sess.ConnectionID,
		&sess.CallbackURL, &sess.CodeVerifier, &connCfg, &sess.WebSocketClientID,
		&sess.ActivityLogID, &sess.RequestTokenSecret, &override, &sess.CreatedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sess.AuthMode = domain.AuthMode(authMode)
	if len(connCfg) > 0 {
		if err := json.Unmarshal(connCfg, &sess.ConnectionConfig); err != nil {
			return nil, err
		}
	}
	if len(override) > 0 {
		var o domain.ConfigOverride
		if err := json.Unmarshal(override, &o); err != nil {
			return nil, err
		}
		sess.ConfigOverride = &o
	}
	return &sess, nil
}

// SweepExpired removes all sessions past ExpiresAt. Safe to call
// concurrently from multiple broker instances; it is a plain bulk DELETE
// with no ordering requirement (§5 "periodic, idempotent").
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	const q = `DELETE FROM _nango_oauth_sessions WHERE expires_at < $1`
	tag, err := s.pool.Exec(ctx, q, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ repository.SessionStore = (*Store)(nil)
