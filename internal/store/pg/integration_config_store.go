package pg

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/security/secretbox"
	"github.com/jackc/pgx/v5"
)

// sealSecret and unsealSecret wrap internal/security/secretbox, treating an
// empty string as "no secret" rather than a zero-length plaintext to seal —
// oauth_client_secret/hmac_secret/webhook_secret all default to '' for
// providers that don't use them (e.g. BASIC-mode integrations with no HMAC).
func sealSecret(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	return secretbox.Encrypt(plain)
}

func unsealSecret(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	return secretbox.Decrypt(sealed)
}

// CreateIntegrationConfigsTable is the DDL for _nango_integration_configs.
// Not one of §6's two core-owned tables (_nango_oauth_sessions/
// _nango_connections), but the tenant-to-client-credentials binding has to
// live somewhere durable once a deployment moves past the in-memory fixture
// (internal/store/memory), so it is modeled the same way: one table, one
// JSONB column for the provider-specific bag (§3 "Custom").
const CreateIntegrationConfigsTable = `
CREATE TABLE IF NOT EXISTS _nango_integration_configs (
	environment_id                     text NOT NULL,
	provider_config_key                text NOT NULL,
	provider                           text NOT NULL,
	oauth_client_id                    text NOT NULL DEFAULT '',
	oauth_client_secret                text NOT NULL DEFAULT '',
	oauth_scopes                       text NOT NULL DEFAULT '',
	app_link                           text NOT NULL DEFAULT '',
	custom                             jsonb NOT NULL DEFAULT '{}',
	webhook_url                        text NOT NULL DEFAULT '',
	webhook_secret                     text NOT NULL DEFAULT '',
	connections_with_scripts_cap_limit int NOT NULL DEFAULT 0,
	hmac_enabled                       boolean NOT NULL DEFAULT false,
	hmac_secret                        text NOT NULL DEFAULT '',
	created_at                         timestamptz NOT NULL DEFAULT now(),
	updated_at                         timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (environment_id, provider_config_key)
)`

// IntegrationConfigStore is the Postgres-backed
// repository.IntegrationConfigRepository. Separate from Store (the
// Connections/Sessions owner) since an operator may reasonably keep tenant
// config in a different database than the hot connection/session tables;
// wrap the same *Store when they share one.
type IntegrationConfigStore struct {
	*Store
}

// NewIntegrationConfigStore adapts an existing Store's pool to also serve
// IntegrationConfig lookups.
func NewIntegrationConfigStore(s *Store) *IntegrationConfigStore {
	return &IntegrationConfigStore{Store: s}
}

// Get loads the tenant's IntegrationConfig for providerConfigKey.
func (s *IntegrationConfigStore) Get(ctx context.Context, environmentID, providerConfigKey string) (*domain.IntegrationConfig, error) {
	const q = `
SELECT provider_config_key, provider, oauth_client_id, oauth_client_secret, oauth_scopes,
       app_link, custom, webhook_url, webhook_secret, connections_with_scripts_cap_limit,
       hmac_enabled, hmac_secret
FROM _nango_integration_configs
WHERE environment_id = $1 AND provider_config_key = $2`

	row := s.pool.QueryRow(ctx, q, environmentID, providerConfigKey)

	var cfg domain.IntegrationConfig
	var custom []byte
	err := row.Scan(
		&cfg.ProviderConfigKey, &cfg.Provider, &cfg.OAuthClientID, &cfg.OAuthClientSecret, &cfg.OAuthScopes,
		&cfg.AppLink, &custom, &cfg.WebhookURL, &cfg.WebhookSecret, &cfg.ConnectionsWithScriptsCapLimit,
		&cfg.HMACEnabled, &cfg.HMACSecret,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &cfg.Custom); err != nil {
			return nil, err
		}
	}
	if cfg.OAuthClientSecret, err = unsealSecret(cfg.OAuthClientSecret); err != nil {
		return nil, err
	}
	if cfg.WebhookSecret, err = unsealSecret(cfg.WebhookSecret); err != nil {
		return nil, err
	}
	if cfg.HMACSecret, err = unsealSecret(cfg.HMACSecret); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Put creates or replaces the tenant's binding for providerConfigKey.
// Exposed for the operator CLI and config-sync tooling; the HTTP surface
// only ever reads.
func (s *IntegrationConfigStore) Put(ctx context.Context, environmentID string, cfg domain.IntegrationConfig) error {
	custom, err := json.Marshal(cfg.Custom)
	if err != nil {
		return err
	}
	oauthClientSecret, err := sealSecret(cfg.OAuthClientSecret)
	if err != nil {
		return err
	}
	webhookSecret, err := sealSecret(cfg.WebhookSecret)
	if err != nil {
		return err
	}
	hmacSecret, err := sealSecret(cfg.HMACSecret)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO _nango_integration_configs
	(environment_id, provider_config_key, provider, oauth_client_id, oauth_client_secret,
	 oauth_scopes, app_link, custom, webhook_url, webhook_secret,
	 connections_with_scripts_cap_limit, hmac_enabled, hmac_secret, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now(), now())
ON CONFLICT (environment_id, provider_config_key) DO UPDATE SET
	provider                           = EXCLUDED.provider,
	oauth_client_id                    = EXCLUDED.oauth_client_id,
	oauth_client_secret                = EXCLUDED.oauth_client_secret,
	oauth_scopes                       = EXCLUDED.oauth_scopes,
	app_link                           = EXCLUDED.app_link,
	custom                             = EXCLUDED.custom,
	webhook_url                        = EXCLUDED.webhook_url,
	webhook_secret                     = EXCLUDED.webhook_secret,
	connections_with_scripts_cap_limit = EXCLUDED.connections_with_scripts_cap_limit,
	hmac_enabled                       = EXCLUDED.hmac_enabled,
	hmac_secret                        = EXCLUDED.hmac_secret,
	updated_at                         = now()`

	_, err = s.pool.Exec(ctx, q,
		environmentID, cfg.ProviderConfigKey, cfg.Provider, cfg.OAuthClientID, oauthClientSecret,
		cfg.OAuthScopes, cfg.AppLink, custom, cfg.WebhookURL, webhookSecret,
		cfg.ConnectionsWithScriptsCapLimit, cfg.HMACEnabled, hmacSecret,
	)
	return err
}

var _ repository.IntegrationConfigRepository = (*IntegrationConfigStore)(nil)
