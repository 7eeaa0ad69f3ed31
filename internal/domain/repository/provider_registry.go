package repository

import (
	"context"

	"github.com/dropDatabas3/authbroker/internal/domain"
)

// ProviderRegistry is a read-only lookup of Provider descriptors, declared
// out of scope for storage design (§2) but consumed by every engine driver.
type ProviderRegistry interface {
	// Provider returns the descriptor for the given provider id, resolving
	// aliases. Returns ErrNotFound if the id is unknown.
	Provider(ctx context.Context, providerID string) (*domain.Provider, error)
}

// IntegrationConfigRepository is the per-tenant binding of a
// provider_config_key to concrete client credentials (§3).
type IntegrationConfigRepository interface {
	// Get returns the tenant's IntegrationConfig for providerConfigKey.
	// Returns ErrNotFound if the tenant has no such integration.
	Get(ctx context.Context, environmentID, providerConfigKey string) (*domain.IntegrationConfig, error)
}
