// Package memory provides in-process reference implementations of the
// Session Store, Connection Store, Provider Registry and Integration Config
// repository, so the broker and its tests run without external
// infrastructure — grounded in the teacher's own cache/memory and
// controlplane/fs in-process fallbacks.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
)

// SessionStore is a mutex-guarded map implementing repository.SessionStore.
// FindAndDelete takes the lock for its full read-then-delete, which is what
// makes it atomic under concurrent callers (§4.3, §8 property 2).
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.OAuthSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.OAuthSession)}
}

func (s *SessionStore) Create(_ context.Context, sess domain.OAuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *SessionStore) FindAndDelete(_ context.Context, id string) (*domain.OAuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	delete(s.sessions, id)
	return &sess, nil
}

func (s *SessionStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

var _ repository.SessionStore = (*SessionStore)(nil)

// ConnectionStore is a mutex-guarded map implementing
// repository.ConnectionStore.
type ConnectionStore struct {
	mu    sync.Mutex
	byKey map[domain.ConnectionID]domain.Connection
}

func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{byKey: make(map[domain.ConnectionID]domain.Connection)}
}

func (c *ConnectionStore) Upsert(_ context.Context, conn domain.Connection) (domain.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := c.byKey[conn.ConnectionID]
	op := domain.OperationCreation
	if ok {
		op = domain.OperationUpdate
		conn.CreatedAt = existing.CreatedAt
	} else {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	c.byKey[conn.ConnectionID] = conn
	return domain.UpsertResult{Connection: conn, Operation: op}, nil
}

func (c *ConnectionStore) Get(_ context.Context, id domain.ConnectionID) (*domain.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.byKey[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &conn, nil
}

func (c *ConnectionStore) MarkFailing(_ context.Context, id domain.ConnectionID, failing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.byKey[id]
	if !ok {
		return repository.ErrNotFound
	}
	conn.Failing = failing
	if failing {
		if conn.FailingSince == nil {
			now := time.Now().UTC()
			conn.FailingSince = &now
		}
	} else {
		conn.FailingSince = nil
	}
	c.byKey[id] = conn
	return nil
}

func (c *ConnectionStore) CountForProviderConfig(_ context.Context, environmentID, providerConfigKey string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id := range c.byKey {
		if id.EnvironmentID == environmentID && id.ProviderConfigKey == providerConfigKey {
			n++
		}
	}
	return n, nil
}

var _ repository.ConnectionStore = (*ConnectionStore)(nil)

// ProviderRegistry is a static in-memory map of provider descriptors.
type ProviderRegistry struct {
	providers map[string]*domain.Provider
}

func NewProviderRegistry(providers map[string]*domain.Provider) *ProviderRegistry {
	return &ProviderRegistry{providers: providers}
}

func (r *ProviderRegistry) Provider(_ context.Context, providerID string) (*domain.Provider, error) {
	p, ok := r.providers[providerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

var _ repository.ProviderRegistry = (*ProviderRegistry)(nil)

// IntegrationConfigRepository is a static in-memory map of tenant bindings,
// keyed by "environmentID/providerConfigKey".
type IntegrationConfigRepository struct {
	mu      sync.Mutex
	configs map[string]domain.IntegrationConfig
}

func NewIntegrationConfigRepository() *IntegrationConfigRepository {
	return &IntegrationConfigRepository{configs: make(map[string]domain.IntegrationConfig)}
}

func configKey(environmentID, providerConfigKey string) string {
	return environmentID + "/" + providerConfigKey
}

func (r *IntegrationConfigRepository) Put(environmentID string, cfg domain.IntegrationConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[configKey(environmentID, cfg.ProviderConfigKey)] = cfg
}

func (r *IntegrationConfigRepository) Get(_ context.Context, environmentID, providerConfigKey string) (*domain.IntegrationConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[configKey(environmentID, providerConfigKey)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cfg, nil
}

var _ repository.IntegrationConfigRepository = (*IntegrationConfigRepository)(nil)
