package httpapi

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/domain/repository"
	"github.com/dropDatabas3/authbroker/internal/engine"
	"github.com/dropDatabas3/authbroker/internal/refresh"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server bundles the collaborators every handler needs. Built once in
// cmd/broker and handed to NewRouter.
type Server struct {
	Drivers  map[domain.AuthMode]engine.Driver
	Refresh  *refresh.Coordinator
	Sweeper  *engine.Sweeper
	Configs  repository.IntegrationConfigRepository
	Registry repository.ProviderRegistry

	Logger *zap.Logger

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// NewRouter builds the broker's chi router (§6): one route per external
// interface entry, plus the per-mode /api-auth siblings the synchronous
// auth modes share a single handler for.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/oauth/connect/{providerConfigKey}", s.handleConnect)
	r.Post("/oauth2/cc/{providerConfigKey}", s.handleOAuth2CC)
	r.Get("/oauth/callback", s.handleCallback)

	for _, path := range []string{
		"/api-auth/{providerConfigKey}",
		"/basic-auth/{providerConfigKey}",
		"/api-key-auth/{providerConfigKey}",
		"/signature-auth/{providerConfigKey}",
		"/tba-auth/{providerConfigKey}",
		"/tableau-auth/{providerConfigKey}",
		"/bill-auth/{providerConfigKey}",
		"/two-step-auth/{providerConfigKey}",
		"/jwt-auth/{providerConfigKey}",
	} {
		r.Post(path, s.handleSimpleAuth)
	}

	r.Post("/admin/connections/{providerConfigKey}/{connectionId}/refresh", s.handleAdminRefresh)
	r.Post("/admin/sweep", s.handleAdminSweep)

	r.Get("/healthz", s.handleHealthz)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
