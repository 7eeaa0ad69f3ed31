package httpapi

import (
	"net/http"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/go-chi/chi/v5"
)

// handleAdminRefresh serves POST /admin/connections/{providerConfigKey}/{connectionId}/refresh.
// A supplement to the wire surface in §6 (which names no operator-facing
// refresh trigger): brokerctl refresh and any operator tooling drive the
// Refresh Coordinator's getFreshCredentials through this endpoint rather
// than duplicating its staleness/single-flight logic client-side.
func (s *Server) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Refresh == nil {
		writeError(w, s.Logger, authzerr.New(authzerr.UnknownError, "refresh coordinator not configured"))
		return
	}
	id := domain.ConnectionID{
		EnvironmentID:     environmentID(r),
		ProviderConfigKey: chi.URLParam(r, "providerConfigKey"),
		ConnectionID:      chi.URLParam(r, "connectionId"),
	}
	creds, err := s.Refresh.GetFreshCredentials(r.Context(), id)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providerConfigKey": id.ProviderConfigKey,
		"connectionId":      id.ConnectionID,
		"refreshed":         creds.OAuth2 != nil,
	})
}

// handleAdminSweep serves POST /admin/sweep: an operator-triggered sweep of
// expired OAuth sessions, independent of the background Sweeper's leader-
// gated tick (§4.3, §5).
func (s *Server) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	if s.Sweeper == nil {
		writeError(w, s.Logger, authzerr.New(authzerr.UnknownError, "sweeper not configured"))
		return
	}
	removed, err := s.Sweeper.SweepOnce(r.Context())
	if err != nil {
		writeError(w, s.Logger, authzerr.New(authzerr.UnknownError, "%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
