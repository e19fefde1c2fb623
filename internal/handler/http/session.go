package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventstack/identity/internal/authz"
	"github.com/eventstack/identity/internal/service"
	"github.com/eventstack/identity/pkg/httputil"
)

// SessionHandler exposes the caller's session registry.
type SessionHandler struct {
	service *service.SessionService
	logger  *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(svc *service.SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{service: svc, logger: logger}
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, err := authz.Require(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	sessions, err := h.service.List(r.Context(), ac.UserID(), ac.SessionID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessions})
}

// Revoke handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ac, err := authz.Require(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	sessionID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.Revoke(r.Context(), ac.UserID(), sessionID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "session revoked"},
	})
}
