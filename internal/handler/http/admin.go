package http

import (
	"log/slog"
	"net/http"

	"github.com/eventstack/identity/internal/tenantscope"
	apperrors "github.com/eventstack/identity/pkg/errors"
	"github.com/eventstack/identity/pkg/database"
	"github.com/eventstack/identity/pkg/httputil"
)

// AdminHandler exposes platform-operator endpoints. All routes are mounted
// behind RequireSystemAdmin.
type AdminHandler struct {
	db     database.DBTX
	logger *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(db database.DBTX, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{db: db, logger: logger}
}

// VerifyIsolation handles GET /api/v1/admin/isolation/verify?tenant_id=
//
// It audits the row-level security posture of every tenant-scoped table and
// probes for rows leaking across the given tenant's boundary.
func (h *AdminHandler) VerifyIsolation(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("tenant_id")
	if raw == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("tenant_id query parameter is required"), h.logger)
		return
	}
	tenantID, ok := httputil.ParseUUID(w, raw)
	if !ok {
		return
	}

	report, err := tenantscope.VerifyIsolation(r.Context(), h.db, tenantID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if !report.Passed {
		h.logger.ErrorContext(r.Context(), "isolation verification failed",
			slog.String("tenant_id", tenantID.String()),
		)
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: report})
}
