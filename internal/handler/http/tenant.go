package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventstack/identity/internal/authz"
	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/service"
	apperrors "github.com/eventstack/identity/pkg/errors"
	"github.com/eventstack/identity/pkg/httputil"
	"github.com/eventstack/identity/pkg/pagination"
	"github.com/eventstack/identity/pkg/validator"
)

// TenantHandler handles tenant and membership endpoints.
type TenantHandler struct {
	service *service.TenantService
	logger  *slog.Logger
}

// NewTenantHandler creates a new tenant HTTP handler.
func NewTenantHandler(svc *service.TenantService, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// CreateTenantRequest is the JSON request body for creating a tenant.
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// InviteMemberRequest is the JSON request body for inviting a member.
type InviteMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required"`
}

// AcceptInvitationRequest is the JSON request body for accepting an
// invitation.
type AcceptInvitationRequest struct {
	Token string `json:"token" validate:"required"`
}

// UpdateMemberRequest is the JSON request body for updating a membership.
type UpdateMemberRequest struct {
	Role      *string         `json:"role" validate:"omitempty,min=1"`
	IsActive  *bool           `json:"is_active"`
	Overrides map[string]bool `json:"overrides"`
}

// --- Tenant handlers ---

// Create handles POST /api/v1/tenants
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	ac, err := authz.Require(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req CreateTenantRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	tenant, err := h.service.CreateTenant(r.Context(), ac.UserID(), req.Name)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: tenant})
}

// Get handles GET /api/v1/tenants/{tenantID}
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	ac, err := authz.Require(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	// The tenant was resolved and membership-checked by the auth
	// middleware; the handler only echoes it.
	if ac.Tenant == nil {
		httputil.WriteError(w, r, apperrors.NotFound("tenant", chi.URLParam(r, authz.TenantIDParam)), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: ac.Tenant})
}

// List handles GET /api/v1/admin/tenants
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	tenants, total, err := h.service.ListTenants(r.Context(), params.PerPage, params.Offset)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: pagination.NewResult(tenants, total, params),
	})
}

// --- Membership handlers ---

// ListMembers handles GET /api/v1/tenants/{tenantID}/members
func (h *TenantHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	members, total, err := h.service.ListMembers(r.Context(), params.PerPage, params.Offset)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: pagination.NewResult(members, total, params),
	})
}

// ListMine handles GET /api/v1/memberships
func (h *TenantHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	ac, err := authz.Require(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	memberships, err := h.service.ListMyMemberships(r.Context(), ac.UserID())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: memberships})
}

// InviteMember handles POST /api/v1/tenants/{tenantID}/members
func (h *TenantHandler) InviteMember(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	ac, err := authz.Require(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req InviteMemberRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	membership, err := h.service.InviteMember(r.Context(), ac.UserID(), service.InviteMemberInput{
		Email: req.Email,
		Role:  domain.TenantRole(req.Role),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: membership})
}

// AcceptInvitation handles POST /api/v1/memberships/accept
func (h *TenantHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	ac, err := authz.Require(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req AcceptInvitationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	membership, err := h.service.AcceptInvitation(r.Context(), ac.UserID(), req.Token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: membership})
}

// UpdateMember handles PUT /api/v1/tenants/{tenantID}/members/{id}
func (h *TenantHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	membershipID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateMemberRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := service.UpdateMemberInput{
		IsActive:  req.IsActive,
		Overrides: req.Overrides,
	}
	if req.Role != nil {
		role := domain.TenantRole(*req.Role)
		input.Role = &role
	}

	membership, err := h.service.UpdateMember(r.Context(), membershipID, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: membership})
}

// RemoveMember handles DELETE /api/v1/tenants/{tenantID}/members/{id}
func (h *TenantHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	membershipID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), membershipID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "member removed"},
	})
}
