package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/middleware"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
)

// ClaimsResponse is the body of a successful provisioning or claims write
type ClaimsResponse struct {
	TenantID string      `json:"tenantId"`
	Role     domain.Role `json:"role"`
}

// SetClaimsRequest is the body of POST /set-claims. companyId is the
// historical name of tenantId; either is accepted.
type SetClaimsRequest struct {
	Claims struct {
		CompanyID string `json:"companyId"`
		TenantID  string `json:"tenantId"`
		Role      string `json:"role"`
	} `json:"claims"`
}

// ProvisionHandler handles first-login provisioning and claims writes
type ProvisionHandler struct {
	provisioning *service.ProvisioningService
	logger       *slog.Logger
}

// NewProvisionHandler creates a new provision handler
func NewProvisionHandler(provisioning *service.ProvisioningService, logger *slog.Logger) *ProvisionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProvisionHandler{provisioning: provisioning, logger: logger}
}

// Provision handles POST /provision
func (h *ProvisionHandler) Provision(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeMessage(w, http.StatusUnauthorized, "missing auth")
		return
	}

	claims, err := h.provisioning.Provision(r.Context(), id.Token.IdentityID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimsResponse{TenantID: claims.TenantID, Role: claims.Role})
}

// SetClaims handles POST /set-claims: the caller rewrites its own claims.
func (h *ProvisionHandler) SetClaims(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeMessage(w, http.StatusUnauthorized, "missing auth")
		return
	}

	var req SetClaimsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tenantID := strings.TrimSpace(req.Claims.TenantID)
	if tenantID == "" {
		tenantID = strings.TrimSpace(req.Claims.CompanyID)
	}
	role, err := domain.ParseRole(req.Claims.Role)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	claims, err := h.provisioning.SetClaims(r.Context(), id.Token.IdentityID, domain.Claims{TenantID: tenantID, Role: role})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimsResponse{TenantID: claims.TenantID, Role: claims.Role})
}
