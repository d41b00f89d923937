package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/middleware"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
)

// TenantsHandler serves tenant settings, entitlements and the public pix page
type TenantsHandler struct {
	tenants *service.TenantService
	logger  *slog.Logger
}

// NewTenantsHandler creates a new tenants handler
func NewTenantsHandler(tenants *service.TenantService, logger *slog.Logger) *TenantsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantsHandler{tenants: tenants, logger: logger}
}

// Entitlements handles GET /api/tenants
func (h *TenantsHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	ents, err := h.tenants.Entitlements(r.Context(), id.Token.IdentityID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	home := ""
	if id.Token.Provisioned() {
		home = id.Token.Claims.TenantID
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": ents, "home": home})
}

// Get handles GET /api/tenant
func (h *TenantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	t, err := h.tenants.Get(r.Context(), p.TenantID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": t, "role": p.Role})
}

// UpdateSettings handles PUT /api/tenant
func (h *TenantsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	var settings domain.TenantSettings
	if !decodeJSON(w, r, &settings) {
		return
	}
	t, err := h.tenants.UpdateSettings(r.Context(), p.TenantID, settings)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": t})
}

// PublicPixKey is the unauthenticated view of a payment key
type PublicPixKey struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// PublicPixKeys handles GET /public/tenants/{tenantID}/pix-keys
func (h *TenantsHandler) PublicPixKeys(w http.ResponseWriter, r *http.Request) {
	t, keys, err := h.tenants.PublicPixKeys(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	out := make([]PublicPixKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, PublicPixKey{ID: k.ID, Data: k.Data})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": t.Name, "pixKeys": out})
}
