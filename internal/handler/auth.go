package handler

import (
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/fleetdesk/internal/security/middleware"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
)

// AuthHandler handles the local identity provider endpoints
type AuthHandler struct {
	identity *service.IdentityService
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(identity *service.IdentityService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthHandler{
		identity: identity,
		logger:   logger,
	}
}

// RegisterRequest represents registration request
type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// LoginRequest represents login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.identity.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		h.logger.Info("registration failed", slog.String("error", err.Error()))
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Refresh handles POST /api/auth/refresh. The new token carries the claims
// currently stored for the caller, not the ones in the presented token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeMessage(w, http.StatusUnauthorized, "missing auth")
		return
	}

	result, err := h.identity.ForceRefresh(r.Context(), id.RawToken)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Me handles GET /api/auth/me: the verified view of the presented token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeMessage(w, http.StatusUnauthorized, "missing auth")
		return
	}
	writeJSON(w, http.StatusOK, id.Token)
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeMessage(w, http.StatusUnauthorized, "missing auth")
		return
	}
	var req ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.identity.ChangePassword(r.Context(), id.Token.IdentityID, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
