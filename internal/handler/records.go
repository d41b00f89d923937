package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aryan0dhankhar/fleetdesk/internal/security/middleware"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
)

// RecordsHandler serves the free-form tenant collections
type RecordsHandler struct {
	records *service.RecordService
	logger  *slog.Logger
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(records *service.RecordService, logger *slog.Logger) *RecordsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordsHandler{records: records, logger: logger}
}

// RecordRequest carries the document of a record
type RecordRequest struct {
	Data json.RawMessage `json:"data"`
}

// List handles GET /api/records/{collection}
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	recs, err := h.records.List(r.Context(), p.Scope, chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

// Create handles POST /api/records/{collection}
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	var req RecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.records.Create(r.Context(), p.Scope, p.IdentityID, chi.URLParam(r, "collection"), req.Data)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Get handles GET /api/records/{collection}/{id}
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	rec, err := h.records.Get(r.Context(), p.Scope, chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Update handles PUT /api/records/{collection}/{id}
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	var req RecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.records.Update(r.Context(), p.Scope, chi.URLParam(r, "collection"), chi.URLParam(r, "id"), req.Data)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/records/{collection}/{id}
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if err := h.records.Delete(r.Context(), p.Scope, chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
