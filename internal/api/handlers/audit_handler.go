package handlers

import (
	"net/http"
	"strconv"

	apiContext "readiness/internal/api/context"
	"readiness/internal/pkg/errors"
	"readiness/internal/platform/audit"
)

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(auditLogger *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: auditLogger}
}

// List serves the organization's audit trail. Optional filters: resource_type, resource_id, limit.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := apiContext.GetClaims(r.Context())
	if !ok {
		errors.Write(w, errors.NewAuth("Missing authorization"))
		return
	}

	query := r.URL.Query()
	q := audit.Query{
		OrganizationID: claims.OrganizationID,
		ResourceType:   query.Get("resource_type"),
		ResourceID:     query.Get("resource_id"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			errors.Write(w, errors.NewValidation("Invalid query parameters", []errors.FieldError{{Field: "limit", Reason: "must be an integer between 1 and 500"}}))
			return
		}
		q.Limit = limit
	}

	entries, err := h.audit.List(r.Context(), q)
	if err != nil {
		errors.Write(w, errors.NewUpstream("Failed to list audit logs", err))
		return
	}

	writeData(w, r, http.StatusOK, entries)
}
