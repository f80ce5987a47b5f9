package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	apiContext "readiness/internal/api/context"
	"readiness/internal/pkg/errors"
	"readiness/internal/pkg/ids"
	"readiness/internal/platform/audit"
	"readiness/internal/platform/auth"
	"readiness/internal/platform/models"
	"readiness/internal/platform/repositories"
)

const (
	maxKeyNameLength = 100
	maxKeyLifetime   = 3650
)

// APIKeyNote accompanies the raw key in create responses.
const APIKeyNote = "Store this API key securely. It will not be shown again."

type APIKeyHandler struct {
	repo  *repositories.APIKeyRepository
	audit *audit.Logger
}

func NewAPIKeyHandler(repo *repositories.APIKeyRepository, auditLogger *audit.Logger) *APIKeyHandler {
	return &APIKeyHandler{repo: repo, audit: auditLogger}
}

type createAPIKeyRequest struct {
	Name          string   `json:"name"`
	Permissions   []string `json:"permissions"`
	ExpiresInDays int      `json:"expires_in_days"`
}

func (req *createAPIKeyRequest) validate() error {
	var fields []errors.FieldError
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		fields = append(fields, errors.FieldError{Field: "name", Reason: "is required"})
	case len(name) > maxKeyNameLength:
		fields = append(fields, errors.FieldError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", maxKeyNameLength)})
	}

	if len(req.Permissions) == 0 {
		fields = append(fields, errors.FieldError{Field: "permissions", Reason: "at least one permission is required"})
	}
	for i, perm := range req.Permissions {
		field := fmt.Sprintf("permissions.%d", i)
		switch {
		case perm == auth.PermissionSuperuser:
			fields = append(fields, errors.FieldError{Field: field, Reason: "superuser keys cannot be issued through the API"})
		case !auth.IsKnownPermission(perm):
			fields = append(fields, errors.FieldError{Field: field, Reason: fmt.Sprintf("unknown permission %q", perm)})
		}
	}

	if req.ExpiresInDays < 0 || req.ExpiresInDays > maxKeyLifetime {
		fields = append(fields, errors.FieldError{Field: "expires_in_days", Reason: fmt.Sprintf("must be between 0 and %d", maxKeyLifetime)})
	}

	if len(fields) > 0 {
		return errors.NewValidation("Invalid API key request", fields)
	}
	return nil
}

type createdAPIKey struct {
	*models.APIKey
	Key string `json:"key"`
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := apiContext.GetClaims(r.Context())
	if !ok {
		errors.Write(w, errors.NewAuth("Missing authorization"))
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		errors.Write(w, err)
		return
	}
	var req createAPIKeyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		errors.Write(w, errors.NewValidation("Invalid request body", []errors.FieldError{{Field: "body", Reason: "request body must be valid JSON"}}))
		return
	}
	if err := req.validate(); err != nil {
		errors.Write(w, err)
		return
	}

	raw, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		errors.Write(w, errors.NewUpstream("Failed to generate API key", err))
		return
	}

	now := time.Now()
	key := &models.APIKey{
		ID:             ids.NewAPIKeyID(),
		OrganizationID: claims.OrganizationID,
		UserID:         claims.UserID,
		Name:           strings.TrimSpace(req.Name),
		KeyHash:        hash,
		KeyPrefix:      prefix,
		Permissions:    req.Permissions,
		CreatedAt:      now.Unix(),
	}
	if req.ExpiresInDays > 0 {
		exp := now.Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour).Unix()
		key.ExpiresAt = &exp
	}

	if err := h.repo.Create(r.Context(), key); err != nil {
		errors.Write(w, errors.NewUpstream("Failed to create API key", err))
		return
	}

	h.audit.Log(actorFrom(r), audit.ActionAPIKeyCreated, "api_key", key.ID, map[string]interface{}{
		"name":        key.Name,
		"permissions": key.Permissions,
	})

	writeJSON(w, http.StatusCreated, struct {
		Data         createdAPIKey `json:"data"`
		SecurityNote string        `json:"security_note"`
		Meta         Meta          `json:"meta"`
	}{
		Data:         createdAPIKey{APIKey: key, Key: raw},
		SecurityNote: APIKeyNote,
		Meta:         newMeta(r),
	})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := apiContext.GetClaims(r.Context())
	if !ok {
		errors.Write(w, errors.NewAuth("Missing authorization"))
		return
	}

	keys, err := h.repo.ListByOrg(r.Context(), claims.OrganizationID)
	if err != nil {
		errors.Write(w, errors.NewUpstream("Failed to list API keys", err))
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}

	writeData(w, r, http.StatusOK, keys)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := apiContext.GetClaims(r.Context())
	if !ok {
		errors.Write(w, errors.NewAuth("Missing authorization"))
		return
	}
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	keyID := params.ByName("key_id")

	revoked, err := h.repo.Revoke(r.Context(), claims.OrganizationID, keyID)
	if err != nil {
		errors.Write(w, errors.NewUpstream("Failed to revoke API key", err))
		return
	}
	if !revoked {
		errors.Write(w, errors.NewNotFound("API key not found", map[string]string{"key_id": keyID}))
		return
	}

	h.audit.Log(actorFrom(r), audit.ActionAPIKeyRevoked, "api_key", keyID, nil)
	writeData(w, r, http.StatusOK, map[string]interface{}{"id": keyID, "revoked": true})
}
