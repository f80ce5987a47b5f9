package middleware

import (
	"context"
	"net/http"

	apiContext "readiness/internal/api/context"
	"readiness/internal/pkg/errors"
	"readiness/internal/platform/models"
)

type OrganizationStore interface {
	GetByID(ctx context.Context, id string) (*models.Organization, error)
}

// OrganizationMiddleware loads the caller's organization, taken from the API
// key principal or the JWT claims, and rejects deleted or unknown ones.
type OrganizationMiddleware struct {
	orgs OrganizationStore
}

func NewOrganizationMiddleware(orgs OrganizationStore) *OrganizationMiddleware {
	return &OrganizationMiddleware{orgs: orgs}
}

func (m *OrganizationMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var orgID string
		if p, ok := apiContext.GetPrincipal(r.Context()); ok {
			orgID = p.OrganizationID
		} else if claims, ok := apiContext.GetClaims(r.Context()); ok {
			orgID = claims.OrganizationID
		} else {
			errors.Write(w, errors.NewAuth("No authentication found"))
			return
		}

		org, err := m.orgs.GetByID(r.Context(), orgID)
		if err != nil {
			errors.Write(w, errors.NewUpstream("Failed to load organization", err))
			return
		}
		if org == nil || org.DeletedAt != nil {
			errors.Write(w, errors.NewPermission("Organization not found or inactive", nil))
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Organization, org)
		next(w, r.WithContext(ctx))
	}
}
