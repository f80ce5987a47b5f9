package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"readiness/internal/api/handlers"
	"readiness/internal/api/middleware"
	apiContext "readiness/internal/api/context"
	"readiness/internal/platform/auth"
	"readiness/internal/platform/ratelimit"
	"readiness/internal/pkg/errors"
)

type Dependencies struct {
	WebhookHandler         *handlers.WebhookHandler
	APIKeyHandler          *handlers.APIKeyHandler
	AuditHandler           *handlers.AuditHandler
	HealthHandler          *handlers.HealthHandler
	MetricsHandler         *handlers.MetricsHandler
	AuthMiddleware         *middleware.AuthMiddleware
	APIKeyMiddleware       *middleware.APIKeyMiddleware
	OrganizationMiddleware *middleware.OrganizationMiddleware
	RateLimitMiddleware    *middleware.RateLimitMiddleware
}

type middlewareFunc = func(http.HandlerFunc) http.HandlerFunc

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.Write(w, errors.NewNotFound("Route not found", nil))
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusMethodNotAllowed, errors.ErrCodeInvalidInput, "Method not allowed", nil)
	})

	handle := func(method, path string, handler http.HandlerFunc, mws ...middlewareFunc) {
		router.Handle(method, path, chain(handler, append([]middlewareFunc{middleware.Observe(path)}, mws...)...))
	}

	// Operational endpoints
	handle(http.MethodGet, "/health", deps.HealthHandler.Check)
	handle(http.MethodGet, "/metrics", deps.MetricsHandler.Export)

	// Webhooks: rate limit first, then API key, then organization.
	limitWebhooks := deps.RateLimitMiddleware.Limit(ratelimit.ClassWebhooks)
	apiKey := deps.APIKeyMiddleware.Handle
	org := deps.OrganizationMiddleware.Handle
	read := requirePermission(auth.PermissionWebhooksRead)
	write := requirePermission(auth.PermissionWebhooksWrite)

	wh := deps.WebhookHandler
	handle(http.MethodGet, "/api/v1/webhooks", wh.List, limitWebhooks, apiKey, org, read)
	handle(http.MethodPost, "/api/v1/webhooks", wh.Create, limitWebhooks, apiKey, org, write)
	handle(http.MethodPatch, "/api/v1/webhooks", wh.BulkUpdate, limitWebhooks, apiKey, org, write)
	handle(http.MethodDelete, "/api/v1/webhooks", wh.BulkDelete, limitWebhooks, apiKey, org, write)
	handle(http.MethodGet, "/api/v1/webhooks/:webhook_id", wh.Get, limitWebhooks, apiKey, org, read)
	handle(http.MethodPatch, "/api/v1/webhooks/:webhook_id", wh.Update, limitWebhooks, apiKey, org, write)
	handle(http.MethodDelete, "/api/v1/webhooks/:webhook_id", wh.Delete, limitWebhooks, apiKey, org, write)
	handle(http.MethodPost, "/api/v1/webhooks/:webhook_id/test", wh.Test, limitWebhooks, apiKey, org, write)

	// API key management, authenticated with identity-provider JWTs
	limitKeys := deps.RateLimitMiddleware.Limit(ratelimit.ClassAPIKeys)
	authMid := deps.AuthMiddleware.Handle

	keys := deps.APIKeyHandler
	handle(http.MethodPost, "/api/v1/api-keys", keys.Create, limitKeys, authMid, org, requireRole("admin", "owner"))
	handle(http.MethodGet, "/api/v1/api-keys", keys.List, limitKeys, authMid, org)
	handle(http.MethodDelete, "/api/v1/api-keys/:key_id", keys.Revoke, limitKeys, authMid, org, requireRole("admin", "owner"))

	handle(http.MethodGet, "/api/v1/audit-logs", deps.AuditHandler.List, limitKeys, authMid, org, requireRole("admin", "owner"))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...middlewareFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) middlewareFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := apiContext.GetClaims(r.Context())
			if !ok {
				errors.Write(w, errors.NewAuth("Missing authorization"))
				return
			}

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.Write(w, errors.NewPermission("Insufficient permissions", map[string][]string{"required_roles": roles}))
				return
			}

			next(w, r)
		}
	}
}

// requirePermission admits API keys holding permission. Superuser keys hold every permission.
func requirePermission(permission string) middlewareFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p, ok := apiContext.GetPrincipal(r.Context())
			if !ok {
				errors.Write(w, errors.NewAuth("API key required"))
				return
			}

			if !p.Can(permission) && !p.Can(auth.PermissionSuperuser) {
				errors.Write(w, errors.NewPermission("Insufficient permissions", map[string]string{"required_permission": permission}))
				return
			}

			next(w, r)
		}
	}
}
