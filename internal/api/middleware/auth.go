package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	apiContext "readiness/internal/api/context"
	"readiness/internal/pkg/errors"
	"readiness/internal/platform/auth"
)

// AuthMiddleware authenticates identity-provider JWTs for key management routes.
type AuthMiddleware struct {
	tokenSvc *auth.TokenService
}

func NewAuthMiddleware(tokenSvc *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			errors.Write(w, errors.NewAuth("Missing authorization header"))
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			errors.Write(w, errors.NewAuth("Invalid authorization header format"))
			return
		}

		// An API key can never mint or revoke other keys.
		if auth.LooksLikeAPIKey(token) || r.Header.Get("X-API-Key") != "" {
			errors.Write(w, errors.NewAuth("A user access token is required; API keys are not accepted here"))
			return
		}

		claims, err := m.tokenSvc.ValidateToken(token)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected access token")
			errors.Write(w, errors.NewAuth("Invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}
