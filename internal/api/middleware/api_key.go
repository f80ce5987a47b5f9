package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	apiContext "readiness/internal/api/context"
	"readiness/internal/pkg/errors"
	"readiness/internal/platform/auth"
	"readiness/internal/platform/models"
)

type APIKeyStore interface {
	GetByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// APIKeyMiddleware resolves the presented API key into a Principal.
type APIKeyMiddleware struct {
	keys APIKeyStore
	now  func() time.Time
	wg   sync.WaitGroup
}

func NewAPIKeyMiddleware(keys APIKeyStore) *APIKeyMiddleware {
	return &APIKeyMiddleware{keys: keys, now: time.Now}
}

// PresentedAPIKey returns the key from X-API-Key or an "Authorization: Bearer rdk_..." header.
func PresentedAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && auth.LooksLikeAPIKey(token) {
		return strings.TrimSpace(token)
	}
	return ""
}

func (m *APIKeyMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := PresentedAPIKey(r)
		if raw == "" {
			errors.Write(w, errors.NewAuth("API key required"))
			return
		}
		if !auth.LooksLikeAPIKey(raw) {
			errors.Write(w, errors.NewAuth("Invalid API key"))
			return
		}

		key, err := m.keys.GetByHash(r.Context(), auth.HashAPIKey(raw))
		if err != nil {
			errors.Write(w, errors.NewUpstream("Failed to verify API key", err))
			return
		}
		if key == nil {
			errors.Write(w, errors.NewAuth("Invalid API key"))
			return
		}
		if !key.Usable(m.now().Unix()) {
			errors.Write(w, errors.NewAuth("API key revoked or expired"))
			return
		}

		m.touch(key.ID)

		principal := &auth.Principal{
			KeyID:          key.ID,
			UserID:         key.UserID,
			OrganizationID: key.OrganizationID,
			Permissions:    key.Permissions,
		}
		ctx := context.WithValue(r.Context(), apiContext.Principal, principal)
		next(w, r.WithContext(ctx))
	}
}

// Wait blocks until pending last-used updates finish.
func (m *APIKeyMiddleware) Wait() {
	m.wg.Wait()
}

func (m *APIKeyMiddleware) touch(id string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.keys.TouchLastUsed(ctx, id); err != nil {
			log.Warn().Err(err).Str("api_key_id", id).Msg("Failed to update API key last use")
		}
	}()
}
