package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"readiness/internal/api/handlers"
	"readiness/internal/api/middleware"
	"readiness/internal/engine/webhooks"
	"readiness/internal/pkg/ids"
	"readiness/internal/platform/audit"
	"readiness/internal/platform/auth"
	"readiness/internal/platform/config"
	"readiness/internal/platform/database"
	"readiness/internal/platform/models"
	"readiness/internal/platform/ratelimit"
	"readiness/internal/platform/repositories"
)

type testServer struct {
	*httptest.Server
	keys        *repositories.APIKeyRepository
	tokens      *auth.TokenService
	auditLogger *audit.Logger
}

func newTestServer(t *testing.T, webhooksPerMinute int) *testServer {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{URL: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := database.Migrate(db, database.Up, 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	orgRepo := repositories.NewOrganizationRepository(db)
	for _, id := range []string{"org_a", "org_b"} {
		if err := orgRepo.Upsert(context.Background(), &models.Organization{ID: id, Name: id, Slug: id, CreatedAt: 1}); err != nil {
			t.Fatalf("seed organization: %v", err)
		}
	}

	keyRepo := repositories.NewAPIKeyRepository(db)
	auditLogger := audit.NewLogger(db)
	limiter := ratelimit.NewMemoryLimiter()
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", Issuer: "readiness", AccessTokenTTL: time.Hour})

	validator, err := webhooks.NewValidator(false, 100)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	svc := webhooks.NewService(
		repositories.NewWebhookRepository(db, nil),
		repositories.NewWebhookLogRepository(db),
		webhooks.NewDispatcher(),
		nil,
		webhooks.Options{},
	)
	apiKeyMid := middleware.NewAPIKeyMiddleware(keyRepo)

	router := NewRouter(&Dependencies{
		WebhookHandler:         handlers.NewWebhookHandler(svc, validator, auditLogger),
		APIKeyHandler:          handlers.NewAPIKeyHandler(keyRepo, auditLogger),
		AuditHandler:           handlers.NewAuditHandler(auditLogger),
		HealthHandler:          handlers.NewHealthHandler(db, nil),
		MetricsHandler:         handlers.NewMetricsHandler(),
		AuthMiddleware:         middleware.NewAuthMiddleware(tokens),
		APIKeyMiddleware:       apiKeyMid,
		OrganizationMiddleware: middleware.NewOrganizationMiddleware(orgRepo),
		RateLimitMiddleware: middleware.NewRateLimitMiddleware(limiter, config.RateLimitConfig{
			Window:            time.Minute,
			WebhooksPerMinute: webhooksPerMinute,
			APIKeysPerMinute:  100,
		}),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		svc.Wait()
		apiKeyMid.Wait()
		auditLogger.Wait()
		limiter.Close()
		db.Close()
	})

	return &testServer{Server: srv, keys: keyRepo, tokens: tokens, auditLogger: auditLogger}
}

func (s *testServer) issueKey(t *testing.T, orgID string, perms ...string) string {
	t.Helper()
	raw, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	err = s.keys.Create(context.Background(), &models.APIKey{
		ID: ids.NewAPIKeyID(), OrganizationID: orgID, UserID: "user_1", Name: "test",
		KeyHash: hash, KeyPrefix: prefix, Permissions: perms,
	})
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	return raw
}

func (s *testServer) do(t *testing.T, method, path string, headers map[string]string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

const createBody = `{"name": "Completions", "url": "https://hooks.example.com/x", "event_types": ["survey.completed"]}`

func TestRouter_WebhookLifecycle(t *testing.T) {
	s := newTestServer(t, 100)
	key := map[string]string{"X-API-Key": s.issueKey(t, "org_a", auth.PermissionWebhooksRead, auth.PermissionWebhooksWrite)}

	resp, body := s.do(t, http.MethodPost, "/api/v1/webhooks", key, createBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]interface{})
	secret, _ := data["security"].(map[string]interface{})["signing_secret"].(string)
	if len(secret) < 16 || body["security_note"] == nil || data["status"] != "active" {
		t.Errorf("create body = %v", body)
	}
	meta := body["meta"].(map[string]interface{})
	if meta["timestamp"] == nil || meta["rate_limit"] == nil {
		t.Errorf("meta = %v", meta)
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "" || resp.Header.Get("X-Request-ID") == "" {
		t.Errorf("headers = %v", resp.Header)
	}
	id := data["id"].(string)

	resp, body = s.do(t, http.MethodGet, "/api/v1/webhooks?include_stats=true", key, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, body %v", resp.StatusCode, body)
	}
	rows := body["data"].([]interface{})
	if len(rows) != 1 || body["pagination"] == nil || body["summary"] == nil || body["filters"] == nil {
		t.Fatalf("list body = %v", body)
	}
	row := rows[0].(map[string]interface{})
	if row["url"] != "https://hooks.*******.com/x" || row["stats"] == nil {
		t.Errorf("row = %v", row)
	}
	if _, leaked := row["security"].(map[string]interface{})["signing_secret"]; leaked {
		t.Error("list leaked signing secret")
	}

	resp, body = s.do(t, http.MethodPatch, "/api/v1/webhooks/"+id, key, `{"status": "inactive"}`)
	if resp.StatusCode != http.StatusOK || body["data"].(map[string]interface{})["status"] != "inactive" {
		t.Errorf("update status = %d, body %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodDelete, "/api/v1/webhooks?ids="+id+",wh_missing", key, "")
	if resp.StatusCode != http.StatusOK || body["data"].(map[string]interface{})["count"] != float64(1) {
		t.Errorf("delete status = %d, body %v", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/v1/webhooks/"+id, key, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestRouter_ValidationReportsAllFields(t *testing.T) {
	s := newTestServer(t, 100)
	key := map[string]string{"X-API-Key": s.issueKey(t, "org_a", auth.PermissionWebhooksWrite)}

	resp, body := s.do(t, http.MethodPost, "/api/v1/webhooks", key, `{"name": "", "url": "nope", "event_types": []}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_INPUT" {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if details := body["details"].([]interface{}); len(details) < 3 {
		t.Errorf("details = %v, want at least name, url and event_types", details)
	}

	resp, body = s.do(t, http.MethodDelete, "/api/v1/webhooks", key, "")
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "No valid webhook IDs provided" {
		t.Errorf("delete without ids: status = %d, body %v", resp.StatusCode, body)
	}
}

func TestRouter_AccessControl(t *testing.T) {
	s := newTestServer(t, 100)
	readOnly := map[string]string{"X-API-Key": s.issueKey(t, "org_a", auth.PermissionWebhooksRead)}
	other := map[string]string{"Authorization": "Bearer " + s.issueKey(t, "org_b", auth.PermissionWebhooksRead)}

	if resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodPost, "/api/v1/webhooks", readOnly, createBody); resp.StatusCode != http.StatusForbidden {
		t.Errorf("read-only create status = %d, want 403", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks?organization_id=org_a", other, ""); resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-org list status = %d, want 403", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks", other, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("bearer key list status = %d, want 200", resp.StatusCode)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	key := map[string]string{"X-API-Key": s.issueKey(t, "org_a", auth.PermissionWebhooksRead)}

	for i := 0; i < 2; i++ {
		if resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks", key, ""); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i, resp.StatusCode)
		}
	}

	resp, body := s.do(t, http.MethodGet, "/api/v1/webhooks", key, "")
	if resp.StatusCode != http.StatusTooManyRequests || body["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// A different credential is a different caller and reaches authentication.
	if resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks", map[string]string{"X-API-Key": "bogus"}, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("fresh caller status = %d, want 401", resp.StatusCode)
	}

	// Made-up keys from one address still drain that address's bucket.
	limited := false
	for i := 0; i < 20 && !limited; i++ {
		resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks", map[string]string{"X-API-Key": fmt.Sprintf("bogus-%d", i)}, "")
		limited = resp.StatusCode == http.StatusTooManyRequests
	}
	if !limited {
		t.Error("rotating credentials from one address was never limited")
	}
}

func TestRouter_APIKeyManagement(t *testing.T) {
	s := newTestServer(t, 100)

	member, _ := s.tokens.GenerateAccessToken("user_2", "org_a", "member", "m@example.com")
	admin, _ := s.tokens.GenerateAccessToken("user_1", "org_a", "admin", "a@example.com")
	create := `{"name": "ci", "permissions": ["webhooks:read"]}`

	if resp, _ := s.do(t, http.MethodPost, "/api/v1/api-keys", map[string]string{"Authorization": "Bearer " + member}, create); resp.StatusCode != http.StatusForbidden {
		t.Errorf("member create status = %d, want 403", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodPost, "/api/v1/api-keys", map[string]string{"Authorization": "Bearer " + admin}, `{"name": "x", "permissions": ["admin:superuser"]}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("superuser issue status = %d, want 400", resp.StatusCode)
	}

	resp, body := s.do(t, http.MethodPost, "/api/v1/api-keys", map[string]string{"Authorization": "Bearer " + admin}, create)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin create status = %d, body %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]interface{})
	raw := data["key"].(string)
	if !strings.HasPrefix(raw, auth.APIKeyPrefix) || data["key_hash"] != nil {
		t.Errorf("created key = %v", data)
	}

	if resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks", map[string]string{"X-API-Key": raw}, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("issued key list status = %d", resp.StatusCode)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/api-keys", map[string]string{"Authorization": "Bearer " + member}, "")
	if resp.StatusCode != http.StatusOK || len(body["data"].([]interface{})) != 1 {
		t.Errorf("list status = %d, body %v", resp.StatusCode, body)
	}

	keyID := data["id"].(string)
	if resp, _ := s.do(t, http.MethodDelete, "/api/v1/api-keys/"+keyID, map[string]string{"Authorization": "Bearer " + admin}, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("revoke status = %d", resp.StatusCode)
	}
	if resp, _ := s.do(t, http.MethodGet, "/api/v1/webhooks", map[string]string{"X-API-Key": raw}, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked key status = %d, want 401", resp.StatusCode)
	}
	s.auditLogger.Wait()
	resp, body = s.do(t, http.MethodGet, "/api/v1/audit-logs?resource_type=api_key", map[string]string{"Authorization": "Bearer " + admin}, "")
	if resp.StatusCode != http.StatusOK || len(body["data"].([]interface{})) != 2 {
		t.Errorf("audit status = %d, body %v", resp.StatusCode, body)
	}
	if resp, _ := s.do(t, http.MethodGet, "/api/v1/audit-logs", map[string]string{"Authorization": "Bearer " + member}, ""); resp.StatusCode != http.StatusForbidden {
		t.Errorf("member audit status = %d, want 403", resp.StatusCode)
	}

	if resp, _ := s.do(t, http.MethodDelete, "/api/v1/api-keys/key_missing", map[string]string{"Authorization": "Bearer " + admin}, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("revoke missing status = %d, want 404", resp.StatusCode)
	}
}

func TestRouter_Operational(t *testing.T) {
	s := newTestServer(t, 100)

	resp, body := s.do(t, http.MethodGet, "/health", nil, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health status = %d, body %v", resp.StatusCode, body)
	}

	resp, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}

	if resp, _ := s.do(t, http.MethodGet, "/nope", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d", resp.StatusCode)
	}
}
