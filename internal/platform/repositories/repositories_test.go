package repositories

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"readiness/internal/pkg/secrets"
	"readiness/internal/platform/config"
	"readiness/internal/platform/database"
	"readiness/internal/platform/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{URL: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db, database.Up, 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	orgs := NewOrganizationRepository(db)
	for _, id := range []string{"org_a", "org_b"} {
		if err := orgs.Upsert(context.Background(), &models.Organization{ID: id, Name: id, Slug: id, CreatedAt: 1}); err != nil {
			t.Fatalf("seed organization: %v", err)
		}
	}
	return db
}

func testWebhook(id, orgID, name string, createdAt int64, events ...string) *models.Webhook {
	return &models.Webhook{
		ID:             id,
		OrganizationID: orgID,
		Name:           name,
		URL:            "https://hooks.example.com/" + id,
		EventTypes:     events,
		Status:         models.WebhookStatusActive,
		Config:         models.WebhookConfig{Method: "POST", TimeoutSeconds: 30, RetryAttempts: 3, RetryDelaySeconds: 60, IncludePayloadHash: true, IncludeTimestamp: true},
		Security:       models.WebhookSecurity{SigningSecret: "whsec_" + id, VerifySSL: true},
		RateLimit:      models.WebhookRateLimit{MaxRequestsPerMinute: 60, BurstLimit: 10},
		CreatedBy:      "user_1",
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestOrganizationRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrganizationRepository(db)
	ctx := context.Background()

	org, err := repo.GetByID(ctx, "org_a")
	if err != nil || org == nil {
		t.Fatalf("expected org_a, got %v, %v", org, err)
	}

	if err := repo.Upsert(ctx, &models.Organization{ID: "org_a", Name: "Renamed", Slug: "renamed", CreatedAt: 1}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	org, _ = repo.GetByID(ctx, "org_a")
	if org.Name != "Renamed" {
		t.Errorf("expected renamed org, got %s", org.Name)
	}

	missing, err := repo.GetByID(ctx, "org_missing")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing org, got %v, %v", missing, err)
	}
}

func TestWebhookRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	box, _ := secrets.NewBox(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	repo := NewWebhookRepository(db, box)
	ctx := context.Background()

	w := testWebhook("wh_1", "org_a", "Primary", 100, "survey.created")
	w.Security.BasicAuth = &models.BasicAuth{Username: "u", Password: "p4ss"}
	w.Security.BearerToken = "tok"
	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var stored string
	if err := db.QueryRow(`SELECT security FROM webhooks WHERE id = 'wh_1'`).Scan(&stored); err != nil {
		t.Fatalf("read security: %v", err)
	}
	for _, plain := range []string{"whsec_wh_1", "p4ss", `"tok"`} {
		if strings.Contains(stored, plain) {
			t.Errorf("credential %q stored in plaintext: %s", plain, stored)
		}
	}

	got, err := repo.GetByID(ctx, "org_a", "wh_1")
	if err != nil || got == nil {
		t.Fatalf("GetByID() = %v, %v", got, err)
	}
	if got.Security.SigningSecret != "whsec_wh_1" || got.Security.BasicAuth.Password != "p4ss" || got.Security.BearerToken != "tok" {
		t.Errorf("credentials not opened: %+v", got.Security)
	}
	if got.Config.Method != "POST" || len(got.EventTypes) != 1 {
		t.Errorf("unexpected round trip: %+v", got)
	}

	other, err := repo.GetByID(ctx, "org_b", "wh_1")
	if err != nil || other != nil {
		t.Errorf("expected webhook hidden from other org, got %v, %v", other, err)
	}
}

func TestWebhookRepository_List(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db, nil)
	ctx := context.Background()

	fixtures := []*models.Webhook{
		testWebhook("wh_a", "org_a", "Alpha Reports", 100, "report.generated"),
		testWebhook("wh_b", "org_a", "Beta Surveys", 200, "survey.created", "survey.updated"),
		testWebhook("wh_c", "org_a", "Gamma 100% done", 300, "survey.created"),
		testWebhook("wh_d", "org_b", "Other org", 400, "survey.created"),
	}
	fixtures[2].Status = models.WebhookStatusInactive
	for _, w := range fixtures {
		if err := repo.Create(ctx, w); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	after := int64(150)
	tests := []struct {
		name      string
		filter    WebhookFilter
		wantIDs   []string
		wantTotal int
	}{
		{"default order", WebhookFilter{OrganizationID: "org_a", Limit: 25}, []string{"wh_c", "wh_b", "wh_a"}, 3},
		{"asc by name", WebhookFilter{OrganizationID: "org_a", SortBy: "name", SortOrder: "asc", Limit: 25}, []string{"wh_a", "wh_b", "wh_c"}, 3},
		{"search case insensitive", WebhookFilter{OrganizationID: "org_a", Search: "SURVEY", Limit: 25}, []string{"wh_b"}, 1},
		{"search escapes wildcards", WebhookFilter{OrganizationID: "org_a", Search: "100%", Limit: 25}, []string{"wh_c"}, 1},
		{"event type", WebhookFilter{OrganizationID: "org_a", EventType: "survey.created", Limit: 25}, []string{"wh_c", "wh_b"}, 2},
		{"status", WebhookFilter{OrganizationID: "org_a", Status: "inactive", Limit: 25}, []string{"wh_c"}, 1},
		{"created after", WebhookFilter{OrganizationID: "org_a", CreatedAfter: &after, Limit: 25}, []string{"wh_c", "wh_b"}, 2},
		{"page 2", WebhookFilter{OrganizationID: "org_a", Limit: 2, Offset: 2}, []string{"wh_a"}, 3},
		{"unknown sort falls back", WebhookFilter{OrganizationID: "org_a", SortBy: "secret; DROP", Limit: 25}, []string{"wh_c", "wh_b", "wh_a"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("expected total %d, got %d", tt.wantTotal, total)
			}
			if ids := idsOf(got); fmt.Sprint(ids) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("expected %v, got %v", tt.wantIDs, ids)
			}
		})
	}
}

func TestWebhookRepository_SearchFoldsUnicode(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db, nil)
	ctx := context.Background()

	w := testWebhook("wh_u", "org_a", "Ümlaut Survey Hook", 100, "survey.completed")
	w.Description = "Straße team"
	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	search := func(q string) int {
		t.Helper()
		_, total, err := repo.List(ctx, WebhookFilter{OrganizationID: "org_a", Search: q, Limit: 25})
		if err != nil {
			t.Fatalf("List(%q) error = %v", q, err)
		}
		return total
	}

	for _, q := range []string{"Ümlaut", "ümlaut", "ÜMLAUT", "survey", "SURVEY", "straße", "STRASSE"} {
		if got := search(q); got != 1 {
			t.Errorf("search %q: expected total 1, got %d", q, got)
		}
	}

	w.Name = "Ärger Hook"
	if err := repo.UpdateMany(ctx, []*models.Webhook{w}); err != nil {
		t.Fatalf("UpdateMany() error = %v", err)
	}
	if got := search("ärger"); got != 1 {
		t.Errorf("search after rename: expected total 1, got %d", got)
	}
	if got := search("ümlaut"); got != 0 {
		t.Errorf("old name still searchable: got %d", got)
	}
}

func TestWebhookRepository_UpdateMany(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db, nil)
	ctx := context.Background()

	a := testWebhook("wh_a", "org_a", "A", 100, "survey.created")
	b := testWebhook("wh_b", "org_a", "B", 200, "survey.created")
	repo.Create(ctx, a)
	repo.Create(ctx, b)

	a.Status = models.WebhookStatusInactive
	b.Status = models.WebhookStatusInactive
	ghost := testWebhook("wh_ghost", "org_a", "Ghost", 300, "survey.created")

	if err := repo.UpdateMany(ctx, []*models.Webhook{a, ghost}); err == nil {
		t.Fatal("expected error for missing row")
	}
	got, _ := repo.GetByID(ctx, "org_a", "wh_a")
	if got.Status != models.WebhookStatusActive {
		t.Error("expected rollback when one row is missing")
	}

	if err := repo.UpdateMany(ctx, []*models.Webhook{a, b}); err != nil {
		t.Fatalf("UpdateMany() error = %v", err)
	}
	counts, err := repo.CountByStatus(ctx, "org_a")
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[models.WebhookStatusInactive] != 2 {
		t.Errorf("expected 2 inactive, got %v", counts)
	}
}

func TestWebhookRepository_DeleteManyCascadesLogs(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db, nil)
	logs := NewWebhookLogRepository(db)
	ctx := context.Background()

	repo.Create(ctx, testWebhook("wh_a", "org_a", "A", 100, "survey.created"))
	repo.Create(ctx, testWebhook("wh_b", "org_b", "B", 100, "survey.created"))
	if err := logs.Create(ctx, &models.WebhookLog{ID: "whlog_1", WebhookID: "wh_a", EventType: "survey.created", Success: true, CreatedAt: 1}); err != nil {
		t.Fatalf("create log: %v", err)
	}

	n, err := repo.DeleteMany(ctx, "org_a", []string{"wh_a", "wh_b"})
	if err != nil {
		t.Fatalf("DeleteMany() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the owned webhook deleted, got %d", n)
	}

	var remaining int
	db.QueryRow(`SELECT COUNT(*) FROM webhook_logs`).Scan(&remaining)
	if remaining != 0 {
		t.Errorf("expected logs to cascade, %d remaining", remaining)
	}

	still, _ := repo.GetByID(ctx, "org_b", "wh_b")
	if still == nil {
		t.Error("webhook in other org must survive")
	}
}

func TestWebhookRepository_CountByEventTypeAndRecordDelivery(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db, nil)
	ctx := context.Background()

	repo.Create(ctx, testWebhook("wh_a", "org_a", "A", 100, "survey.created", "report.generated"))
	repo.Create(ctx, testWebhook("wh_b", "org_a", "B", 100, "survey.created"))

	counts, err := repo.CountByEventType(ctx, "org_a")
	if err != nil {
		t.Fatalf("CountByEventType() error = %v", err)
	}
	if counts["survey.created"] != 2 || counts["report.generated"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	if err := repo.RecordDelivery(ctx, "wh_a", 500, false); err != nil {
		t.Fatalf("RecordDelivery() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, "org_a", "wh_a")
	if got.LastTriggeredAt == nil || *got.LastTriggeredAt != 500 || got.LastFailureAt == nil || got.LastSuccessAt != nil {
		t.Errorf("unexpected delivery stamps: %+v", got)
	}
}

func TestWebhookLogRepository_ListRecent(t *testing.T) {
	db := newTestDB(t)
	NewWebhookRepository(db, nil).Create(context.Background(), testWebhook("wh_a", "org_a", "A", 100, "survey.created"))
	logs := NewWebhookLogRepository(db)
	ctx := context.Background()

	status := 500
	msg := "upstream failed"
	for i := 0; i < 5; i++ {
		l := &models.WebhookLog{ID: fmt.Sprintf("whlog_%d", i), WebhookID: "wh_a", EventType: "survey.created", Success: i%2 == 0, CreatedAt: int64(i)}
		if i == 1 {
			l.ResponseStatus = &status
			l.Error = &msg
		}
		if err := logs.Create(ctx, l); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	got, err := logs.ListRecent(ctx, "wh_a", 3)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(got) != 3 || got[0].ID != "whlog_4" {
		t.Fatalf("expected newest 3 logs, got %d starting %v", len(got), got)
	}
	if !got[0].Success || got[1].Success {
		t.Error("success flag not round tripped")
	}

	all, _ := logs.ListRecent(ctx, "wh_a", 10)
	failed := all[3]
	if failed.ResponseStatus == nil || *failed.ResponseStatus != 500 || failed.Error == nil {
		t.Errorf("expected nullable columns to round trip, got %+v", failed)
	}

	deleted, err := logs.DeleteBefore(ctx, 3)
	if err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 pruned logs, got %d", deleted)
	}
	if rest, _ := logs.ListRecent(ctx, "wh_a", 10); len(rest) != 2 {
		t.Errorf("expected 2 logs after pruning, got %d", len(rest))
	}
}

func TestAPIKeyRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).Unix()
	key := &models.APIKey{
		ID:             "key_1",
		OrganizationID: "org_a",
		UserID:         "user_1",
		Name:           "CI",
		KeyHash:        "hash_1",
		KeyPrefix:      "rdk_live_abcd",
		Permissions:    []string{"webhooks:read"},
		ExpiresAt:      &expires,
	}
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByHash(ctx, "hash_1")
	if err != nil || got == nil {
		t.Fatalf("GetByHash() = %v, %v", got, err)
	}
	if got.Permissions[0] != "webhooks:read" || got.ExpiresAt == nil {
		t.Errorf("unexpected key: %+v", got)
	}

	missing, err := repo.GetByHash(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil, got %v, %v", missing, err)
	}

	if err := repo.TouchLastUsed(ctx, "key_1"); err != nil {
		t.Fatalf("TouchLastUsed() error = %v", err)
	}

	ok, err := repo.Revoke(ctx, "org_b", "key_1")
	if err != nil || ok {
		t.Errorf("revoke from other org should not match, got %v, %v", ok, err)
	}
	ok, err = repo.Revoke(ctx, "org_a", "key_1")
	if err != nil || !ok {
		t.Errorf("expected revoke, got %v, %v", ok, err)
	}

	keys, err := repo.ListByOrg(ctx, "org_a")
	if err != nil || len(keys) != 1 {
		t.Fatalf("ListByOrg() = %v, %v", keys, err)
	}
	if keys[0].RevokedAt == nil || keys[0].LastUsedAt == nil {
		t.Errorf("expected revoked and used timestamps, got %+v", keys[0])
	}
}

func idsOf(webhooks []*models.Webhook) []string {
	out := make([]string, len(webhooks))
	for i, w := range webhooks {
		out[i] = w.ID
	}
	return out
}
