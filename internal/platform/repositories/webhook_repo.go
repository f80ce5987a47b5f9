package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"readiness/internal/platform/database"
	"readiness/internal/platform/models"
)

// Sealer protects credentials at rest.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(value string) (string, error)
}

type passthrough struct{}

func (passthrough) Seal(s string) (string, error) { return s, nil }
func (passthrough) Open(s string) (string, error) { return s, nil }

const webhookColumns = `id, organization_id, name, description, url, event_types, status, config, filters, security, rate_limit, created_by, created_at, updated_at, last_triggered_at, last_success_at, last_failure_at`

// sortColumns maps accepted sort keys to SQL expressions.
var sortColumns = map[string]string{
	"created_at":        "created_at",
	"updated_at":        "updated_at",
	"name":              "name",
	"status":            "status",
	"last_triggered_at": "COALESCE(last_triggered_at, 0)",
}

type WebhookFilter struct {
	OrganizationID string
	Search         string
	EventType      string
	Status         string
	CreatedAfter   *int64
	CreatedBefore  *int64
	SortBy         string
	SortOrder      string
	Limit          int
	Offset         int
}

type WebhookRepository struct {
	db     *database.DB
	sealer Sealer
}

func NewWebhookRepository(db *database.DB, sealer Sealer) *WebhookRepository {
	if sealer == nil {
		sealer = passthrough{}
	}
	return &WebhookRepository{db: db, sealer: sealer}
}

func (r *WebhookRepository) Create(ctx context.Context, w *models.Webhook) error {
	row, err := r.encode(w)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO webhooks (`+webhookColumns+`, search_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), w.ID, w.OrganizationID, w.Name, w.Description, w.URL, row.events, w.Status, row.config, row.filters, row.security, row.rateLimit,
		w.CreatedBy, w.CreatedAt, w.UpdatedAt, nullInt64(w.LastTriggeredAt), nullInt64(w.LastSuccessAt), nullInt64(w.LastFailureAt), row.search)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the webhook does not exist in the organization.
func (r *WebhookRepository) GetByID(ctx context.Context, orgID, id string) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+webhookColumns+` FROM webhooks WHERE organization_id = ? AND id = ?`), orgID, id)
	w, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

// GetByIDs looks ids up across all organizations so callers can tell foreign ids from missing ones.
func (r *WebhookRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Webhook, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT `+webhookColumns+` FROM webhooks WHERE id IN (`+database.Placeholders(len(ids))+`)`), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get webhooks: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// List returns one page of matching webhooks and the total number of matches.
func (r *WebhookRepository) List(ctx context.Context, f WebhookFilter) ([]*models.Webhook, int, error) {
	where, args := buildWebhookWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM webhooks WHERE `+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhooks: %w", err)
	}

	sortExpr, ok := sortColumns[f.SortBy]
	if !ok {
		sortExpr = sortColumns["created_at"]
	}
	dir := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		dir = "ASC"
	}

	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE ` + where +
		` ORDER BY ` + sortExpr + ` ` + dir + `, id ASC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks, err := r.scanAll(rows)
	if err != nil {
		return nil, 0, err
	}
	return webhooks, total, nil
}

func buildWebhookWhere(f WebhookFilter) (string, []interface{}) {
	clauses := []string{"organization_id = ?"}
	args := []interface{}{f.OrganizationID}

	if f.Search != "" {
		// search_text is folded in Go on write, so the database never case-maps.
		clauses = append(clauses, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(foldSearch(f.Search)))
	}
	if f.EventType != "" {
		clauses = append(clauses, `event_types LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(`"`+f.EventType+`"`))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.CreatedAfter != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *f.CreatedBefore)
	}

	return strings.Join(clauses, " AND "), args
}

// UpdateMany writes every webhook in one transaction; a missing row aborts the batch.
func (r *WebhookRepository) UpdateMany(ctx context.Context, webhooks []*models.Webhook) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := r.db.Rebind(`
		UPDATE webhooks
		SET name = ?, description = ?, url = ?, event_types = ?, status = ?, config = ?, filters = ?, security = ?, rate_limit = ?, updated_at = ?, search_text = ?
		WHERE organization_id = ? AND id = ?
	`)

	for _, w := range webhooks {
		row, err := r.encode(w)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, query, w.Name, w.Description, w.URL, row.events, w.Status, row.config, row.filters, row.security, row.rateLimit, w.UpdatedAt, row.search, w.OrganizationID, w.ID)
		if err != nil {
			return fmt.Errorf("update webhook %s: %w", w.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update webhook %s: %w", w.ID, sql.ErrNoRows)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteMany removes the ids owned by orgID in one statement. Delivery logs cascade.
func (r *WebhookRepository) DeleteMany(ctx context.Context, orgID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := append([]interface{}{orgID}, stringArgs(ids)...)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM webhooks WHERE organization_id = ? AND id IN (`+database.Placeholders(len(ids))+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("delete webhooks: %w", err)
	}
	return res.RowsAffected()
}

func (r *WebhookRepository) CountByStatus(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT status, COUNT(*) FROM webhooks WHERE organization_id = ? GROUP BY status`), orgID)
	if err != nil {
		return nil, fmt.Errorf("count webhooks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountByEventType counts subscriptions per event type across the organization.
func (r *WebhookRepository) CountByEventType(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT event_types FROM webhooks WHERE organization_id = ?`), orgID)
	if err != nil {
		return nil, fmt.Errorf("count webhooks by event type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var events []string
		if err := unmarshalJSON(raw, &events); err != nil {
			continue
		}
		for _, e := range events {
			counts[e]++
		}
	}
	return counts, rows.Err()
}

// RecordDelivery stamps last_triggered_at and the success or failure timestamp.
func (r *WebhookRepository) RecordDelivery(ctx context.Context, id string, at int64, success bool) error {
	column := "last_failure_at"
	if success {
		column = "last_success_at"
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE webhooks SET last_triggered_at = ?, `+column+` = ? WHERE id = ?`), at, at, id)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

type encodedWebhook struct {
	events    string
	config    string
	filters   string
	security  string
	rateLimit string
	search    string
}

// foldSearch applies Unicode case folding to searchable text and to queries alike.
func foldSearch(s string) string {
	return cases.Fold().String(s)
}

// searchText joins the searchable fields one per line so a query cannot
// match across two of them unless it contains a newline itself.
func searchText(w *models.Webhook) string {
	return foldSearch(w.Name + "\n" + w.Description + "\n" + w.URL)
}

func (r *WebhookRepository) encode(w *models.Webhook) (*encodedWebhook, error) {
	sec, err := r.sealSecurity(w.Security)
	if err != nil {
		return nil, err
	}

	var out encodedWebhook
	events := w.EventTypes
	if events == nil {
		events = []string{}
	}
	if out.events, err = marshalJSON(events); err != nil {
		return nil, err
	}
	if out.config, err = marshalJSON(w.Config); err != nil {
		return nil, err
	}
	if out.filters, err = marshalJSON(w.Filters); err != nil {
		return nil, err
	}
	if out.security, err = marshalJSON(sec); err != nil {
		return nil, err
	}
	if out.rateLimit, err = marshalJSON(w.RateLimit); err != nil {
		return nil, err
	}
	out.search = searchText(w)
	return &out, nil
}

func (r *WebhookRepository) sealSecurity(s models.WebhookSecurity) (models.WebhookSecurity, error) {
	var err error
	if s.SigningSecret, err = r.sealer.Seal(s.SigningSecret); err != nil {
		return s, err
	}
	if s.BearerToken, err = r.sealer.Seal(s.BearerToken); err != nil {
		return s, err
	}
	if s.BasicAuth != nil {
		auth := *s.BasicAuth
		if auth.Password, err = r.sealer.Seal(auth.Password); err != nil {
			return s, err
		}
		s.BasicAuth = &auth
	}
	return s, nil
}

func (r *WebhookRepository) openSecurity(s *models.WebhookSecurity) error {
	var err error
	if s.SigningSecret, err = r.sealer.Open(s.SigningSecret); err != nil {
		return err
	}
	if s.BearerToken, err = r.sealer.Open(s.BearerToken); err != nil {
		return err
	}
	if s.BasicAuth != nil {
		if s.BasicAuth.Password, err = r.sealer.Open(s.BasicAuth.Password); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *WebhookRepository) scan(row rowScanner) (*models.Webhook, error) {
	var w models.Webhook
	var events, cfg, filters, security, rateLimit string
	var lastTriggered, lastSuccess, lastFailure sql.NullInt64

	err := row.Scan(&w.ID, &w.OrganizationID, &w.Name, &w.Description, &w.URL, &events, &w.Status, &cfg, &filters, &security, &rateLimit,
		&w.CreatedBy, &w.CreatedAt, &w.UpdatedAt, &lastTriggered, &lastSuccess, &lastFailure)
	if err != nil {
		return nil, err
	}

	w.LastTriggeredAt = int64Ptr(lastTriggered)
	w.LastSuccessAt = int64Ptr(lastSuccess)
	w.LastFailureAt = int64Ptr(lastFailure)

	if err := unmarshalJSON(events, &w.EventTypes); err != nil {
		return nil, fmt.Errorf("decode event_types of %s: %w", w.ID, err)
	}
	if err := unmarshalJSON(cfg, &w.Config); err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", w.ID, err)
	}
	if err := unmarshalJSON(filters, &w.Filters); err != nil {
		return nil, fmt.Errorf("decode filters of %s: %w", w.ID, err)
	}
	if err := unmarshalJSON(security, &w.Security); err != nil {
		return nil, fmt.Errorf("decode security of %s: %w", w.ID, err)
	}
	if err := unmarshalJSON(rateLimit, &w.RateLimit); err != nil {
		return nil, fmt.Errorf("decode rate_limit of %s: %w", w.ID, err)
	}
	if err := r.openSecurity(&w.Security); err != nil {
		return nil, fmt.Errorf("open credentials of %s: %w", w.ID, err)
	}

	return &w, nil
}

func (r *WebhookRepository) scanAll(rows *sql.Rows) ([]*models.Webhook, error) {
	var webhooks []*models.Webhook
	for rows.Next() {
		w, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}
