package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"readiness/internal/platform/database"
	"readiness/internal/platform/models"
)

type WebhookLogRepository struct {
	db *database.DB
}

func NewWebhookLogRepository(db *database.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Create(ctx context.Context, l *models.WebhookLog) error {
	var status sql.NullInt64
	if l.ResponseStatus != nil {
		status = sql.NullInt64{Int64: int64(*l.ResponseStatus), Valid: true}
	}
	var errMsg sql.NullString
	if l.Error != nil {
		errMsg = sql.NullString{String: *l.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO webhook_logs (id, webhook_id, event_type, success, response_status, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), l.ID, l.WebhookID, l.EventType, l.Success, status, l.DurationMS, errMsg, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

// ListRecent returns up to limit logs for the webhook, newest first.
func (r *WebhookLogRepository) ListRecent(ctx context.Context, webhookID string, limit int) ([]*models.WebhookLog, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, webhook_id, event_type, success, response_status, duration_ms, error, created_at
		FROM webhook_logs WHERE webhook_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.WebhookLog
	for rows.Next() {
		var l models.WebhookLog
		var status sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&l.ID, &l.WebhookID, &l.EventType, &l.Success, &status, &l.DurationMS, &errMsg, &l.CreatedAt); err != nil {
			return nil, err
		}
		if status.Valid {
			s := int(status.Int64)
			l.ResponseStatus = &s
		}
		if errMsg.Valid {
			e := errMsg.String
			l.Error = &e
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// DeleteBefore removes delivery logs created before the unix time.
func (r *WebhookLogRepository) DeleteBefore(ctx context.Context, before int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM webhook_logs WHERE created_at < ?`), before)
	if err != nil {
		return 0, fmt.Errorf("prune webhook logs: %w", err)
	}
	return res.RowsAffected()
}
