package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"readiness/internal/pkg/ids"
	"readiness/internal/platform/database"
	"readiness/internal/platform/models"
)

const (
	ActionWebhookCreated = "webhook.created"
	ActionWebhookUpdated = "webhook.updated"
	ActionWebhookDeleted = "webhook.deleted"
	ActionWebhookTested  = "webhook.tested"
	ActionAPIKeyCreated  = "api_key.created"
	ActionAPIKeyRevoked  = "api_key.revoked"
)

// Actor identifies who performed an audited action.
type Actor struct {
	OrganizationID string
	UserID         string
	IPAddress      string
	UserAgent      string
}

type Logger struct {
	db *database.DB
	wg sync.WaitGroup
}

func NewLogger(db *database.DB) *Logger {
	return &Logger{db: db}
}

// Log writes the entry in the background. Failures are logged and never reach the caller.
func (l *Logger) Log(actor Actor, action, resourceType, resourceID string, metadata map[string]interface{}) {
	if l == nil || l.db == nil {
		return
	}

	entry := &models.AuditLog{
		ID:             ids.NewAuditID(),
		OrganizationID: actor.OrganizationID,
		UserID:         actor.UserID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Metadata:       metadata,
		IPAddress:      actor.IPAddress,
		UserAgent:      actor.UserAgent,
		CreatedAt:      time.Now().Unix(),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.insert(ctx, entry); err != nil {
			log.Warn().Err(err).Str("action", action).Str("resource_id", resourceID).Msg("failed to write audit log")
		}
	}()
}

func (l *Logger) insert(ctx context.Context, entry *models.AuditLog) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO audit_logs (id, organization_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.OrganizationID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	return err
}

// Query narrows List. Zero values match everything.
type Query struct {
	OrganizationID string
	ResourceType   string
	ResourceID     string
	Limit          int
}

// List returns the organization's entries, newest first.
func (l *Logger) List(ctx context.Context, q Query) ([]*models.AuditLog, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}

	query := `SELECT id, organization_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs WHERE organization_id = ?`
	args := []interface{}{q.OrganizationID}
	if q.ResourceType != "" {
		query += " AND resource_type = ?"
		args = append(args, q.ResourceType)
	}
	if q.ResourceID != "" {
		query += " AND resource_id = ?"
		args = append(args, q.ResourceID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := l.db.QueryContext(ctx, l.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.AuditLog{}
	for rows.Next() {
		var e models.AuditLog
		var metaStr string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID, &metaStr, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaStr), &e.Metadata); err != nil {
			log.Warn().Err(err).Str("audit_id", e.ID).Msg("unreadable audit metadata")
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Wait blocks until pending writes finish. Called on shutdown.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
