package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"readiness/internal/platform/database"
	"readiness/internal/platform/models"
)

type APIKeyRepository struct {
	db *database.DB
}

func NewAPIKeyRepository(db *database.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.CreatedAt == 0 {
		key.CreatedAt = time.Now().Unix()
	}
	perms := key.Permissions
	if perms == nil {
		perms = []string{}
	}
	permsJSON, err := marshalJSON(perms)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO api_keys (id, organization_id, user_id, name, key_hash, key_prefix, permissions, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), key.ID, key.OrganizationID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, permsJSON, key.CreatedAt, nullInt64(key.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetByHash returns nil, nil for an unknown hash.
func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, organization_id, user_id, name, key_prefix, permissions, last_used_at, created_at, expires_at, revoked_at
		FROM api_keys WHERE key_hash = ?
	`), hash)

	k, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k.KeyHash = hash
	return k, nil
}

func (r *APIKeyRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id, organization_id, user_id, name, key_prefix, permissions, last_used_at, created_at, expires_at, revoked_at
		FROM api_keys WHERE organization_id = ? ORDER BY created_at DESC, id ASC
	`), orgID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke reports false when no active key with that id exists in the organization.
func (r *APIKeyRepository) Revoke(ctx context.Context, orgID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE api_keys SET revoked_at = ? WHERE organization_id = ? AND id = ? AND revoked_at IS NULL`), time.Now().Unix(), orgID, id)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`), time.Now().Unix(), id)
	return err
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var k models.APIKey
	var perms string
	var lastUsed, expires, revoked sql.NullInt64

	if err := row.Scan(&k.ID, &k.OrganizationID, &k.UserID, &k.Name, &k.KeyPrefix, &perms, &lastUsed, &k.CreatedAt, &expires, &revoked); err != nil {
		return nil, err
	}

	k.LastUsedAt = int64Ptr(lastUsed)
	k.ExpiresAt = int64Ptr(expires)
	k.RevokedAt = int64Ptr(revoked)
	if err := unmarshalJSON(perms, &k.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions of %s: %w", k.ID, err)
	}
	return &k, nil
}
