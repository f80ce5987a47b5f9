package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	PermissionWebhooksRead  = "webhooks:read"
	PermissionWebhooksWrite = "webhooks:write"
	PermissionSuperuser     = "admin:superuser"

	APIKeyPrefix = "rdk_live_"
)

// KnownPermissions is the set an API key may be issued with.
var KnownPermissions = []string{PermissionWebhooksRead, PermissionWebhooksWrite, PermissionSuperuser}

// Principal is the caller resolved from an API key.
type Principal struct {
	KeyID          string
	UserID         string
	OrganizationID string
	Permissions    []string
}

func (p *Principal) Can(permission string) bool {
	if p == nil {
		return false
	}
	for _, perm := range p.Permissions {
		if perm == permission {
			return true
		}
	}
	return false
}

// CanAccessOrganization reports whether the principal may act on orgID.
func (p *Principal) CanAccessOrganization(orgID string) bool {
	if p == nil {
		return false
	}
	return orgID == "" || orgID == p.OrganizationID || p.Can(PermissionSuperuser)
}

func IsKnownPermission(permission string) bool {
	for _, known := range KnownPermissions {
		if known == permission {
			return true
		}
	}
	return false
}

// GenerateAPIKey returns the raw key (shown once), its storage hash and display prefix.
func GenerateAPIKey() (raw, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = APIKeyPrefix + hex.EncodeToString(b)
	return raw, HashAPIKey(raw), raw[:len(APIKeyPrefix)+8], nil
}

func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func LooksLikeAPIKey(s string) bool {
	return strings.HasPrefix(s, APIKeyPrefix) && len(s) > len(APIKeyPrefix)
}
