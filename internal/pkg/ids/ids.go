// Package ids generates prefixed, K-sortable identifiers for stored records.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"
)

type Prefix string

const (
	PrefixWebhook    Prefix = "wh"
	PrefixWebhookLog Prefix = "whlog"
	PrefixDelivery   Prefix = "del"
)

// New panics on an invalid prefix; every prefix above is a constant.
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

func NewWebhookID() string    { return New(PrefixWebhook) }
func NewWebhookLogID() string { return New(PrefixWebhookLog) }
func NewDeliveryID() string   { return New(PrefixDelivery) }

// NewAPIKeyID and NewAuditID keep the uuid format used by the identity provider.
func NewAPIKeyID() string { return "key_" + uuid.New().String() }
func NewAuditID() string  { return "audit_" + uuid.New().String() }

// HasPrefix reports whether s parses as a TypeID carrying prefix.
func HasPrefix(s string, prefix Prefix) bool {
	tid, err := typeid.Parse(s)
	if err != nil {
		return false
	}
	return tid.Prefix() == string(prefix)
}

// SplitList splits a comma separated id list, trimming blanks and dropping duplicates.
func SplitList(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
