package webhooks

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "readiness/internal/pkg/errors"
	"readiness/internal/platform/models"
	"readiness/internal/platform/repositories"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
	maxSearchLength = 200
)

var sortFields = map[string]struct{}{
	"created_at":        {},
	"updated_at":        {},
	"name":              {},
	"status":            {},
	"last_triggered_at": {},
}

// ListQuery is a validated set of list parameters.
type ListQuery struct {
	Search         string
	EventType      string
	Status         string
	OrganizationID string
	CreatedAfter   *int64
	CreatedBefore  *int64
	SortBy         string
	SortOrder      string
	Page           int
	Limit          int
	IncludeStats   bool
}

// ParseListQuery validates every parameter and reports all bad ones together.
func ParseListQuery(values url.Values) (ListQuery, error) {
	q := ListQuery{
		SortBy:    "created_at",
		SortOrder: "desc",
		Page:      1,
		Limit:     DefaultPageSize,
	}
	var fields []apperrors.FieldError
	bad := func(field, reason string) {
		fields = append(fields, apperrors.FieldError{Field: field, Reason: reason})
	}

	q.Search = strings.TrimSpace(values.Get("search"))
	if len(q.Search) > maxSearchLength {
		bad("search", fmt.Sprintf("must be at most %d characters", maxSearchLength))
	}

	if v := strings.TrimSpace(values.Get("event_type")); v != "" {
		if !IsEventType(v) {
			bad("event_type", fmt.Sprintf("unsupported event type %q", v))
		}
		q.EventType = v
	}

	if v := strings.TrimSpace(values.Get("status")); v != "" {
		if !isStatus(v) {
			bad("status", "must be one of "+strings.Join(models.WebhookStatuses, ", "))
		}
		q.Status = v
	}

	q.OrganizationID = strings.TrimSpace(values.Get("organization_id"))

	var err error
	if q.CreatedAfter, err = parseTimestamp(values.Get("created_after")); err != nil {
		bad("created_after", err.Error())
	}
	if q.CreatedBefore, err = parseTimestamp(values.Get("created_before")); err != nil {
		bad("created_before", err.Error())
	}
	if q.CreatedAfter != nil && q.CreatedBefore != nil && *q.CreatedAfter > *q.CreatedBefore {
		bad("created_after", "must not be later than created_before")
	}

	if v := values.Get("sort_by"); v != "" {
		if _, ok := sortFields[v]; !ok {
			bad("sort_by", "must be one of created_at, updated_at, name, status, last_triggered_at")
		}
		q.SortBy = v
	}
	if v := strings.ToLower(values.Get("sort_order")); v != "" {
		if v != "asc" && v != "desc" {
			bad("sort_order", "must be asc or desc")
		}
		q.SortOrder = v
	}

	if v := values.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			bad("page", "must be a positive integer")
		}
		q.Page = n
	}
	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPageSize {
			bad("limit", fmt.Sprintf("must be an integer between 1 and %d", MaxPageSize))
		}
		q.Limit = n
	}

	if v := values.Get("include_stats"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			bad("include_stats", "must be a boolean")
		}
		q.IncludeStats = b
	}

	if len(fields) > 0 {
		return ListQuery{}, apperrors.NewValidation("Invalid query parameters", fields)
	}
	return q, nil
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Filter converts the query into a repository filter scoped to orgID.
func (q ListQuery) Filter(orgID string) repositories.WebhookFilter {
	return repositories.WebhookFilter{
		OrganizationID: orgID,
		Search:         q.Search,
		EventType:      q.EventType,
		Status:         q.Status,
		CreatedAfter:   q.CreatedAfter,
		CreatedBefore:  q.CreatedBefore,
		SortBy:         q.SortBy,
		SortOrder:      q.SortOrder,
		Limit:          q.Limit,
		Offset:         q.Offset(),
	}
}

// AppliedFilters echoes the effective filters back to the client.
type AppliedFilters struct {
	Search         string `json:"search,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	Status         string `json:"status,omitempty"`
	OrganizationID string `json:"organization_id"`
	CreatedAfter   *int64 `json:"created_after,omitempty"`
	CreatedBefore  *int64 `json:"created_before,omitempty"`
	SortBy         string `json:"sort_by"`
	SortOrder      string `json:"sort_order"`
	IncludeStats   bool   `json:"include_stats"`
}

func (q ListQuery) Applied(orgID string) AppliedFilters {
	return AppliedFilters{
		Search:         q.Search,
		EventType:      q.EventType,
		Status:         q.Status,
		OrganizationID: orgID,
		CreatedAfter:   q.CreatedAfter,
		CreatedBefore:  q.CreatedBefore,
		SortBy:         q.SortBy,
		SortOrder:      q.SortOrder,
		IncludeStats:   q.IncludeStats,
	}
}

type Pagination struct {
	CurrentPage     int  `json:"current_page"`
	PerPage         int  `json:"per_page"`
	TotalItems      int  `json:"total_items"`
	TotalPages      int  `json:"total_pages"`
	HasNextPage     bool `json:"has_next_page"`
	HasPreviousPage bool `json:"has_previous_page"`
}

func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		CurrentPage:     page,
		PerPage:         limit,
		TotalItems:      total,
		TotalPages:      pages,
		HasNextPage:     page < pages,
		HasPreviousPage: page > 1,
	}
}

func isStatus(s string) bool {
	for _, status := range models.WebhookStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// parseTimestamp accepts RFC3339 or unix seconds.
func parseTimestamp(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return nil, fmt.Errorf("must not be negative")
		}
		return &n, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("must be an RFC3339 timestamp or unix seconds")
	}
	n := t.Unix()
	return &n, nil
}
