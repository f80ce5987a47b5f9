package webhooks

import (
	"time"

	"github.com/shopspring/decimal"
	"readiness/internal/platform/models"
)

// Stats summarises the most recent delivery logs of one webhook.
type Stats struct {
	TotalCalls            int     `json:"total_calls"`
	SuccessfulCalls       int     `json:"successful_calls"`
	FailedCalls           int     `json:"failed_calls"`
	SuccessRatePercentage float64 `json:"success_rate_percentage"`
	CallsLast24h          int     `json:"calls_last_24h"`
	LastCallAt            *int64  `json:"last_call_at"`
}

// Summary holds organization-wide counts.
type Summary struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	ByEventType map[string]int `json:"by_event_type"`
}

// ComputeStats aggregates logs as of now. Zero logs yield a zero success rate.
func ComputeStats(logs []*models.WebhookLog, now time.Time) Stats {
	var s Stats
	dayAgo := now.Add(-24 * time.Hour).Unix()

	for _, l := range logs {
		s.TotalCalls++
		if l.Success {
			s.SuccessfulCalls++
		} else {
			s.FailedCalls++
		}
		if l.CreatedAt >= dayAgo {
			s.CallsLast24h++
		}
		if s.LastCallAt == nil || l.CreatedAt > *s.LastCallAt {
			at := l.CreatedAt
			s.LastCallAt = &at
		}
	}

	if s.TotalCalls > 0 {
		rate := decimal.NewFromInt(int64(s.SuccessfulCalls)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(s.TotalCalls))).
			Round(2)
		s.SuccessRatePercentage, _ = rate.Float64()
	}

	return s
}

// NewSummary fills every known status so clients see explicit zeros.
func NewSummary(byStatus, byEventType map[string]int) Summary {
	s := Summary{
		ByStatus:    make(map[string]int, len(models.WebhookStatuses)),
		ByEventType: make(map[string]int, len(byEventType)),
	}
	for _, status := range models.WebhookStatuses {
		s.ByStatus[status] = 0
	}
	for status, n := range byStatus {
		s.ByStatus[status] = n
		s.Total += n
	}
	for event, n := range byEventType {
		s.ByEventType[event] = n
	}
	return s
}
