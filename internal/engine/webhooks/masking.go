package webhooks

import (
	"net"
	"net/url"
	"strings"

	"readiness/internal/platform/models"
)

// MaskURL obscures a webhook URL for display. The second-to-last host label
// becomes asterisks of the same length and inner path segments become "***".
// Query and fragment are dropped. Unparseable input yields "***".
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}

	host := u.Hostname()
	if !strings.Contains(host, ":") {
		// A fully qualified host keeps its root dot.
		root := strings.HasSuffix(host, ".")
		labels := strings.Split(strings.TrimSuffix(host, "."), ".")
		if len(labels) >= 2 {
			i := len(labels) - 2
			labels[i] = strings.Repeat("*", len(labels[i]))
		}
		host = strings.Join(labels, ".")
		if root {
			host += "."
		}
	}
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	path := u.EscapedPath()
	masked := ""
	if trimmed := strings.Trim(path, "/"); trimmed != "" {
		segments := strings.Split(trimmed, "/")
		for i := 1; i < len(segments)-1; i++ {
			segments[i] = "***"
		}
		masked = "/" + strings.Join(segments, "/")
		if strings.HasSuffix(path, "/") {
			masked += "/"
		}
	} else if path != "" {
		masked = "/"
	}

	return u.Scheme + "://" + host + masked
}

type ConfigView struct {
	Method             string `json:"method"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	RetryAttempts      int    `json:"retry_attempts"`
	RetryDelaySeconds  int    `json:"retry_delay_seconds"`
	IncludePayloadHash bool   `json:"include_payload_hash"`
	IncludeTimestamp   bool   `json:"include_timestamp"`
}

type SecurityView struct {
	VerifySSL        bool     `json:"verify_ssl"`
	IPWhitelist      []string `json:"ip_whitelist"`
	HasSigningSecret bool     `json:"has_signing_secret"`
	HasBasicAuth     bool     `json:"has_basic_auth"`
	HasBearerToken   bool     `json:"has_bearer_token"`
	// SigningSecret is only populated in the create response.
	SigningSecret string `json:"signing_secret,omitempty"`
}

// WebhookView is the only shape in which a webhook leaves the service.
type WebhookView struct {
	ID              string                  `json:"id"`
	OrganizationID  string                  `json:"organization_id"`
	Name            string                  `json:"name"`
	Description     string                  `json:"description"`
	URL             string                  `json:"url"`
	EventTypes      []string                `json:"event_types"`
	Status          string                  `json:"status"`
	Config          ConfigView              `json:"config"`
	Filters         models.WebhookFilters   `json:"filters"`
	Security        SecurityView            `json:"security"`
	RateLimit       models.WebhookRateLimit `json:"rate_limit"`
	CreatedBy       string                  `json:"created_by"`
	CreatedAt       int64                   `json:"created_at"`
	UpdatedAt       int64                   `json:"updated_at"`
	LastTriggeredAt *int64                  `json:"last_triggered_at"`
	LastSuccessAt   *int64                  `json:"last_success_at"`
	LastFailureAt   *int64                  `json:"last_failure_at"`
	Stats           *Stats                  `json:"stats,omitempty"`
}

// Project builds the read view with a masked URL and no credentials.
func Project(w *models.Webhook) WebhookView {
	v := project(w)
	v.URL = MaskURL(w.URL)
	return v
}

// ProjectCreated is the one-time view returned by create: raw URL and signing secret included.
func ProjectCreated(w *models.Webhook) WebhookView {
	v := project(w)
	v.URL = w.URL
	v.Security.SigningSecret = w.Security.SigningSecret
	return v
}

func project(w *models.Webhook) WebhookView {
	events := append([]string{}, w.EventTypes...)
	whitelist := append([]string{}, w.Security.IPWhitelist...)

	return WebhookView{
		ID:             w.ID,
		OrganizationID: w.OrganizationID,
		Name:           w.Name,
		Description:    w.Description,
		EventTypes:     events,
		Status:         w.Status,
		Config: ConfigView{
			Method:             w.Config.Method,
			TimeoutSeconds:     w.Config.TimeoutSeconds,
			RetryAttempts:      w.Config.RetryAttempts,
			RetryDelaySeconds:  w.Config.RetryDelaySeconds,
			IncludePayloadHash: w.Config.IncludePayloadHash,
			IncludeTimestamp:   w.Config.IncludeTimestamp,
		},
		Filters: w.Filters,
		Security: SecurityView{
			VerifySSL:        w.Security.VerifySSL,
			IPWhitelist:      whitelist,
			HasSigningSecret: w.Security.SigningSecret != "",
			HasBasicAuth:     w.Security.BasicAuth != nil,
			HasBearerToken:   w.Security.BearerToken != "",
		},
		RateLimit:       w.RateLimit,
		CreatedBy:       w.CreatedBy,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
		LastTriggeredAt: w.LastTriggeredAt,
		LastSuccessAt:   w.LastSuccessAt,
		LastFailureAt:   w.LastFailureAt,
	}
}
