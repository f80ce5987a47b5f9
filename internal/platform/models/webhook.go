package models

const (
	WebhookStatusActive   = "active"
	WebhookStatusInactive = "inactive"
	WebhookStatusFailed   = "failed"
	WebhookStatusTesting  = "testing"
)

// WebhookStatuses lists every status in the order summaries report them.
var WebhookStatuses = []string{WebhookStatusActive, WebhookStatusInactive, WebhookStatusFailed, WebhookStatusTesting}

type WebhookConfig struct {
	Method             string            `json:"method"`
	Headers            map[string]string `json:"headers,omitempty"`
	TimeoutSeconds     int               `json:"timeout_seconds"`
	RetryAttempts      int               `json:"retry_attempts"`
	RetryDelaySeconds  int               `json:"retry_delay_seconds"`
	IncludePayloadHash bool              `json:"include_payload_hash"`
	IncludeTimestamp   bool              `json:"include_timestamp"`
}

type WebhookFilters struct {
	SurveyIDs        []string               `json:"survey_ids,omitempty"`
	UserIDs          []string               `json:"user_ids,omitempty"`
	StatusValues     []string               `json:"status_values,omitempty"`
	CustomConditions map[string]interface{} `json:"custom_conditions,omitempty"`
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type WebhookSecurity struct {
	SigningSecret string     `json:"signing_secret,omitempty"`
	VerifySSL     bool       `json:"verify_ssl"`
	IPWhitelist   []string   `json:"ip_whitelist,omitempty"`
	BasicAuth     *BasicAuth `json:"basic_auth,omitempty"`
	BearerToken   string     `json:"bearer_token,omitempty"`
}

type WebhookRateLimit struct {
	MaxRequestsPerMinute int `json:"max_requests_per_minute"`
	BurstLimit           int `json:"burst_limit"`
}

// Webhook is the stored subscription. Security never leaves the service as-is;
// handlers serialize the projected view instead.
type Webhook struct {
	ID              string           `json:"id"`
	OrganizationID  string           `json:"organization_id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	URL             string           `json:"url"`
	EventTypes      []string         `json:"event_types"` // JSON array in DB
	Status          string           `json:"status"`
	Config          WebhookConfig    `json:"config"`
	Filters         WebhookFilters   `json:"filters"`
	Security        WebhookSecurity  `json:"-"`
	RateLimit       WebhookRateLimit `json:"rate_limit"`
	CreatedBy       string           `json:"created_by"`
	CreatedAt       int64            `json:"created_at"`
	UpdatedAt       int64            `json:"updated_at"`
	LastTriggeredAt *int64           `json:"last_triggered_at,omitempty"`
	LastSuccessAt   *int64           `json:"last_success_at,omitempty"`
	LastFailureAt   *int64           `json:"last_failure_at,omitempty"`
}

type WebhookLog struct {
	ID             string  `json:"id"`
	WebhookID      string  `json:"webhook_id"`
	EventType      string  `json:"event_type"`
	Success        bool    `json:"success"`
	ResponseStatus *int    `json:"response_status,omitempty"`
	DurationMS     int64   `json:"duration_ms"`
	Error          *string `json:"error,omitempty"`
	CreatedAt      int64   `json:"created_at"`
}

// WebhookEvent is the envelope sent by test deliveries.
type WebhookEvent struct {
	ID             string      `json:"id"`
	Event          string      `json:"event"`
	Timestamp      int64       `json:"timestamp"`
	OrganizationID string      `json:"organization_id"`
	WebhookID      string      `json:"webhook_id"`
	Test           bool        `json:"test"`
	Data           interface{} `json:"data"`
}
