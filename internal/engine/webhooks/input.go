package webhooks

import "readiness/internal/platform/models"

// Input types use pointers so absent fields can be told apart from zero values.

type ConfigInput struct {
	Method             *string           `json:"method"`
	Headers            map[string]string `json:"headers"`
	TimeoutSeconds     *int              `json:"timeout_seconds"`
	RetryAttempts      *int              `json:"retry_attempts"`
	RetryDelaySeconds  *int              `json:"retry_delay_seconds"`
	IncludePayloadHash *bool             `json:"include_payload_hash"`
	IncludeTimestamp   *bool             `json:"include_timestamp"`
}

type FiltersInput struct {
	SurveyIDs        []string               `json:"survey_ids"`
	UserIDs          []string               `json:"user_ids"`
	StatusValues     []string               `json:"status_values"`
	CustomConditions map[string]interface{} `json:"custom_conditions"`
}

type SecurityInput struct {
	SigningSecret *string           `json:"signing_secret"`
	VerifySSL     *bool             `json:"verify_ssl"`
	IPWhitelist   []string          `json:"ip_whitelist"`
	BasicAuth     *models.BasicAuth `json:"basic_auth"`
	BearerToken   *string           `json:"bearer_token"`
}

type RateLimitInput struct {
	MaxRequestsPerMinute *int `json:"max_requests_per_minute"`
	BurstLimit           *int `json:"burst_limit"`
}

type WebhookInput struct {
	OrganizationID *string         `json:"organization_id"`
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	URL            *string         `json:"url"`
	EventTypes     []string        `json:"event_types"`
	Status         *string         `json:"status"`
	Config         *ConfigInput    `json:"config"`
	Filters        *FiltersInput   `json:"filters"`
	Security       *SecurityInput  `json:"security"`
	RateLimit      *RateLimitInput `json:"rate_limit"`
}

type BulkUpdateInput struct {
	OrganizationID string       `json:"organization_id"`
	WebhookIDs     []string     `json:"webhook_ids"`
	Updates        WebhookInput `json:"updates"`
}

type TestInput struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}
