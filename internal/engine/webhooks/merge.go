package webhooks

import (
	"fmt"
	"strings"
	"time"

	apperrors "readiness/internal/pkg/errors"
	"readiness/internal/pkg/ids"
	"readiness/internal/platform/models"
)

const (
	defaultMethod               = "POST"
	defaultTimeoutSeconds       = 30
	defaultRetryAttempts        = 3
	defaultRetryDelaySeconds    = 60
	defaultMaxRequestsPerMinute = 60
	defaultBurstLimit           = 10
)

func defaultConfig() models.WebhookConfig {
	return models.WebhookConfig{
		Method:             defaultMethod,
		TimeoutSeconds:     defaultTimeoutSeconds,
		RetryAttempts:      defaultRetryAttempts,
		RetryDelaySeconds:  defaultRetryDelaySeconds,
		IncludePayloadHash: true,
		IncludeTimestamp:   true,
	}
}

// NewWebhook builds a stored webhook from a validated create payload with
// every omitted field defaulted. A signing secret is generated unless the
// caller supplied one or explicitly disabled payload hashing.
func NewWebhook(in *WebhookInput, orgID, createdBy string, now time.Time) (*models.Webhook, error) {
	w := &models.Webhook{
		ID:             ids.NewWebhookID(),
		OrganizationID: orgID,
		Status:         models.WebhookStatusActive,
		Config:         defaultConfig(),
		Security:       models.WebhookSecurity{VerifySSL: true},
		RateLimit: models.WebhookRateLimit{
			MaxRequestsPerMinute: defaultMaxRequestsPerMinute,
			BurstLimit:           defaultBurstLimit,
		},
		CreatedBy: createdBy,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}
	applyInput(w, in)

	if w.Security.SigningSecret == "" && w.Config.IncludePayloadHash {
		secret, err := GenerateSecret()
		if err != nil {
			return nil, err
		}
		w.Security.SigningSecret = secret
	}

	return w, nil
}

// ApplyUpdate merges a partial update into w. Nested objects are merged
// field by field against w's own stored values.
func ApplyUpdate(w *models.Webhook, in *WebhookInput, now time.Time) {
	applyInput(w, in)
	w.UpdatedAt = now.Unix()
}

func applyInput(w *models.Webhook, in *WebhookInput) {
	if in.Name != nil {
		w.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		w.Description = *in.Description
	}
	if in.URL != nil {
		w.URL = *in.URL
	}
	if in.EventTypes != nil {
		w.EventTypes = append([]string{}, in.EventTypes...)
	}
	if in.Status != nil {
		w.Status = *in.Status
	}
	if in.Config != nil {
		mergeConfig(&w.Config, in.Config)
	}
	if in.Filters != nil {
		mergeFilters(&w.Filters, in.Filters)
	}
	if in.Security != nil {
		mergeSecurity(&w.Security, in.Security)
	}
	if in.RateLimit != nil {
		if in.RateLimit.MaxRequestsPerMinute != nil {
			w.RateLimit.MaxRequestsPerMinute = *in.RateLimit.MaxRequestsPerMinute
		}
		if in.RateLimit.BurstLimit != nil {
			w.RateLimit.BurstLimit = *in.RateLimit.BurstLimit
		}
	}
	// A burst the caller did not send follows a lowered rate down.
	explicitBurst := in.RateLimit != nil && in.RateLimit.BurstLimit != nil
	if !explicitBurst && w.RateLimit.BurstLimit > w.RateLimit.MaxRequestsPerMinute {
		w.RateLimit.BurstLimit = w.RateLimit.MaxRequestsPerMinute
	}
}

// rateLimitFields checks the merged rate limit, so a burst sent alone is
// still held against the stored rate.
func rateLimitFields(w *models.Webhook) []apperrors.FieldError {
	if w.RateLimit.BurstLimit <= w.RateLimit.MaxRequestsPerMinute {
		return nil
	}
	return []apperrors.FieldError{{
		Field:  "rate_limit.burst_limit",
		Reason: fmt.Sprintf("must not exceed max_requests_per_minute (%d)", w.RateLimit.MaxRequestsPerMinute),
	}}
}

func mergeConfig(c *models.WebhookConfig, in *ConfigInput) {
	if in.Method != nil {
		c.Method = *in.Method
	}
	if in.Headers != nil {
		headers := make(map[string]string, len(c.Headers)+len(in.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		for k, v := range in.Headers {
			headers[k] = v
		}
		c.Headers = headers
	}
	if in.TimeoutSeconds != nil {
		c.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.RetryAttempts != nil {
		c.RetryAttempts = *in.RetryAttempts
	}
	if in.RetryDelaySeconds != nil {
		c.RetryDelaySeconds = *in.RetryDelaySeconds
	}
	if in.IncludePayloadHash != nil {
		c.IncludePayloadHash = *in.IncludePayloadHash
	}
	if in.IncludeTimestamp != nil {
		c.IncludeTimestamp = *in.IncludeTimestamp
	}
}

func mergeFilters(f *models.WebhookFilters, in *FiltersInput) {
	if in.SurveyIDs != nil {
		f.SurveyIDs = append([]string{}, in.SurveyIDs...)
	}
	if in.UserIDs != nil {
		f.UserIDs = append([]string{}, in.UserIDs...)
	}
	if in.StatusValues != nil {
		f.StatusValues = append([]string{}, in.StatusValues...)
	}
	if in.CustomConditions != nil {
		f.CustomConditions = in.CustomConditions
	}
}

func mergeSecurity(s *models.WebhookSecurity, in *SecurityInput) {
	if in.SigningSecret != nil {
		s.SigningSecret = *in.SigningSecret
	}
	if in.VerifySSL != nil {
		s.VerifySSL = *in.VerifySSL
	}
	if in.IPWhitelist != nil {
		s.IPWhitelist = append([]string{}, in.IPWhitelist...)
	}
	if in.BasicAuth != nil {
		auth := *in.BasicAuth
		s.BasicAuth = &auth
	}
	if in.BearerToken != nil {
		s.BearerToken = *in.BearerToken
	}
}
