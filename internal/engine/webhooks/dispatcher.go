package webhooks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"readiness/internal/pkg/ids"
	"readiness/internal/platform/models"
)

const userAgent = "Readiness-Webhooks/1.0"

// DeliveryResult is the outcome of one test delivery.
type DeliveryResult struct {
	DeliveryID string `json:"delivery_id"`
	EventType  string `json:"event_type"`
	Success    bool   `json:"success"`
	StatusCode *int   `json:"status_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher sends single signed deliveries. Clients are shared so
// connections are pooled across calls.
type Dispatcher struct {
	verified *http.Client
	insecure *http.Client
	now      func() time.Time
}

func NewDispatcher() *Dispatcher {
	noRedirect := func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per webhook via verify_ssl=false

	return &Dispatcher{
		verified: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone(), CheckRedirect: noRedirect},
		insecure: &http.Client{Transport: insecureTransport, CheckRedirect: noRedirect},
		now:      time.Now,
	}
}

// Deliver posts a test event to w and reports what happened. Transport
// failures are reported in the result, not as an error.
func (d *Dispatcher) Deliver(ctx context.Context, w *models.Webhook, eventType string, data interface{}) (*DeliveryResult, error) {
	now := d.now()
	event := models.WebhookEvent{
		ID:             ids.NewDeliveryID(),
		Event:          eventType,
		Timestamp:      now.Unix(),
		OrganizationID: w.OrganizationID,
		WebhookID:      w.ID,
		Test:           true,
		Data:           data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode test event: %w", err)
	}

	timeout := time.Duration(w.Config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := w.Config.Method
	if method == "" {
		method = defaultMethod
	}
	req, err := http.NewRequestWithContext(ctx, method, w.URL, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryResult{DeliveryID: event.ID, EventType: eventType, Error: err.Error()}, nil
	}

	for k, v := range w.Config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Delivery", event.ID)

	var ts int64
	if w.Config.IncludeTimestamp {
		ts = event.Timestamp
		req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts, 10))
	}
	if w.Config.IncludePayloadHash && w.Security.SigningSecret != "" {
		req.Header.Set("X-Webhook-Signature", SignatureHeader(w.Security.SigningSecret, payload, ts))
	}

	switch {
	case w.Security.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+w.Security.BearerToken)
	case w.Security.BasicAuth != nil:
		req.SetBasicAuth(w.Security.BasicAuth.Username, w.Security.BasicAuth.Password)
	}

	client := d.verified
	if !w.Security.VerifySSL {
		client = d.insecure
	}

	result := &DeliveryResult{DeliveryID: event.ID, EventType: eventType}
	resp, err := client.Do(req)
	result.DurationMS = d.now().Sub(now).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	status := resp.StatusCode
	result.StatusCode = &status
	result.Success = status >= 200 && status < 300
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d", status)
	}
	return result, nil
}
