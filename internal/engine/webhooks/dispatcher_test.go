package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"readiness/internal/platform/models"
)

func deliveryTarget(url string) *models.Webhook {
	return &models.Webhook{
		ID:             "wh_test",
		OrganizationID: "org_a",
		URL:            url,
		EventTypes:     []string{"survey.completed"},
		Config: models.WebhookConfig{
			Method:             "PUT",
			Headers:            map[string]string{"X-Tenant": "acme"},
			TimeoutSeconds:     5,
			IncludePayloadHash: true,
			IncludeTimestamp:   true,
		},
		Security: models.WebhookSecurity{
			SigningSecret: "whsec_0123456789abcdef",
			VerifySSL:     true,
			BasicAuth:     &models.BasicAuth{Username: "hook", Password: "pw"},
		},
	}
}

func TestDispatcher_DeliverSignsRequest(t *testing.T) {
	var (
		gotMethod string
		gotHeader http.Header
		gotBody   []byte
		gotUser   string
		gotPass   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	res, err := NewDispatcher().Deliver(context.Background(), deliveryTarget(srv.URL), "survey.completed", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !res.Success || res.StatusCode == nil || *res.StatusCode != http.StatusAccepted || res.Error != "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotHeader.Get("X-Tenant") != "acme" || gotHeader.Get("X-Webhook-Event") != "survey.completed" {
		t.Errorf("headers = %v", gotHeader)
	}
	if gotHeader.Get("X-Webhook-Delivery") != res.DeliveryID {
		t.Errorf("delivery header = %q, want %q", gotHeader.Get("X-Webhook-Delivery"), res.DeliveryID)
	}
	if gotUser != "hook" || gotPass != "pw" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}

	ts, err := strconv.ParseInt(gotHeader.Get("X-Webhook-Timestamp"), 10, 64)
	if err != nil {
		t.Fatalf("timestamp header: %v", err)
	}
	if !Verify("whsec_0123456789abcdef", gotBody, ts, gotHeader.Get("X-Webhook-Signature")) {
		t.Error("signature does not verify")
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(gotBody, &event); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !event.Test || event.WebhookID != "wh_test" || event.OrganizationID != "org_a" || event.Event != "survey.completed" {
		t.Errorf("event = %+v", event)
	}
}

func TestDispatcher_DeliverFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher()
	res, err := d.Deliver(context.Background(), deliveryTarget(srv.URL), "survey.completed", nil)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Success || *res.StatusCode != http.StatusInternalServerError || res.Error != "HTTP 500" {
		t.Errorf("5xx result = %+v", res)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	res, err = d.Deliver(context.Background(), deliveryTarget(url), "survey.completed", nil)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Success || res.StatusCode != nil || res.Error == "" {
		t.Errorf("connection failure result = %+v", res)
	}
}

func TestDispatcher_VerifySSL(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher()
	target := deliveryTarget(srv.URL)

	res, _ := d.Deliver(context.Background(), target, "survey.completed", nil)
	if res.Success {
		t.Error("self-signed certificate accepted with verify_ssl=true")
	}

	target.Security.VerifySSL = false
	res, _ = d.Deliver(context.Background(), target, "survey.completed", nil)
	if !res.Success {
		t.Errorf("verify_ssl=false delivery failed: %+v", res)
	}
}

func TestURLWarnings(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"https://hooks.example.com/x", 0},
		{"http://hooks.example.com/x", 1},
		{"https://10.0.0.5/x", 1},
		{"http://10.0.0.5:8080/x", 3},
		{"https://hooks.example.com:443/x", 0},
	}

	for _, tt := range tests {
		if got := URLWarnings(tt.url); len(got) != tt.want {
			t.Errorf("URLWarnings(%q) = %v, want %d warnings", tt.url, got, tt.want)
		}
	}
}
