package webhooks

import (
	"encoding/json"
	"strings"
	"testing"

	"pgregory.net/rapid"
	"readiness/internal/platform/models"
)

func TestMaskURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://api.example.com/hook", "https://api.*******.com/hook"},
		{"https://example.com", "https://*******.com"},
		{"https://example.com/", "https://*******.com/"},
		{"https://hooks.example.com/a/b/c/d", "https://hooks.*******.com/a/***/***/d"},
		{"https://hooks.example.com/a/b", "https://hooks.*******.com/a/b"},
		{"https://hooks.example.com:8443/x?token=abc#frag", "https://hooks.*******.com:8443/x"},
		{"https://api.example.com./hook", "https://api.*******.com./hook"},
		{"https://example.com.", "https://*******.com."},
		{"http://10.0.0.1/hook", "http://10.0.*.1/hook"},
		{"http://[::1]:8080/hook", "http://[::1]:8080/hook"},
		{"http://localhost/hook", "http://localhost/hook"},
		{"not a url", "***"},
		{"://broken", "***"},
		{"", "***"},
	}

	for _, tt := range tests {
		if got := MaskURL(tt.in); got != tt.want {
			t.Errorf("MaskURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskURL_NeverLeaksThreeLabelHosts(t *testing.T) {
	label := rapid.StringMatching(`[a-z][a-z0-9]{0,10}`)
	segment := rapid.StringMatching(`[a-z0-9]{1,8}`)

	rapid.Check(t, func(t *rapid.T) {
		host := label.Draw(t, "sub") + "." + label.Draw(t, "domain") + "." + label.Draw(t, "tld")
		segs := rapid.SliceOfN(segment, 0, 5).Draw(t, "path")
		raw := "https://" + host
		if len(segs) > 0 {
			raw += "/" + strings.Join(segs, "/")
		}

		masked := MaskURL(raw)
		if masked == raw {
			t.Fatalf("masked URL equals raw URL %q", raw)
		}
		if len(masked) != len(raw) && len(segs) <= 2 {
			t.Fatalf("masking must preserve host length: %q -> %q", raw, masked)
		}
	})
}

func TestProject_HidesCredentials(t *testing.T) {
	w := &models.Webhook{
		ID:         "wh_1",
		URL:        "https://hooks.example.com/x",
		EventTypes: []string{"survey.completed"},
		Config:     models.WebhookConfig{Method: "POST", Headers: map[string]string{"X-Api-Token": "hidden-header"}},
		Security: models.WebhookSecurity{
			SigningSecret: "whsec_topsecret",
			BasicAuth:     &models.BasicAuth{Username: "u", Password: "hidden-password"},
			BearerToken:   "hidden-bearer",
		},
	}

	view := Project(w)
	body, _ := json.Marshal(view)
	for _, leak := range []string{"whsec_topsecret", "hidden-header", "hidden-password", "hidden-bearer", "signing_secret", "hooks.example.com"} {
		if strings.Contains(string(body), leak) {
			t.Errorf("projected view leaks %q: %s", leak, body)
		}
	}
	if !view.Security.HasSigningSecret || !view.Security.HasBasicAuth || !view.Security.HasBearerToken {
		t.Errorf("expected has_* flags, got %+v", view.Security)
	}

	created := ProjectCreated(w)
	if created.Security.SigningSecret != "whsec_topsecret" || created.URL != w.URL {
		t.Errorf("create view must carry the secret and raw url once, got %+v", created)
	}
	createdBody, _ := json.Marshal(created)
	if strings.Contains(string(createdBody), "hidden-password") || strings.Contains(string(createdBody), "hidden-bearer") {
		t.Error("create view must not leak auth credentials")
	}
}
