package webhooks

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Prober checks whether a target URL answers at all.
type Prober interface {
	Probe(ctx context.Context, target string) error
}

// HTTPProber issues a HEAD request. Any HTTP response counts as reachable.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{client: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("target answered HTTP %d", resp.StatusCode)
	}
	return nil
}

// URLWarnings flags URL shapes that are allowed but worth a second look.
func URLWarnings(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	var warnings []string
	if strings.EqualFold(u.Scheme, "http") {
		warnings = append(warnings, "Webhook URL uses plain HTTP; payloads will not be encrypted in transit")
	}
	if net.ParseIP(u.Hostname()) != nil {
		warnings = append(warnings, "Webhook URL uses an IP address instead of a hostname")
	}
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		warnings = append(warnings, fmt.Sprintf("Webhook URL uses non-standard port %s", port))
	}
	return warnings
}
