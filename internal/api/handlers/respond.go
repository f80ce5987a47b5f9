package handlers

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	apiContext "readiness/internal/api/context"
	"readiness/internal/pkg/errors"
	"readiness/internal/platform/audit"
	"readiness/internal/platform/auth"
)

const maxBodyBytes = 1 << 20

type RateLimitMeta struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

type Meta struct {
	Timestamp string         `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	RateLimit *RateLimitMeta `json:"rate_limit,omitempty"`
}

func newMeta(r *http.Request) Meta {
	m := Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: apiContext.GetRequestID(r.Context()),
	}
	if rl, ok := apiContext.GetRateLimit(r.Context()); ok {
		m.RateLimit = &RateLimitMeta{
			Limit:     rl.Limit,
			Remaining: rl.Remaining,
			ResetAt:   rl.ResetAt.UTC().Format(time.RFC3339),
		}
	}
	return m
}

type envelope struct {
	Data interface{} `json:"data"`
	Meta Meta        `json:"meta"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, envelope{Data: data, Meta: newMeta(r)})
}

// readBody caps the request body so oversized payloads fail validation.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewValidation("Invalid request body", []errors.FieldError{
			{Field: "body", Reason: "request body is unreadable or larger than 1MB"},
		})
	}
	return body, nil
}

func actorFrom(r *http.Request) audit.Actor {
	actor := audit.Actor{IPAddress: remoteIP(r), UserAgent: r.UserAgent()}
	if p, ok := apiContext.GetPrincipal(r.Context()); ok {
		actor.OrganizationID = p.OrganizationID
		actor.UserID = p.UserID
	} else if c, ok := apiContext.GetClaims(r.Context()); ok {
		actor.OrganizationID = c.OrganizationID
		actor.UserID = c.UserID
	}
	return actor
}

func principalFrom(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := apiContext.GetPrincipal(r.Context())
	if !ok {
		errors.Write(w, errors.NewAuth("API key required"))
	}
	return p, ok
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
