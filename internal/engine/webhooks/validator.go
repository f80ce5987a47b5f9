package webhooks

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	apperrors "readiness/internal/pkg/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "readiness://schemas/"

const (
	schemaCreate     = "create.json"
	schemaUpdate     = "update.json"
	schemaBulkUpdate = "bulk_update.json"
	schemaTest       = "test.json"
)

// Validator checks request bodies against the embedded JSON schemas and then
// applies the checks a schema cannot express. Every violation is reported.
type Validator struct {
	schemas    map[string]*jsonschema.Schema
	printer    *message.Printer
	production bool
	maxBulkIDs int
}

func NewValidator(production bool, maxBulkIDs int) (*Validator, error) {
	c := jsonschema.NewCompiler()

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}

	v := &Validator{
		schemas:    make(map[string]*jsonschema.Schema),
		printer:    message.NewPrinter(language.English),
		production: production,
		maxBulkIDs: maxBulkIDs,
	}
	for _, name := range []string{schemaCreate, schemaUpdate, schemaBulkUpdate, schemaTest} {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	if v.maxBulkIDs <= 0 {
		v.maxBulkIDs = 100
	}

	return v, nil
}

func (v *Validator) ValidateCreate(body []byte) (*WebhookInput, error) {
	var in WebhookInput
	fields, decoded := v.decode(schemaCreate, body, &in)
	if decoded {
		fields = append(fields, v.checkWebhook("", &in)...)
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidation("Invalid webhook data", fields)
	}
	return &in, nil
}

// ValidateUpdate checks a partial update of a single webhook.
func (v *Validator) ValidateUpdate(body []byte) (*WebhookInput, error) {
	var in WebhookInput
	fields, decoded := v.decode(schemaUpdate, body, &in)
	if decoded {
		fields = append(fields, v.checkWebhook("", &in)...)
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidation("Invalid webhook data", fields)
	}
	return &in, nil
}

func (v *Validator) ValidateBulkUpdate(body []byte) (*BulkUpdateInput, error) {
	var in BulkUpdateInput
	fields, decoded := v.decode(schemaBulkUpdate, body, &in)
	if decoded {
		if len(in.WebhookIDs) > v.maxBulkIDs {
			fields = append(fields, apperrors.FieldError{Field: "webhook_ids", Reason: fmt.Sprintf("at most %d ids may be updated at once", v.maxBulkIDs)})
		}
		fields = append(fields, v.checkWebhook("updates.", &in.Updates)...)
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidation("Invalid webhook data", fields)
	}
	return &in, nil
}

// ValidateTest accepts an empty body.
func (v *Validator) ValidateTest(body []byte) (*TestInput, error) {
	var in TestInput
	if len(bytes.TrimSpace(body)) == 0 {
		return &in, nil
	}

	fields, decoded := v.decode(schemaTest, body, &in)
	if decoded && in.EventType != "" && !IsEventType(in.EventType) {
		fields = append(fields, apperrors.FieldError{Field: "event_type", Reason: fmt.Sprintf("unsupported event type %q", in.EventType)})
	}
	if len(fields) > 0 {
		return nil, apperrors.NewValidation("Invalid test delivery request", fields)
	}
	return &in, nil
}

// decode validates body against the schema and unmarshals it into dst.
// decoded is false when dst could not be populated.
func (v *Validator) decode(schemaName string, body []byte, dst interface{}) ([]apperrors.FieldError, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []apperrors.FieldError{{Field: "body", Reason: "request body is required"}}, false
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return []apperrors.FieldError{{Field: "body", Reason: "request body must be valid JSON"}}, false
	}

	var fields []apperrors.FieldError
	if err := v.schemas[schemaName].Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return []apperrors.FieldError{{Field: "body", Reason: err.Error()}}, false
		}
		fields = v.flatten(verr, nil)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		// A type mismatch still leaves the remaining fields decoded.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && len(fields) > 0 {
			return fields, true
		}
		if len(fields) == 0 {
			fields = append(fields, apperrors.FieldError{Field: "body", Reason: "request body has the wrong shape"})
		}
		return fields, false
	}
	return fields, true
}

func (v *Validator) flatten(err *jsonschema.ValidationError, out []apperrors.FieldError) []apperrors.FieldError {
	if len(err.Causes) > 0 {
		for _, cause := range err.Causes {
			out = v.flatten(cause, out)
		}
		return dedupe(out)
	}

	switch k := err.ErrorKind.(type) {
	case *kind.Required:
		for _, missing := range k.Missing {
			out = append(out, apperrors.FieldError{Field: fieldPath(err.InstanceLocation, missing), Reason: "is required"})
		}
	case *kind.AdditionalProperties:
		for _, prop := range k.Properties {
			out = append(out, apperrors.FieldError{Field: fieldPath(err.InstanceLocation, prop), Reason: "is not a recognized field"})
		}
	default:
		out = append(out, apperrors.FieldError{Field: fieldPath(err.InstanceLocation), Reason: err.ErrorKind.LocalizedString(v.printer)})
	}
	return dedupe(out)
}

func fieldPath(location []string, extra ...string) string {
	parts := append(append([]string{}, location...), extra...)
	if len(parts) == 0 {
		return "body"
	}
	return strings.Join(parts, ".")
}

func dedupe(fields []apperrors.FieldError) []apperrors.FieldError {
	seen := make(map[apperrors.FieldError]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// checkWebhook covers what the schemas cannot: URL semantics, the event
// catalogue, header names and IP allow-list entries.
func (v *Validator) checkWebhook(prefix string, in *WebhookInput) []apperrors.FieldError {
	var fields []apperrors.FieldError
	add := func(field, reason string) {
		fields = append(fields, apperrors.FieldError{Field: prefix + field, Reason: reason})
	}

	if in.Name != nil && *in.Name != "" && strings.TrimSpace(*in.Name) == "" {
		add("name", "must not be blank")
	}
	if in.URL != nil && *in.URL != "" {
		if reason := checkURL(*in.URL, v.production); reason != "" {
			add("url", reason)
		}
	}
	for i, e := range in.EventTypes {
		if e != "" && !IsEventType(e) {
			add(fmt.Sprintf("event_types.%d", i), fmt.Sprintf("unsupported event type %q", e))
		}
	}

	if in.Config != nil {
		for name, value := range in.Config.Headers {
			if reason := checkHeader(name, value); reason != "" {
				add("config.headers."+name, reason)
			}
		}
	}

	if in.Security != nil {
		for i, entry := range in.Security.IPWhitelist {
			if !validIPEntry(entry) {
				add(fmt.Sprintf("security.ip_whitelist.%d", i), fmt.Sprintf("%q is not an IP address or CIDR range", entry))
			}
		}
	}

	if in.RateLimit != nil && in.RateLimit.BurstLimit != nil && in.RateLimit.MaxRequestsPerMinute != nil &&
		*in.RateLimit.BurstLimit > *in.RateLimit.MaxRequestsPerMinute {
		add("rate_limit.burst_limit", "must not exceed max_requests_per_minute")
	}

	return fields
}

func checkURL(raw string, production bool) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "must be a valid URL"
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "must use http or https"
	}
	if u.Hostname() == "" {
		return "must include a host"
	}
	if u.User != nil {
		return "must not embed credentials; use security.basic_auth"
	}
	if production && isLocalhost(u.Hostname()) {
		return "localhost URLs are not allowed in production"
	}
	return ""
}

func isLocalhost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

var reservedHeaders = map[string]struct{}{
	"host":           {},
	"content-length": {},
	"content-type":   {},
	"authorization":  {},
}

func checkHeader(name, value string) string {
	if name == "" || !isToken(name) {
		return "is not a valid header name"
	}
	lower := strings.ToLower(name)
	if _, ok := reservedHeaders[lower]; ok || strings.HasPrefix(lower, "x-webhook-") {
		return "is reserved"
	}
	if strings.ContainsAny(value, "\r\n") {
		return "must not contain line breaks"
	}
	return ""
}

// isToken reports whether s is an RFC 7230 token.
func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func validIPEntry(s string) bool {
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	_, err := netip.ParsePrefix(s)
	return err == nil
}
