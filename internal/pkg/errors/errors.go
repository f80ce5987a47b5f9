package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error     string      `json:"error"`
	Code      string      `json:"code"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp string      `json:"timestamp"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// FieldError names one offending input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is the typed error every handler returns through Write.
type Error struct {
	Status     int
	Code       string
	Message    string
	Details    interface{}
	RetryAfter int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewValidation sorts the field list by field name so responses are stable.
func NewValidation(message string, fields []FieldError) *Error {
	sorted := append([]FieldError(nil), fields...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })

	e := &Error{Status: http.StatusBadRequest, Code: ErrCodeInvalidInput, Message: message}
	if len(sorted) > 0 {
		e.Details = sorted
	}
	return e
}

func NewAuth(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: message}
}

func NewPermission(message string, details interface{}) *Error {
	return &Error{Status: http.StatusForbidden, Code: ErrCodeForbidden, Message: message, Details: details}
}

func NewNotFound(message string, details interface{}) *Error {
	return &Error{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: message, Details: details}
}

func NewRateLimit(retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{
		Status:     http.StatusTooManyRequests,
		Code:       ErrCodeRateLimitExceeded,
		Message:    "Rate limit exceeded",
		Details:    map[string]int{"retry_after": retryAfter},
		RetryAfter: retryAfter,
	}
}

// NewUpstream wraps a storage or dependency failure. The cause is logged, never serialized.
func NewUpstream(message string, cause error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: ErrCodeInternal, Message: message, cause: cause}
}

// StatusOf returns the HTTP status Write would use for err.
func StatusOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Write maps any error to the JSON error envelope. Unknown errors become 500s.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !stderrors.As(err, &e) {
		e = NewUpstream("Internal server error", err)
	}

	if e.Status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", e.Code).Msg(e.Message)
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}

	WriteError(w, e.Status, e.Code, e.Message, e.Details)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
