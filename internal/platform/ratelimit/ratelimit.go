// Package ratelimit counts requests per caller and resource class.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	ClassWebhooks = "api.webhooks"
	ClassAPIKeys  = "api.keys"
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter admits or rejects one request against key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Key builds the shared counter key for a class and caller.
func Key(class, caller string) string {
	return "ratelimit:" + class + ":" + caller
}

// CallerID fingerprints a credential so raw keys never become counter names.
// Anonymous callers are keyed by address.
func CallerID(credential, remoteIP string) string {
	if credential == "" {
		return "ip:" + remoteIP
	}
	sum := sha256.Sum256([]byte(credential))
	return "key:" + hex.EncodeToString(sum[:8])
}

// AddressID keys the bucket every request from an address is charged to,
// whatever credential it presents.
func AddressID(remoteIP string) string {
	return "addr:" + remoteIP
}

// RetryAfterSeconds rounds up so clients never retry early.
func (r *Result) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 1
	}
	secs := int(r.RetryAfter / time.Second)
	if r.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}
