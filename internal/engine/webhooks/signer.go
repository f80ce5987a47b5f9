package webhooks

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	SecretPrefix    = "whsec_"
	SignatureScheme = "sha256="
)

// GenerateSecret returns "whsec_" followed by 32 random bytes in hex.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate signing secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}

func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignatureHeader signs "{timestamp}.{payload}" when timestamp > 0, else the payload alone.
func SignatureHeader(secret string, payload []byte, timestamp int64) string {
	return SignatureScheme + Sign(secret, signedContent(payload, timestamp))
}

// Verify checks a header produced by SignatureHeader in constant time.
func Verify(secret string, payload []byte, timestamp int64, header string) bool {
	if !strings.HasPrefix(header, SignatureScheme) {
		return false
	}
	expected := Sign(secret, signedContent(payload, timestamp))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, SignatureScheme)))
}

func signedContent(payload []byte, timestamp int64) []byte {
	if timestamp <= 0 {
		return payload
	}
	prefix := strconv.FormatInt(timestamp, 10) + "."
	out := make([]byte, 0, len(prefix)+len(payload))
	out = append(out, prefix...)
	return append(out, payload...)
}
