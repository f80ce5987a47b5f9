// Package secrets seals webhook credentials at rest with NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "enc:v1:"

var (
	ErrNoKey   = errors.New("secrets: value is sealed but no encryption key is configured")
	ErrCorrupt = errors.New("secrets: sealed value cannot be opened")
)

// Box seals and opens strings. A Box without a key passes values through unchanged.
type Box struct {
	key *[32]byte
}

// NewBox accepts a base64 encoded 32 byte key. An empty key disables sealing.
func NewBox(encodedKey string) (*Box, error) {
	if encodedKey == "" {
		return &Box{}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secrets: key must be 32 bytes, got %d", len(raw))
	}

	var key [32]byte
	copy(key[:], raw)
	return &Box{key: &key}, nil
}

func (b *Box) Enabled() bool {
	return b != nil && b.key != nil
}

func (b *Box) Seal(plain string) (string, error) {
	if !b.Enabled() || plain == "" || IsSealed(plain) {
		return plain, nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, b.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open returns plaintext values as-is so rows written before a key was set stay readable.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if !b.Enabled() {
		return "", ErrNoKey
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return "", ErrCorrupt
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, b.key)
	if !ok {
		return "", ErrCorrupt
	}
	return string(plain), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
