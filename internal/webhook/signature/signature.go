// Package signature signs and verifies webhook bodies with HMAC-SHA256.
// Headers carry "sha256=<hex digest>".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Header is where vendors and the repeater put the signature.
const Header = "X-Signature"

const prefix = "sha256="

var (
	ErrMissing  = errors.New("signature missing")
	ErrMismatch = errors.New("signature mismatch")
	ErrNoSecret = errors.New("no webhook secret configured")
)

// Sign returns the header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against body in constant time. An empty secret
// rejects everything.
func Verify(secret, body []byte, header string) error {
	if len(secret) == 0 {
		return ErrNoSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissing
	}
	if !strings.HasPrefix(header, prefix) {
		return ErrMismatch
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrMismatch
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrMismatch
	}
	return nil
}
