// Package statecodec signs and verifies the tenant-routing payload that
// travels inside the OAuth `state` parameter. Identity providers round-trip
// `state` unmodified to a single registered callback URL, so this token is the
// only channel through which the gateway can learn which tenant a callback
// belongs to.
package statecodec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTTL bounds how long a sign-in flow may take before the wrapped
	// state is considered stale.
	DefaultTTL = 10 * time.Minute

	// DefaultClockTolerance absorbs clock skew between the host that signed
	// the token and the host that verifies it.
	DefaultClockTolerance = 30 * time.Second
)

// Payload is the routing information wrapped around the identity provider's
// original anti-CSRF state. Immutable once signed.
type Payload struct {
	InnerState string `json:"s"`
	TenantSlug string `json:"t,omitempty"`
	TargetHost string `json:"h,omitempty"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
}

// Encode wraps innerState with tenant routing metadata and an HMAC-SHA256
// signature. The wire format is base64url(JSON) "." base64url(signature).
// A non-positive ttl falls back to DefaultTTL.
func Encode(secret, tenantSlug, innerState, targetHost string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("statecodec: signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	payload := Payload{
		InnerState: innerState,
		TenantSlug: tenantSlug,
		TargetHost: targetHost,
		IssuedAt:   now.UnixMilli(),
		ExpiresAt:  now.Add(ttl).UnixMilli(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("statecodec: marshal payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + sign(encoded, secret), nil
}

// Decode verifies and unwraps a token produced by Encode. It returns nil for
// anything that cannot be trusted: malformed tokens, signature mismatches,
// unparseable payloads, and tokens expired beyond tolerance. Decode never
// returns an error; callers decide whether nil is fatal.
func Decode(token, secret string, tolerance time.Duration) *Payload {
	if token == "" || secret == "" {
		return nil
	}
	if tolerance <= 0 {
		tolerance = DefaultClockTolerance
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil
	}
	expected := sign(parts[0], secret)
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	if payload.IssuedAt == 0 || payload.ExpiresAt == 0 {
		return nil
	}
	if time.UnixMilli(payload.ExpiresAt).Add(tolerance).Before(time.Now()) {
		return nil
	}
	return &payload
}

func sign(encodedPayload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
