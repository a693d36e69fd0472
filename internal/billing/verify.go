package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Verifier checks that an inbound webhook body genuinely originates from the
// claimed provider. The RevenueCat and App Store schemes are a hex-encoded
// HMAC-SHA256 over the raw body; Stripe has its own scheme handled by the
// stripe-go webhook package.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier for the given shared secret. An empty
// secret puts the verifier in insecure mode: every payload passes. Callers
// must log insecure mode at startup; it is never assumed silently.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

// Verify checks the provider-supplied signature against an HMAC-SHA256 of
// the raw body. A missing signature with a configured secret is invalid, not
// skipped. The comparison is constant-time.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if v.secret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// Sign computes the hex HMAC-SHA256 of body with the verifier's secret.
// Used by tests and by outbound tooling that replays stored payloads.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
