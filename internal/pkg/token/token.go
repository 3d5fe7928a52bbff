// internal/pkg/token/token.go
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"mindwell-service/internal/domain/subscription"
)

// Access codes gate paid access, so everything here draws from
// crypto/rand. A read failure from the system randomness source is not
// recoverable; panicking matches how the runtime treats it elsewhere.

const accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("token: crypto/rand unavailable: %v", err))
	}
	return b
}

func urlSafe(n int) string {
	return base64.RawURLEncoding.EncodeToString(randomBytes(n))
}

// NewSessionIdentifier returns an opaque identifier for one
// conversational session, e.g. "sess_xK3v...".
func NewSessionIdentifier() string {
	return "sess_" + urlSafe(12)
}

// NewSubscriptionToken returns the opaque internal identifier for a
// purchased or generated plan, e.g. "sub_9fQ2...".
func NewSubscriptionToken() string {
	return "sub_" + urlSafe(16)
}

// NewAccessCode returns a human-enterable code in the form
// "{PLAN}-XXXXXXXX" where the suffix is 8 uppercase alphanumerics.
func NewAccessCode(plan subscription.PlanType) string {
	suffix := make([]byte, 8)
	for i, b := range randomBytes(8) {
		suffix[i] = accessCodeAlphabet[int(b)%len(accessCodeAlphabet)]
	}
	return plan.AccessCodePrefix() + "-" + string(suffix)
}
