// ABOUTME: Challenge nonces for the connect handshake.
// ABOUTME: UUIDv4 values with creation-time expiry.

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NonceTimeout is how long a challenge nonce stays usable.
const NonceTimeout = 60 * time.Second

// Nonce is one challenge value issued to a connecting client.
type Nonce struct {
	Value     string
	CreatedAt time.Time
}

// NewNonce generates a fresh 36-character UUIDv4 nonce.
func NewNonce() Nonce {
	return Nonce{
		Value:     uuid.New().String(),
		CreatedAt: time.Now(),
	}
}

// Expired reports whether the nonce is older than the timeout.
func (n Nonce) Expired(timeout time.Duration) bool {
	return time.Since(n.CreatedAt) > timeout
}

// ChallengeResponse computes the password-mode challenge answer:
// lowercase hex sha256 over nonce+secret.
func ChallengeResponse(nonce, secret string) string {
	sum := sha256.Sum256([]byte(nonce + secret))
	return hex.EncodeToString(sum[:])
}
