package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"notiq/internal/constants"
)

// ResetTokenService issues the random, time-boxed tokens used for password
// recovery. Tokens are opaque (not signed); validity comes from the stored
// hash and expiry on the user record.
type ResetTokenService struct {
	ttl time.Duration
}

func NewResetTokenService(ttl time.Duration) *ResetTokenService {
	return &ResetTokenService{ttl: ttl}
}

// GenerateToken creates a 256-bit random token, hex-encoded.
func (s *ResetTokenService) GenerateToken() (string, error) {
	b := make([]byte, constants.ResetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ExpiresAt returns when a newly issued token should expire.
func (s *ResetTokenService) ExpiresAt() time.Time {
	return time.Now().Add(s.ttl)
}

func (s *ResetTokenService) TTL() time.Duration {
	return s.ttl
}
