package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinTokenCost is the lowest bcrypt cost accepted for authentication tokens.
const MinTokenCost = 10

// ErrEmptyPepper is returned by NewTokenHasher when no pepper is configured.
var ErrEmptyPepper = errors.New("security: token pepper must not be empty")

// TokenHasher derives the durable proof of an authentication token: bcrypt over the token
// peppered with a deployment-wide secret. The salt is generated per call and embedded in the
// bcrypt output, so no separate salt column is needed. Callers must not log or persist plaintext
// tokens or the pepper.
type TokenHasher struct {
	Cost   int
	pepper []byte
}

// NewTokenHasher returns a TokenHasher with the given bcrypt cost, clamped to
// [MinTokenCost, bcrypt.MaxCost]. A zero cost selects bcrypt.DefaultCost.
func NewTokenHasher(pepper string, cost int) (*TokenHasher, error) {
	if pepper == "" {
		return nil, ErrEmptyPepper
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < MinTokenCost {
		cost = MinTokenCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &TokenHasher{Cost: cost, pepper: []byte(pepper)}, nil
}

// Hash returns the salted bcrypt hash of token+pepper, suitable for storage in hash_and_salt.
func (h *TokenHasher) Hash(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(h.peppered(token), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare reports whether token matches the stored hash. The comparison runs the full bcrypt
// derivation, so a mismatch on the first byte costs the same as one on the last.
// An empty or malformed hash never matches.
func (h *TokenHasher) Compare(hash, token string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), h.peppered(token)) == nil
}

// peppered keys HMAC-SHA256 with the pepper over the token. bcrypt reads at most 72 bytes,
// so the fixed 64-char digest keeps both the whole token and the whole pepper significant.
func (h *TokenHasher) peppered(token string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(token))
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}
