package security

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strconv"
)

// TokenBytes is the amount of randomness in an authentication token (hex encoded to 64 chars).
const TokenBytes = 32

// Login codes are drawn from [LoginCodeMin, LoginCodeMax] so every code has exactly six digits.
const (
	LoginCodeMin    = 100000
	LoginCodeMax    = 999999
	LoginCodeDigits = 6
)

// GenerateToken returns a hex-encoded token of TokenBytes random bytes from crypto/rand.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var loginCodeSpan = big.NewInt(LoginCodeMax - LoginCodeMin + 1)

// GenerateLoginCode returns a uniformly random six-digit login code (e.g. "482913").
// Uses crypto/rand so codes cannot be predicted from earlier ones.
func GenerateLoginCode() (string, error) {
	n, err := rand.Int(rand.Reader, loginCodeSpan)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+LoginCodeMin, 10), nil
}

// IsLoginCode reports whether s is a well-formed login code: six ASCII digits, no leading zero.
func IsLoginCode(s string) bool {
	if len(s) != LoginCodeDigits || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
