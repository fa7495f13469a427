package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for the handshake service; the HTTP handler maps them to status codes.
var (
	// ErrInvalidInput: a login code, fingerprint or bearer token is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotBound: no active record matches both the login code and the fingerprint.
	ErrNotBound = errors.New("login code and fingerprint are not bound")
	// ErrPending: no token is waiting for this code yet (or it expired). Keep polling.
	ErrPending = errors.New("authentication pending")
	// ErrNotFound: approve was called for a code that is unknown or past its approval deadline.
	ErrNotFound = errors.New("login code not found or expired")
	// ErrAlreadyApproved: the code was approved before; the first approval wins.
	ErrAlreadyApproved = errors.New("login code already approved")
	// ErrStoreUnavailable: the relational or TTL store failed. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCodeSpaceExhausted: issuance hit a collision on every attempt. Retryable.
	ErrCodeSpaceExhausted = errors.New("no free login code")
)

// errTokenGone is wrapped with ErrPending when no token can arrive any more: the record was
// redeemed or its deadline passed. Callers still see a plain pending result.
var errTokenGone = errors.New("no token will arrive")

// storeError wraps a store failure so errors.Is matches both ErrStoreUnavailable and err.
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
