// Package domain holds the authentication record persisted for each login code handshake.
package domain

import (
	"errors"
	"time"
)

// ErrLoginCodeTaken is returned by repositories when an insert collides with a record that
// still holds the same login code (or, practically never, the same fingerprint).
var ErrLoginCodeTaken = errors.New("login code already in use")

// State is the handshake state of a record.
type State string

const (
	StateIssued   State = "issued"
	StateApproved State = "approved"
	StateRedeemed State = "redeemed"
	StateExpired  State = "expired"
)

// AuthenticationRecord binds a login code to the requester's fingerprint and, once approved,
// to the bcrypt hash of the token handed to that requester.
type AuthenticationRecord struct {
	ID          string
	LoginCode   string
	Fingerprint string
	HashAndSalt string // empty until approved; write-once
	CreatedAt   time.Time
	ExpiresAt   time.Time // approval deadline
	ApprovedAt  *time.Time
	RedeemedAt  *time.Time
	// CodeReleasedAt is set when the login code was handed to a newer record.
	CodeReleasedAt *time.Time
}

// Approved reports whether a token hash has been stored for the record.
func (r *AuthenticationRecord) Approved() bool {
	return r.HashAndSalt != ""
}

// ApprovableAt reports whether the record can still be approved at now.
func (r *AuthenticationRecord) ApprovableAt(now time.Time) bool {
	return r.CodeReleasedAt == nil && !r.Approved() && now.Before(r.ExpiresAt)
}

// StateAt derives the handshake state at now. tokenTTL bounds how long an approved,
// unredeemed record can still be redeemed.
func (r *AuthenticationRecord) StateAt(now time.Time, tokenTTL time.Duration) State {
	switch {
	case r.RedeemedAt != nil:
		return StateRedeemed
	case r.ApprovedAt != nil:
		if now.Before(r.ApprovedAt.Add(tokenTTL)) {
			return StateApproved
		}
		return StateExpired
	case now.Before(r.ExpiresAt):
		return StateIssued
	default:
		return StateExpired
	}
}
