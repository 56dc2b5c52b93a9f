// Package domain holds the OTP challenge record and its state machine.
package domain

import "time"

// Status is the lifecycle state of an OTP challenge. A challenge moves from
// active to exactly one terminal state; issuing a new challenge for the same
// phone always resets to a fresh active one.
type Status string

const (
	StatusActive   Status = "active"
	StatusVerified Status = "verified"
	StatusLocked   Status = "locked"
	StatusExpired  Status = "expired"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

// MaxAttempts is the verification attempt bound before a challenge locks.
const MaxAttempts = 5

// Challenge is the stored OTP challenge for a phone. At most one row exists
// per phone; a new issue supersedes the previous one. Only the code digest is
// stored, never the plaintext.
type Challenge struct {
	ID        string
	Phone     string
	CodeHash  string
	Attempts  int
	Status    Status
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiredAt reports whether the challenge's TTL has elapsed at now. Expiry is
// checked lazily at read time; no background timers mutate the row.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
