// Package domain holds the claim-link record: a bearer token redeemable once
// for a pre-funded amount.
package domain

import (
	"math/big"
	"time"
)

// DefaultTTL is how long a claim link stays redeemable.
const DefaultTTL = 30 * 24 * time.Hour

// TokenBytes is the entropy of a claim token (256 bits, hex-encoded).
const TokenBytes = 32

// ClaimLink is a stored claim. Claimed transitions false→true exactly once;
// once true the escrowed amount has been paid out and the link is dead.
type ClaimLink struct {
	ID              string
	Token           string
	CreatorPhone    string
	Amount          *big.Int
	Claimed         bool
	ClaimantAddress string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ExpiredAt reports whether the link's TTL has elapsed at now. Checked lazily
// at redemption time.
func (l *ClaimLink) ExpiredAt(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
