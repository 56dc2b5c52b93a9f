package repository

import (
	"context"
	"time"

	"phone-vault/backend/internal/otp/domain"
)

// AttemptOutcome is the result of one atomic verification attempt.
type AttemptOutcome string

const (
	// OutcomeVerified means the digest matched and the challenge was marked verified.
	OutcomeVerified AttemptOutcome = "verified"
	// OutcomeInvalid means the digest did not match; the challenge stays active.
	OutcomeInvalid AttemptOutcome = "invalid"
	// OutcomeLocked means the digest did not match and this attempt exhausted the bound.
	OutcomeLocked AttemptOutcome = "locked"
	// OutcomeNoChallenge means no active, unexpired, unexhausted challenge exists.
	OutcomeNoChallenge AttemptOutcome = "none"
)

// Repository defines persistence for OTP challenges, keyed by phone.
//
// RecordAttempt must be a single indivisible operation: it increments the
// attempt counter, compares the stored digest against codeHash, and applies
// the resulting state transition, all without any other caller observing an
// intermediate state. This is what makes same-phone verifications linearizable.
type Repository interface {
	// Supersede stores c as the phone's only challenge, replacing any prior
	// one regardless of its state.
	Supersede(ctx context.Context, c *domain.Challenge) error
	// Get returns the challenge for phone, or nil if none was ever issued.
	Get(ctx context.Context, phone string) (*domain.Challenge, error)
	// RecordAttempt performs one atomic verification attempt against the
	// phone's active challenge using the attempt bound maxAttempts and the
	// lazy-expiry instant now.
	RecordAttempt(ctx context.Context, phone, codeHash string, maxAttempts int, now time.Time) (AttemptOutcome, error)
}
