// Package service implements the OTP challenge lifecycle: issue, deliver,
// verify, with superseding issues, bounded attempts, and lazy expiry.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"phone-vault/backend/internal/account"
	"phone-vault/backend/internal/otp"
	"phone-vault/backend/internal/otp/domain"
	"phone-vault/backend/internal/otp/repository"
)

// Sentinel errors for the OTP service; handlers map them to HTTP codes.
var (
	ErrNoActiveChallenge = errors.New("no active challenge for phone")
	ErrInvalidCode       = errors.New("invalid code")
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	ErrDeliveryFailed    = errors.New("code delivery failed")
)

// Sender delivers a plaintext code to a phone number. Implemented by the SMS
// provider client; failures propagate as ErrDeliveryFailed.
type Sender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// DevStore optionally records plaintext codes for dev-mode retrieval. Nil in
// production.
type DevStore interface {
	Put(ctx context.Context, phone, code string, expiresAt time.Time)
}

// ChallengeService issues and verifies OTP challenges.
type ChallengeService struct {
	repo        repository.Repository
	sender      Sender
	devStore    DevStore
	ttl         time.Duration
	maxAttempts int
	nowF        func() time.Time
}

// NewChallengeService returns a ChallengeService with the default TTL and
// attempt bound. devStore may be nil.
func NewChallengeService(repo repository.Repository, sender Sender, devStore DevStore) *ChallengeService {
	return &ChallengeService{
		repo:        repo,
		sender:      sender,
		devStore:    devStore,
		ttl:         domain.DefaultTTL,
		maxAttempts: domain.MaxAttempts,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a fresh challenge for phone, superseding any prior one, and
// hands the plaintext code to the delivery provider exactly once. Only the
// code digest is persisted.
func (s *ChallengeService) Issue(ctx context.Context, phone string) (string, error) {
	if err := account.ValidatePhone(phone); err != nil {
		return "", err
	}
	code, err := otp.GenerateCode()
	if err != nil {
		return "", err
	}
	now := s.nowF()
	c := &domain.Challenge{
		ID:        uuid.New().String(),
		Phone:     phone,
		CodeHash:  otp.HashCode(code),
		Attempts:  0,
		Status:    domain.StatusActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Supersede(ctx, c); err != nil {
		return "", err
	}
	if s.devStore != nil {
		s.devStore.Put(ctx, phone, code, c.ExpiresAt)
	}
	if err := s.sender.SendCode(ctx, phone, code); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return c.ID, nil
}

// Verify checks code against the phone's active challenge. A match marks the
// challenge verified (single use); a mismatch leaves it active unless the
// attempt bound was just reached, which locks it until a new Issue.
func (s *ChallengeService) Verify(ctx context.Context, phone, code string) error {
	if err := account.ValidatePhone(phone); err != nil {
		return err
	}
	outcome, err := s.repo.RecordAttempt(ctx, phone, otp.HashCode(code), s.maxAttempts, s.nowF())
	if err != nil {
		return err
	}
	switch outcome {
	case repository.OutcomeVerified:
		return nil
	case repository.OutcomeInvalid:
		return ErrInvalidCode
	case repository.OutcomeLocked:
		return ErrAttemptsExhausted
	default:
		return ErrNoActiveChallenge
	}
}
