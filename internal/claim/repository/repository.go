package repository

import (
	"context"
	"time"

	"phone-vault/backend/internal/claim/domain"
)

// Repository defines persistence for claim links, keyed by token.
//
// MarkClaimed is the exclusivity primitive: a single compare-and-set on the
// claimed flag (false→true, claimant recorded, expiry checked) that exactly
// one of any number of concurrent callers observes succeeding.
type Repository interface {
	// Create persists the link. The link must have ID and Token set.
	Create(ctx context.Context, l *domain.ClaimLink) error
	// GetByToken returns the link for token, or nil if not found.
	GetByToken(ctx context.Context, token string) (*domain.ClaimLink, error)
	// MarkClaimed atomically flips claimed false→true and records claimant,
	// refusing expired links. Returns the claimed link, or nil when the CAS
	// did not apply (missing, expired, or already claimed).
	MarkClaimed(ctx context.Context, token, claimant string, now time.Time) (*domain.ClaimLink, error)
	// Delete removes the link; used to roll back a link whose escrow funding failed.
	Delete(ctx context.Context, token string) error
}
