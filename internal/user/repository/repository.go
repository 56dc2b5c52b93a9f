package repository

import (
	"context"
	"time"

	"phone-vault/backend/internal/user/domain"
)

// Repository defines persistence for phone identities, keyed by phone.
// Status transitions are forward-only; implementations must refuse to move a
// registered identity backwards.
type Repository interface {
	// GetByPhone returns the identity for phone, or nil if not found.
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	// EnsurePending creates the identity in pending state, or moves an
	// existing unregistered one to pending. A registered identity is left
	// untouched.
	EnsurePending(ctx context.Context, phone, address, publicKey string, now time.Time) error
	// MarkRegistered advances the identity to registered.
	MarkRegistered(ctx context.Context, phone string, now time.Time) error
}
