package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"phone-vault/backend/internal/claim/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a claim-link repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the link.
func (r *PostgresRepository) Create(ctx context.Context, l *domain.ClaimLink) error {
	query := `
		INSERT INTO claim_links (token, id, creator_phone, amount, claimed, claimant_address, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		l.Token, l.ID, l.CreatorPhone, l.Amount.String(), l.Claimed, l.ClaimantAddress, l.CreatedAt, l.ExpiresAt)
	if err != nil {
		return fmt.Errorf("claim create: %w", err)
	}
	return nil
}

// GetByToken returns the link for token, or nil if not found.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*domain.ClaimLink, error) {
	query := `
		SELECT token, id, creator_phone, amount, claimed, claimant_address, created_at, expires_at
		FROM claim_links WHERE token = $1`
	return r.scanLink(r.db.QueryRowContext(ctx, query, token))
}

// MarkClaimed flips the claimed flag in a single UPDATE guarded on
// claimed = FALSE and the expiry, so exactly one concurrent redeemer wins.
func (r *PostgresRepository) MarkClaimed(ctx context.Context, token, claimant string, now time.Time) (*domain.ClaimLink, error) {
	query := `
		UPDATE claim_links
		SET claimed = TRUE, claimant_address = $2
		WHERE token = $1 AND claimed = FALSE AND expires_at > $3
		RETURNING token, id, creator_phone, amount, claimed, claimant_address, created_at, expires_at`
	return r.scanLink(r.db.QueryRowContext(ctx, query, token, claimant, now))
}

// Delete removes the link by token.
func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM claim_links WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("claim delete: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanLink(row *sql.Row) (*domain.ClaimLink, error) {
	l := &domain.ClaimLink{}
	var amount string
	var claimant sql.NullString
	err := row.Scan(&l.Token, &l.ID, &l.CreatorPhone, &amount, &l.Claimed, &claimant, &l.CreatedAt, &l.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim scan: %w", err)
	}
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("claim scan: invalid amount %q", amount)
	}
	l.Amount = n
	l.ClaimantAddress = claimant.String
	return l, nil
}
