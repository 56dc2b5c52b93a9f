package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phone-vault/backend/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Supersede upserts the phone's challenge row, replacing any prior challenge.
func (r *PostgresRepository) Supersede(ctx context.Context, c *domain.Challenge) error {
	query := `
		INSERT INTO otp_challenges (phone, id, code_hash, attempts, status, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO UPDATE SET
			id = EXCLUDED.id,
			code_hash = EXCLUDED.code_hash,
			attempts = EXCLUDED.attempts,
			status = EXCLUDED.status,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at`
	_, err := r.db.ExecContext(ctx, query,
		c.Phone, c.ID, c.CodeHash, c.Attempts, string(c.Status), c.IssuedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("otp supersede: %w", err)
	}
	return nil
}

// Get returns the challenge for phone, or nil if none exists.
func (r *PostgresRepository) Get(ctx context.Context, phone string) (*domain.Challenge, error) {
	query := `
		SELECT phone, id, code_hash, attempts, status, issued_at, expires_at
		FROM otp_challenges WHERE phone = $1`
	c := &domain.Challenge{}
	var status string
	err := r.db.QueryRowContext(ctx, query, phone).Scan(
		&c.Phone, &c.ID, &c.CodeHash, &c.Attempts, &status, &c.IssuedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("otp get: %w", err)
	}
	c.Status = domain.Status(status)
	return c, nil
}

// RecordAttempt bumps the attempt counter, compares the digest, and applies
// the state transition in one UPDATE so concurrent verifications for the same
// phone serialize on the row.
func (r *PostgresRepository) RecordAttempt(ctx context.Context, phone, codeHash string, maxAttempts int, now time.Time) (AttemptOutcome, error) {
	query := `
		UPDATE otp_challenges
		SET attempts = attempts + 1,
		    status = CASE
		        WHEN code_hash = $2 THEN 'verified'
		        WHEN attempts + 1 >= $3 THEN 'locked'
		        ELSE 'active'
		    END
		WHERE phone = $1 AND status = 'active' AND expires_at > $4 AND attempts < $3
		RETURNING status`
	var status string
	err := r.db.QueryRowContext(ctx, query, phone, codeHash, maxAttempts, now).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.classifyMiss(ctx, phone, now)
		}
		return "", fmt.Errorf("otp attempt: %w", err)
	}
	switch domain.Status(status) {
	case domain.StatusVerified:
		return OutcomeVerified, nil
	case domain.StatusLocked:
		return OutcomeLocked, nil
	default:
		return OutcomeInvalid, nil
	}
}

// classifyMiss distinguishes why no active challenge matched: never issued,
// already terminal, expired, or attempts exhausted.
func (r *PostgresRepository) classifyMiss(ctx context.Context, phone string, now time.Time) (AttemptOutcome, error) {
	c, err := r.Get(ctx, phone)
	if err != nil {
		return "", err
	}
	if c != nil && c.Status == domain.StatusLocked {
		return OutcomeLocked, nil
	}
	if c != nil && c.Status == domain.StatusActive && c.Attempts >= domain.MaxAttempts {
		return OutcomeLocked, nil
	}
	return OutcomeNoChallenge, nil
}
