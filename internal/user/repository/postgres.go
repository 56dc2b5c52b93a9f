package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phone-vault/backend/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a phone identity repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByPhone returns the identity for phone, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `
		SELECT phone, address, public_key, status, created_at, updated_at
		FROM users WHERE phone = $1`
	u := &domain.User{}
	var status string
	err := r.db.QueryRowContext(ctx, query, phone).Scan(
		&u.Phone, &u.Address, &u.PublicKey, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("user get: %w", err)
	}
	u.Status = domain.Status(status)
	return u, nil
}

// EnsurePending upserts the identity into pending state without ever moving a
// registered identity backwards.
func (r *PostgresRepository) EnsurePending(ctx context.Context, phone, address, publicKey string, now time.Time) error {
	query := `
		INSERT INTO users (phone, address, public_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $4)
		ON CONFLICT (phone) DO UPDATE SET
			address = EXCLUDED.address,
			public_key = EXCLUDED.public_key,
			status = 'pending',
			updated_at = EXCLUDED.updated_at
		WHERE users.status <> 'registered'`
	if _, err := r.db.ExecContext(ctx, query, phone, address, publicKey, now); err != nil {
		return fmt.Errorf("user ensure pending: %w", err)
	}
	return nil
}

// MarkRegistered advances the identity to registered.
func (r *PostgresRepository) MarkRegistered(ctx context.Context, phone string, now time.Time) error {
	query := `UPDATE users SET status = 'registered', updated_at = $2 WHERE phone = $1`
	if _, err := r.db.ExecContext(ctx, query, phone, now); err != nil {
		return fmt.Errorf("user mark registered: %w", err)
	}
	return nil
}
