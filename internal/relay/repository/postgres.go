// Package repository persists the relayer's transaction nonce.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
)

// PostgresNonceStore keeps the relayer nonce in a single-row table. Save is
// monotonic: the stored value only ever grows, so a delayed writer can never
// move the counter backwards.
type PostgresNonceStore struct {
	db *sql.DB
}

// NewPostgresNonceStore returns a nonce store that uses the given db.
func NewPostgresNonceStore(db *sql.DB) *PostgresNonceStore {
	return &PostgresNonceStore{db: db}
}

// Load returns the persisted nonce; ok is false when none was ever stored.
func (s *PostgresNonceStore) Load(ctx context.Context) (*big.Int, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM relay_nonce WHERE id = 1`).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("nonce load: %w", err)
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, false, fmt.Errorf("nonce load: invalid value %q", value)
	}
	return n, true, nil
}

// Save persists value, keeping the stored counter monotonic.
func (s *PostgresNonceStore) Save(ctx context.Context, value *big.Int) error {
	query := `
		INSERT INTO relay_nonce (id, value) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET value = GREATEST(relay_nonce.value, EXCLUDED.value)`
	if _, err := s.db.ExecContext(ctx, query, value.String()); err != nil {
		return fmt.Errorf("nonce save: %w", err)
	}
	return nil
}
