// Package service implements claim-link issuance and exactly-once redemption.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"phone-vault/backend/internal/claim/domain"
	"phone-vault/backend/internal/claim/repository"
	"phone-vault/backend/internal/relay"
	"phone-vault/backend/internal/starknet"
)

// Sentinel errors for the claim registry; handlers map them to HTTP codes.
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientFunds   = errors.New("escrow funding failed")
	ErrTokenNotFound       = errors.New("claim token not found")
	ErrTokenExpired        = errors.New("claim token expired")
	ErrAlreadyClaimed      = errors.New("claim already redeemed")
	ErrClaimTransferFailed = errors.New("claim transfer failed; link kept unredeemable pending reconciliation")
)

// AddressDeriver derives the deterministic account address for a phone.
type AddressDeriver interface {
	Derive(phone string) (starknet.Felt, error)
}

// EscrowTransfer is the transfer capability backing claims: fund the pool
// from a creator-signed outside execution, pay out to a derived address.
type EscrowTransfer interface {
	FundEscrow(ctx context.Context, from starknet.Felt, amount *big.Int, auth relay.OutsideAuth) (string, error)
	PayoutEscrow(ctx context.Context, to starknet.Felt, amount *big.Int) (string, error)
}

// Registry issues and redeems claim links.
type Registry struct {
	repo     repository.Repository
	deriver  AddressDeriver
	transfer EscrowTransfer
	ttl      time.Duration
	nowF     func() time.Time
}

// NewRegistry returns a Registry with the default link TTL.
func NewRegistry(repo repository.Repository, deriver AddressDeriver, transfer EscrowTransfer) *Registry {
	return &Registry{
		repo:     repo,
		deriver:  deriver,
		transfer: transfer,
		ttl:      domain.DefaultTTL,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// Create issues a fresh unguessable token for amount and escrows the funds
// from the creator's account. The link row is removed again when escrow
// funding fails, so unfunded tokens are never redeemable.
func (r *Registry) Create(ctx context.Context, creatorPhone string, amount *big.Int, auth relay.OutsideAuth) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	creator, err := r.deriver.Derive(creatorPhone)
	if err != nil {
		return "", err
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := r.nowF()
	link := &domain.ClaimLink{
		ID:           uuid.New().String(),
		Token:        token,
		CreatorPhone: creatorPhone,
		Amount:       new(big.Int).Set(amount),
		Claimed:      false,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.ttl),
	}
	if err := r.repo.Create(ctx, link); err != nil {
		return "", err
	}
	if _, err := r.transfer.FundEscrow(ctx, creator, amount, auth); err != nil {
		if derr := r.repo.Delete(ctx, token); derr != nil {
			return "", fmt.Errorf("%w: %v (cleanup failed: %v)", ErrInsufficientFunds, err, derr)
		}
		return "", fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	return token, nil
}

// Redeem pays the escrowed amount to the account derived from recipientPhone.
// The claimed flag is flipped by a single compare-and-set, so under any
// number of concurrent redemptions exactly one caller wins and the rest get
// ErrAlreadyClaimed. A transfer failure after a won CAS never resets the
// flag: reopening the race would risk a double payout, so the error is
// surfaced for operator reconciliation instead.
func (r *Registry) Redeem(ctx context.Context, token, recipientPhone string) (starknet.Felt, error) {
	recipient, err := r.deriver.Derive(recipientPhone)
	if err != nil {
		return starknet.Felt{}, err
	}
	link, err := r.repo.MarkClaimed(ctx, token, recipient.Hex(), r.nowF())
	if err != nil {
		return starknet.Felt{}, err
	}
	if link == nil {
		return starknet.Felt{}, r.classifyMiss(ctx, token)
	}
	if _, err := r.transfer.PayoutEscrow(ctx, recipient, link.Amount); err != nil {
		return starknet.Felt{}, fmt.Errorf("%w: %v", ErrClaimTransferFailed, err)
	}
	return recipient, nil
}

// Status returns the stored link for token, or ErrTokenNotFound.
func (r *Registry) Status(ctx context.Context, token string) (*domain.ClaimLink, error) {
	link, err := r.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrTokenNotFound
	}
	return link, nil
}

// classifyMiss explains a failed CAS: missing token, expired link, or a lost
// race against another redeemer.
func (r *Registry) classifyMiss(ctx context.Context, token string) error {
	link, err := r.repo.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	switch {
	case link == nil:
		return ErrTokenNotFound
	case link.Claimed:
		return ErrAlreadyClaimed
	case link.ExpiredAt(r.nowF()):
		return ErrTokenExpired
	default:
		return ErrAlreadyClaimed
	}
}

func newToken() (string, error) {
	b := make([]byte, domain.TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
