// Package service orchestrates registration: a verified OTP earns the phone a
// deployed account contract at its deterministically derived address.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phone-vault/backend/internal/account"
	"phone-vault/backend/internal/starknet"
	"phone-vault/backend/internal/user/domain"
	"phone-vault/backend/internal/user/repository"
)

// Sentinel errors for registration; handlers map them to HTTP codes.
var (
	ErrAlreadyRegistered = errors.New("phone already registered")
	ErrDeploymentFailed  = errors.New("account deployment failed")
)

// Verifier is the OTP capability registration consumes. Its errors pass
// through to the caller unchanged.
type Verifier interface {
	Verify(ctx context.Context, phone, code string) error
}

// Deployer deploys the account contract for a phone, paid by the relayer.
type Deployer interface {
	DeployAccount(ctx context.Context, phone, publicKey starknet.Felt) (string, error)
}

// Service composes OTP verification, address derivation, and relayed
// deployment.
type Service struct {
	users    repository.Repository
	verifier Verifier
	deriver  *account.Deriver
	deployer Deployer
	nowF     func() time.Time
}

// NewService returns a registration service.
func NewService(users repository.Repository, verifier Verifier, deriver *account.Deriver, deployer Deployer) *Service {
	return &Service{
		users:    users,
		verifier: verifier,
		deriver:  deriver,
		deployer: deployer,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// Register verifies the OTP, then deploys the phone's account with publicKey
// as its signer. A failed deployment leaves the identity pending; a later
// attempt with a fresh OTP resumes deployment to the same derived address.
// Registration is never retried end-to-end on its own.
func (s *Service) Register(ctx context.Context, phone, code, publicKeyHex string) (starknet.Felt, error) {
	if err := s.verifier.Verify(ctx, phone, code); err != nil {
		return starknet.Felt{}, err
	}

	existing, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return starknet.Felt{}, err
	}
	if existing != nil && existing.Status == domain.StatusRegistered {
		addr, err := starknet.FeltFromHex(existing.Address)
		if err != nil {
			return starknet.Felt{}, err
		}
		return addr, ErrAlreadyRegistered
	}

	addr, err := s.deriver.Derive(phone)
	if err != nil {
		return starknet.Felt{}, err
	}
	publicKey, err := starknet.FeltFromHex(publicKeyHex)
	if err != nil {
		return starknet.Felt{}, fmt.Errorf("invalid public key: %w", err)
	}
	phoneFelt, err := account.PhoneFelt(phone)
	if err != nil {
		return starknet.Felt{}, err
	}

	now := s.nowF()
	if err := s.users.EnsurePending(ctx, phone, addr.Hex(), publicKeyHex, now); err != nil {
		return starknet.Felt{}, err
	}

	if _, err := s.deployer.DeployAccount(ctx, phoneFelt, publicKey); err != nil {
		// Identity stays pending; the next verified attempt resumes here.
		return starknet.Felt{}, fmt.Errorf("%w: %v", ErrDeploymentFailed, err)
	}

	if err := s.users.MarkRegistered(ctx, phone, s.nowF()); err != nil {
		return starknet.Felt{}, err
	}
	return addr, nil
}

// Lookup returns the stored identity for phone, or the derived address with
// unregistered status when the phone was never seen.
func (s *Service) Lookup(ctx context.Context, phone string) (*domain.User, error) {
	u, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	addr, err := s.deriver.Derive(phone)
	if err != nil {
		return nil, err
	}
	return &domain.User{
		Phone:   phone,
		Address: addr.Hex(),
		Status:  domain.StatusUnregistered,
	}, nil
}
