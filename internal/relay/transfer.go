package relay

import (
	"context"
	"math/big"

	"phone-vault/backend/internal/starknet"
)

var (
	transferSelector      = starknet.SelectorFromName("transfer")
	deployAccountSelector = starknet.SelectorFromName("deploy_account")
)

// amountCalldata splits an amount into the (low, high) u256 limbs token
// contracts expect.
func amountCalldata(amount *big.Int) []starknet.Felt {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	low := new(big.Int).And(amount, mask)
	high := new(big.Int).Rsh(amount, 128)
	return []starknet.Felt{starknet.NewFelt(low), starknet.NewFelt(high)}
}

// EscrowPool moves claim-link funds through the relayer-held escrow: creators
// fund it with a signed outside execution, redeemers are paid out of it by
// the relayer directly.
type EscrowPool struct {
	exec    *Executor
	token   starknet.Felt
	relayer starknet.Felt
}

// NewEscrowPool returns an EscrowPool over the given token contract.
func NewEscrowPool(exec *Executor, token, relayer starknet.Felt) *EscrowPool {
	return &EscrowPool{exec: exec, token: token, relayer: relayer}
}

// FundEscrow transfers amount from the creator's account into the pool using
// the creator's signed execute-from-outside envelope. The creator's account
// contract is the authority on the signature and outside nonce.
func (p *EscrowPool) FundEscrow(ctx context.Context, from starknet.Felt, amount *big.Int, auth OutsideAuth) (string, error) {
	call := starknet.Call{
		To:       p.token,
		Selector: transferSelector,
		Calldata: append([]starknet.Felt{p.relayer}, amountCalldata(amount)...),
	}
	return p.exec.Submit(ctx, []starknet.Call{call}, &SubmitOptions{OnBehalfOf: from, Auth: auth})
}

// PayoutEscrow transfers amount from the pool to the recipient, sent by the
// relayer itself.
func (p *EscrowPool) PayoutEscrow(ctx context.Context, to starknet.Felt, amount *big.Int) (string, error) {
	call := starknet.Call{
		To:       p.token,
		Selector: transferSelector,
		Calldata: append([]starknet.Felt{to}, amountCalldata(amount)...),
	}
	return p.exec.Submit(ctx, []starknet.Call{call}, nil)
}

// Factory deploys account contracts through the on-chain account factory,
// paid for by the relayer.
type Factory struct {
	exec    *Executor
	factory starknet.Felt
}

// NewFactory returns a Factory for the factory contract address.
func NewFactory(exec *Executor, factory starknet.Felt) *Factory {
	return &Factory{exec: exec, factory: factory}
}

// DeployAccount asks the factory to deploy the account derived from phone
// with publicKey as its signer. The factory uses the same salt derivation as
// the address deriver, so the deployment lands on the precomputed address.
func (f *Factory) DeployAccount(ctx context.Context, phone, publicKey starknet.Felt) (string, error) {
	call := starknet.Call{
		To:       f.factory,
		Selector: deployAccountSelector,
		Calldata: []starknet.Felt{phone, publicKey},
	}
	return f.exec.Submit(ctx, []starknet.Call{call}, nil)
}
