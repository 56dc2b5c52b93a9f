// Package relay builds, signs, and submits relayed transactions. The relayer
// account pays gas for every on-chain mutation in the system, and this
// package is the single writer of its transaction nonce.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"phone-vault/backend/internal/starknet"
)

// Sentinel errors for the executor; handlers map them to HTTP codes.
var (
	ErrEstimationFailed   = errors.New("fee estimation failed")
	ErrNonceRaceExhausted = errors.New("nonce race retries exhausted")
)

// maxNonceRetries bounds how many times a submission is retried after the
// node rejects the nonce as stale.
const maxNonceRetries = 3

// ChainClient is the chain capability the executor consumes: read nonce,
// estimate fee, submit, query status.
type ChainClient interface {
	Nonce(ctx context.Context, address starknet.Felt) (*big.Int, error)
	EstimateFee(ctx context.Context, inv starknet.Invoke) (*big.Int, error)
	AddInvoke(ctx context.Context, inv starknet.Invoke) (string, error)
	TransactionStatus(ctx context.Context, hash string) (starknet.TxStatus, error)
}

// NonceStore persists the relayer's nonce across restarts. Save must be
// monotonic: an older value never overwrites a newer one.
type NonceStore interface {
	// Load returns the persisted nonce; ok is false when none was ever stored.
	Load(ctx context.Context) (value *big.Int, ok bool, err error)
	// Save persists value if it is greater than the stored one.
	Save(ctx context.Context, value *big.Int) error
}

// Signer signs a transaction hash on behalf of the relayer account.
type Signer interface {
	Sign(txHash starknet.Felt) ([]string, error)
}

// OutsideAuth carries the target account's own anti-replay nonce and the
// user's signature over the call payload for execute-from-outside relays. The
// account's on-chain logic is the authority that rejects reused nonces or bad
// signatures; the executor forwards them untouched.
type OutsideAuth struct {
	Nonce     *big.Int
	Signature []string
}

// SubmitOptions selects the execute-from-outside path. When OnBehalfOf is the
// zero Felt the relayer submits the calls as itself.
type SubmitOptions struct {
	OnBehalfOf starknet.Felt
	Auth       OutsideAuth
}

var executeFromOutsideSelector = starknet.SelectorFromName("execute_from_outside")

// Executor serializes submissions on the relayer account. No two in-flight
// submissions may read-and-use the same nonce value, so the whole
// read-build-submit-advance sequence runs under the mutex.
type Executor struct {
	client    ChainClient
	nonces    NonceStore
	signer    Signer
	relayer   starknet.Felt
	chainID   starknet.Felt
	maxFeeCap *big.Int

	mu    sync.Mutex
	nonce *big.Int // next unused relayer nonce; nil until first load
}

// NewExecutor returns an Executor for the relayer account.
func NewExecutor(client ChainClient, nonces NonceStore, signer Signer, relayer, chainID starknet.Felt, maxFeeCap *big.Int) *Executor {
	return &Executor{
		client:    client,
		nonces:    nonces,
		signer:    signer,
		relayer:   relayer,
		chainID:   chainID,
		maxFeeCap: maxFeeCap,
	}
}

// EstimateFee returns a conservative upper bound for executing calls as the
// relayer: the node estimate plus 50% headroom, capped by the configured
// maximum. Callers may retry with backoff on ErrEstimationFailed.
func (e *Executor) EstimateFee(ctx context.Context, calls []starknet.Call) (*big.Int, error) {
	inv := starknet.Invoke{
		Sender:   e.relayer,
		Calldata: starknet.EncodeCalls(calls),
		Nonce:    big.NewInt(0),
		MaxFee:   big.NewInt(0),
	}
	est, err := e.client.EstimateFee(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimationFailed, err)
	}
	bound := new(big.Int).Mul(est, big.NewInt(3))
	bound.Div(bound, big.NewInt(2))
	if e.maxFeeCap != nil && bound.Cmp(e.maxFeeCap) > 0 {
		bound.Set(e.maxFeeCap)
	}
	return bound, nil
}

// Submit sends calls through the relayer. With opts.OnBehalfOf set, the calls
// are wrapped in the target account's execute_from_outside entry point so the
// relayer only pays gas; otherwise the relayer is the sender. Returns the
// transaction hash accepted by the node.
func (e *Executor) Submit(ctx context.Context, calls []starknet.Call, opts *SubmitOptions) (string, error) {
	if opts != nil && !opts.OnBehalfOf.IsZero() {
		wrapped, err := wrapOutside(calls, opts)
		if err != nil {
			return "", err
		}
		calls = []starknet.Call{wrapped}
	}

	fee, err := e.EstimateFee(ctx, calls)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.currentNonce(ctx)
	if err != nil {
		return "", err
	}

	calldata := starknet.EncodeCalls(calls)
	for attempt := 0; attempt <= maxNonceRetries; attempt++ {
		inv := starknet.Invoke{
			Sender:   e.relayer,
			Calldata: calldata,
			Nonce:    nonce,
			MaxFee:   fee,
		}
		localHash := starknet.TransactionHash(inv, e.chainID)
		sig, err := e.signer.Sign(localHash)
		if err != nil {
			return "", err
		}
		inv.Signature = sig

		hash, err := e.client.AddInvoke(ctx, inv)
		if err == nil {
			if hash == "" {
				hash = localHash.Hex()
			}
			return hash, e.advance(ctx, nonce)
		}

		if starknet.IsNonceError(err) {
			// A concurrent submission (another process) consumed the nonce;
			// re-read the chain's view and try again.
			nonce, err = e.client.Nonce(ctx, e.relayer)
			if err != nil {
				return "", err
			}
			continue
		}

		var ce *starknet.ChainError
		if errors.As(err, &ce) {
			// Chain-authoritative rejection; forward verbatim.
			return "", err
		}

		// Unknown outcome (transport failure after the request may have
		// landed): re-check by hash before resubmitting to avoid a
		// double-spend.
		status, serr := e.client.TransactionStatus(ctx, localHash.Hex())
		if serr == nil && (status == starknet.TxStatusAccepted || status == starknet.TxStatusPending) {
			return localHash.Hex(), e.advance(ctx, nonce)
		}
		if serr == nil && status == starknet.TxStatusUnknown {
			continue // never landed; resubmit with the same nonce
		}
		return "", err
	}
	return "", ErrNonceRaceExhausted
}

// Status returns the chain-side status of a previously submitted transaction.
func (e *Executor) Status(ctx context.Context, txHash string) (starknet.TxStatus, error) {
	return e.client.TransactionStatus(ctx, txHash)
}

// currentNonce returns the next unused relayer nonce, initializing it from
// the persisted store or, failing that, the chain. Caller holds e.mu.
func (e *Executor) currentNonce(ctx context.Context) (*big.Int, error) {
	if e.nonce != nil {
		return new(big.Int).Set(e.nonce), nil
	}
	stored, ok, err := e.nonces.Load(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := e.client.Nonce(ctx, e.relayer)
	if err != nil {
		return nil, err
	}
	if ok && stored.Cmp(chain) > 0 {
		chain = stored
	}
	e.nonce = new(big.Int).Set(chain)
	return new(big.Int).Set(e.nonce), nil
}

// advance records that nonce was consumed by an accepted submission. The
// stored counter moves only after the node accepted, never on local
// construction, so failures leave no gap and successes cannot reuse it.
// Caller holds e.mu.
func (e *Executor) advance(ctx context.Context, nonce *big.Int) error {
	next := new(big.Int).Add(nonce, big.NewInt(1))
	e.nonce = next
	if err := e.nonces.Save(ctx, next); err != nil {
		return fmt.Errorf("relay: persist nonce: %w", err)
	}
	return nil
}

// wrapOutside packs calls into a single execute_from_outside call on the
// target account: [nonce, n_calls, (to, selector, len, data...)*, n_sig, sig...].
func wrapOutside(calls []starknet.Call, opts *SubmitOptions) (starknet.Call, error) {
	outsideNonce := opts.Auth.Nonce
	if outsideNonce == nil {
		return starknet.Call{}, errors.New("relay: outside execution requires the account nonce")
	}
	if len(opts.Auth.Signature) == 0 {
		return starknet.Call{}, errors.New("relay: outside execution requires a signature")
	}
	data := []starknet.Felt{starknet.NewFelt(outsideNonce), starknet.FeltFromUint64(uint64(len(calls)))}
	for _, c := range calls {
		data = append(data, c.To, c.Selector, starknet.FeltFromUint64(uint64(len(c.Calldata))))
		data = append(data, c.Calldata...)
	}
	data = append(data, starknet.FeltFromUint64(uint64(len(opts.Auth.Signature))))
	for _, s := range opts.Auth.Signature {
		f, err := starknet.FeltFromHex(s)
		if err != nil {
			return starknet.Call{}, fmt.Errorf("relay: invalid signature element %q", s)
		}
		data = append(data, f)
	}
	return starknet.Call{
		To:       opts.OnBehalfOf,
		Selector: executeFromOutsideSelector,
		Calldata: data,
	}, nil
}
