package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"phone-vault/backend/internal/starknet"
)

// fakeChain is an in-memory ChainClient that enforces strict nonce ordering
// the way a real node does: a submission is accepted only when its nonce
// equals the chain's next expected value.
type fakeChain struct {
	mu         sync.Mutex
	nextNonce  *big.Int
	fee        *big.Int
	accepted   []starknet.Invoke
	feeErr     error
	invokeErr  error     // returned once per AddInvoke call while set
	invokeErrN int       // how many times invokeErr fires; <0 means always
	statuses   map[string]starknet.TxStatus
	statusErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		nextNonce: big.NewInt(0),
		fee:       big.NewInt(1000),
		statuses:  make(map[string]starknet.TxStatus),
	}
}

func (c *fakeChain) Nonce(_ context.Context, _ starknet.Felt) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.nextNonce), nil
}

func (c *fakeChain) EstimateFee(_ context.Context, _ starknet.Invoke) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feeErr != nil {
		return nil, c.feeErr
	}
	return new(big.Int).Set(c.fee), nil
}

func (c *fakeChain) AddInvoke(_ context.Context, inv starknet.Invoke) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invokeErr != nil && c.invokeErrN != 0 {
		if c.invokeErrN > 0 {
			c.invokeErrN--
		}
		return "", c.invokeErr
	}
	if inv.Nonce.Cmp(c.nextNonce) != 0 {
		return "", &starknet.ChainError{Code: 52, Message: "Invalid transaction nonce"}
	}
	c.accepted = append(c.accepted, inv)
	c.nextNonce = new(big.Int).Add(c.nextNonce, big.NewInt(1))
	return fmt.Sprintf("0xtx%d", len(c.accepted)), nil
}

func (c *fakeChain) TransactionStatus(_ context.Context, hash string) (starknet.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return starknet.TxStatusUnknown, c.statusErr
	}
	if s, ok := c.statuses[hash]; ok {
		return s, nil
	}
	return starknet.TxStatusUnknown, nil
}

// memNonceStore is an in-memory NonceStore with monotonic Save.
type memNonceStore struct {
	mu    sync.Mutex
	value *big.Int
}

func (s *memNonceStore) Load(_ context.Context) (*big.Int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return nil, false, nil
	}
	return new(big.Int).Set(s.value), true, nil
}

func (s *memNonceStore) Save(_ context.Context, value *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil || value.Cmp(s.value) > 0 {
		s.value = new(big.Int).Set(value)
	}
	return nil
}

// staticSigner returns a fixed, well-formed signature.
type staticSigner struct{}

func (staticSigner) Sign(_ starknet.Felt) ([]string, error) {
	return []string{"0x1", "0x2"}, nil
}

func newTestExecutor(chain ChainClient, store NonceStore) *Executor {
	return NewExecutor(
		chain,
		store,
		staticSigner{},
		starknet.FeltFromUint64(0x4e1a),
		starknet.FeltFromUint64(0x534e5f4d41494e), // "SN_MAIN"
		big.NewInt(1_000_000_000_000_000_000),
	)
}

func transferCall() []starknet.Call {
	return []starknet.Call{{
		To:       starknet.FeltFromUint64(0x70ce),
		Selector: starknet.SelectorFromName("transfer"),
		Calldata: []starknet.Felt{starknet.FeltFromUint64(0xdead), starknet.FeltFromUint64(500), starknet.FeltFromUint64(0)},
	}}
}

func TestSubmit_AdvancesNonceSequentially(t *testing.T) {
	chain := newFakeChain()
	store := &memNonceStore{}
	exec := newTestExecutor(chain, store)

	for i := 0; i < 3; i++ {
		if _, err := exec.Submit(context.Background(), transferCall(), nil); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	for i, inv := range chain.accepted {
		if inv.Nonce.Cmp(big.NewInt(int64(i))) != 0 {
			t.Errorf("submission %d used nonce %v, want %d", i, inv.Nonce, i)
		}
	}
	if store.value == nil || store.value.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("persisted nonce = %v, want 3", store.value)
	}
}

func TestSubmit_ConcurrentSubmissionsGetDistinctNonces(t *testing.T) {
	chain := newFakeChain()
	exec := newTestExecutor(chain, &memNonceStore{})

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = exec.Submit(context.Background(), transferCall(), nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if len(chain.accepted) != workers {
		t.Fatalf("chain accepted %d submissions, want %d", len(chain.accepted), workers)
	}
	seen := make(map[string]bool)
	for _, inv := range chain.accepted {
		n := inv.Nonce.String()
		if seen[n] {
			t.Errorf("nonce %s was used twice", n)
		}
		seen[n] = true
	}
	// Contiguous range 0..workers-1, no gaps.
	for i := 0; i < workers; i++ {
		if !seen[fmt.Sprint(i)] {
			t.Errorf("nonce %d was skipped", i)
		}
	}
}

func TestSubmit_RecoversFromStaleNonce(t *testing.T) {
	chain := newFakeChain()
	// Another process already consumed nonces 0..4.
	chain.nextNonce = big.NewInt(5)
	store := &memNonceStore{value: big.NewInt(2)}
	exec := newTestExecutor(chain, store)

	// Force the cached view to start at the stale stored value.
	exec.nonce = big.NewInt(2)

	hash, err := exec.Submit(context.Background(), transferCall(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash == "" {
		t.Error("hash should be non-empty")
	}
	if len(chain.accepted) != 1 || chain.accepted[0].Nonce.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("accepted with nonce %v, want the re-read chain nonce 5", chain.accepted[0].Nonce)
	}
	if store.value.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("persisted nonce = %v, want 6", store.value)
	}
}

func TestSubmit_NonceRaceExhausted(t *testing.T) {
	chain := newFakeChain()
	chain.invokeErr = &starknet.ChainError{Code: 52, Message: "Invalid transaction nonce"}
	chain.invokeErrN = -1
	exec := newTestExecutor(chain, &memNonceStore{})

	_, err := exec.Submit(context.Background(), transferCall(), nil)
	if !errors.Is(err, ErrNonceRaceExhausted) {
		t.Errorf("err = %v, want ErrNonceRaceExhausted", err)
	}
}

func TestSubmit_ChainRejectionForwardedVerbatim(t *testing.T) {
	chain := newFakeChain()
	chain.invokeErr = &starknet.ChainError{Code: 55, Message: "Account validation failed: invalid signature"}
	chain.invokeErrN = -1
	store := &memNonceStore{}
	exec := newTestExecutor(chain, store)

	_, err := exec.Submit(context.Background(), transferCall(), nil)
	var ce *starknet.ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ChainError", err)
	}
	if ce.Message != "Account validation failed: invalid signature" {
		t.Errorf("message rewritten to %q", ce.Message)
	}
	// A rejected submission must not consume the nonce.
	if store.value != nil {
		t.Errorf("persisted nonce = %v after a rejection, want none", store.value)
	}
}

func TestSubmit_UnknownOutcomeResolvedByStatusRecheck(t *testing.T) {
	chain := newFakeChain()
	chain.invokeErr = errors.New("read tcp: connection reset")
	chain.invokeErrN = -1
	store := &memNonceStore{}
	exec := newTestExecutor(chain, store)

	// Compute the local hash the executor will query for, then mark it accepted.
	inv := starknet.Invoke{
		Sender:   starknet.FeltFromUint64(0x4e1a),
		Calldata: starknet.EncodeCalls(transferCall()),
		Nonce:    big.NewInt(0),
		MaxFee:   big.NewInt(1500), // fee estimate 1000 plus 50% headroom
	}
	localHash := starknet.TransactionHash(inv, starknet.FeltFromUint64(0x534e5f4d41494e))
	chain.statuses[localHash.Hex()] = starknet.TxStatusAccepted

	hash, err := exec.Submit(context.Background(), transferCall(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash != localHash.Hex() {
		t.Errorf("hash = %q, want the locally computed %q", hash, localHash.Hex())
	}
	if store.value == nil || store.value.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("persisted nonce = %v, want 1 (the submission did land)", store.value)
	}
}

func TestSubmit_UnknownOutcomeResubmitsWhenNeverLanded(t *testing.T) {
	chain := newFakeChain()
	chain.invokeErr = errors.New("read tcp: connection reset")
	chain.invokeErrN = 1 // transport failure on the first attempt only
	exec := newTestExecutor(chain, &memNonceStore{})

	hash, err := exec.Submit(context.Background(), transferCall(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash == "" {
		t.Error("hash should be non-empty")
	}
	// The resubmission reused nonce 0.
	if len(chain.accepted) != 1 || chain.accepted[0].Nonce.Sign() != 0 {
		t.Errorf("accepted = %v, want one submission with nonce 0", chain.accepted)
	}
}

func TestSubmit_ResumesFromPersistedNonce(t *testing.T) {
	chain := newFakeChain()
	chain.nextNonce = big.NewInt(9)
	store := &memNonceStore{value: big.NewInt(9)}
	exec := newTestExecutor(chain, store)

	if _, err := exec.Submit(context.Background(), transferCall(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if chain.accepted[0].Nonce.Cmp(big.NewInt(9)) != 0 {
		t.Errorf("nonce = %v, want the persisted 9", chain.accepted[0].Nonce)
	}
}

func TestSubmit_OutsideExecutionWrapsCalls(t *testing.T) {
	chain := newFakeChain()
	exec := newTestExecutor(chain, &memNonceStore{})

	target := starknet.FeltFromUint64(0xacc7)
	opts := &SubmitOptions{
		OnBehalfOf: target,
		Auth: OutsideAuth{
			Nonce:     big.NewInt(3),
			Signature: []string{"0xaaa", "0xbbb"},
		},
	}
	if _, err := exec.Submit(context.Background(), transferCall(), opts); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Exactly one outer call, addressed to the target account's
	// execute_from_outside entry point, relayer as sender.
	inv := chain.accepted[0]
	if !inv.Sender.Equal(starknet.FeltFromUint64(0x4e1a)) {
		t.Errorf("sender = %s, want the relayer", inv.Sender.Hex())
	}
	if !inv.Calldata[0].Equal(starknet.FeltFromUint64(1)) {
		t.Errorf("outer call count = %s, want 1", inv.Calldata[0].Hex())
	}
	if !inv.Calldata[1].Equal(target) {
		t.Errorf("outer call target = %s, want %s", inv.Calldata[1].Hex(), target.Hex())
	}
	if !inv.Calldata[2].Equal(starknet.SelectorFromName("execute_from_outside")) {
		t.Error("outer call selector is not execute_from_outside")
	}
}

func TestSubmit_OutsideExecutionRequiresAuth(t *testing.T) {
	exec := newTestExecutor(newFakeChain(), &memNonceStore{})
	target := starknet.FeltFromUint64(0xacc7)

	cases := []struct {
		name string
		auth OutsideAuth
	}{
		{"missing nonce", OutsideAuth{Signature: []string{"0x1"}}},
		{"missing signature", OutsideAuth{Nonce: big.NewInt(1)}},
		{"malformed signature", OutsideAuth{Nonce: big.NewInt(1), Signature: []string{"zz"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := exec.Submit(context.Background(), transferCall(), &SubmitOptions{OnBehalfOf: target, Auth: tc.auth})
			if err == nil {
				t.Error("want an error")
			}
		})
	}
}

func TestEstimateFee_HeadroomAndCap(t *testing.T) {
	chain := newFakeChain()
	chain.fee = big.NewInt(1000)
	exec := newTestExecutor(chain, &memNonceStore{})

	fee, err := exec.EstimateFee(context.Background(), transferCall())
	if err != nil {
		t.Fatalf("EstimateFee: %v", err)
	}
	if fee.Cmp(big.NewInt(1500)) != 0 {
		t.Errorf("fee = %v, want estimate plus 50%% headroom (1500)", fee)
	}

	chain.fee = new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000_000_000_000))
	fee, err = exec.EstimateFee(context.Background(), transferCall())
	if err != nil {
		t.Fatalf("EstimateFee: %v", err)
	}
	if fee.Cmp(big.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Errorf("fee = %v, want the configured cap", fee)
	}
}

func TestEstimateFee_Failure(t *testing.T) {
	chain := newFakeChain()
	chain.feeErr = errors.New("node unavailable")
	exec := newTestExecutor(chain, &memNonceStore{})

	_, err := exec.EstimateFee(context.Background(), transferCall())
	if !errors.Is(err, ErrEstimationFailed) {
		t.Errorf("err = %v, want ErrEstimationFailed", err)
	}
}
