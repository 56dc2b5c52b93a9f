package relay

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"phone-vault/backend/internal/starknet"
)

// P256Signer signs relayer transaction hashes with a NIST P-256 key, the
// scheme the relayer's account contract validates on-chain. Signatures are
// the (r, s) pair as canonical hex felts.
type P256Signer struct {
	key *ecdsa.PrivateKey
}

// NewP256Signer parses a hex-encoded private scalar into a signer.
func NewP256Signer(privateKeyHex string) (*P256Signer, error) {
	d, ok := new(big.Int).SetString(strings.TrimPrefix(privateKeyHex, "0x"), 16)
	if !ok || d.Sign() <= 0 {
		return nil, fmt.Errorf("relay: invalid private key")
	}
	curve := elliptic.P256()
	if d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("relay: private key out of range")
	}
	key := new(ecdsa.PrivateKey)
	key.Curve = curve
	key.D = d
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return &P256Signer{key: key}, nil
}

// Sign returns the ECDSA signature over txHash as two hex felts.
func (s *P256Signer) Sign(txHash starknet.Felt) ([]string, error) {
	var digest [32]byte
	txHash.BigInt().FillBytes(digest[:])
	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, err
	}
	return []string{
		starknet.NewFelt(r).Hex(),
		starknet.NewFelt(sv).Hex(),
	}, nil
}
