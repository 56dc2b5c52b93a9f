// Package starknet implements the field-element encoding, hashing, and
// transaction primitives needed to talk to a Starknet-style chain: short-string
// packing, deterministic contract address computation, selector derivation,
// and invoke-transaction hashing.
package starknet

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Prime is the Stark field prime 2^251 + 17*2^192 + 1. Every Felt is reduced
// into [0, Prime).
var Prime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)

// addrBound is the upper bound for contract addresses, 2^251 - 256.
var addrBound = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(256))

// keccakMask keeps the low 250 bits of a Keccak-256 digest so the result
// always fits in the field.
var keccakMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// MaxShortStringLen is the maximum byte length a string may have to be packed
// into a single field element.
const MaxShortStringLen = 31

// ErrShortStringTooLong is returned when a string exceeds MaxShortStringLen bytes.
var ErrShortStringTooLong = errors.New("starknet: short string exceeds 31 bytes")

// Felt is an element of the Stark field. The zero value is the field's zero.
// Felts are immutable; arithmetic helpers return new values.
type Felt struct {
	n *big.Int
}

// NewFelt returns the field element for n mod Prime. n is copied.
func NewFelt(n *big.Int) Felt {
	v := new(big.Int).Mod(n, Prime)
	return Felt{n: v}
}

// FeltFromUint64 returns the field element for n.
func FeltFromUint64(n uint64) Felt {
	return Felt{n: new(big.Int).SetUint64(n)}
}

// FeltFromHex parses a 0x-prefixed hex string into a field element.
func FeltFromHex(s string) (Felt, error) {
	t := strings.TrimPrefix(s, "0x")
	if t == "" || t != strings.TrimPrefix(t, "-") {
		return Felt{}, fmt.Errorf("starknet: invalid felt hex %q", s)
	}
	n, ok := new(big.Int).SetString(t, 16)
	if !ok {
		return Felt{}, fmt.Errorf("starknet: invalid felt hex %q", s)
	}
	return NewFelt(n), nil
}

// FeltFromShortString packs the ASCII bytes of s big-endian into a single
// field element (Cairo short-string encoding). Returns ErrShortStringTooLong
// if s is longer than 31 bytes.
func FeltFromShortString(s string) (Felt, error) {
	if len(s) > MaxShortStringLen {
		return Felt{}, ErrShortStringTooLong
	}
	return Felt{n: new(big.Int).SetBytes([]byte(s))}, nil
}

// BigInt returns a copy of the underlying integer.
func (f Felt) BigInt() *big.Int {
	if f.n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.n)
}

// Bytes returns the minimal big-endian byte representation; empty for zero.
func (f Felt) Bytes() []byte {
	if f.n == nil {
		return nil
	}
	return f.n.Bytes()
}

// Hex returns the canonical 0x-prefixed, 64-nibble zero-padded representation.
func (f Felt) Hex() string {
	if f.n == nil {
		return fmt.Sprintf("0x%064x", 0)
	}
	return fmt.Sprintf("0x%064x", f.n)
}

// Equal reports whether f and o are the same field element.
func (f Felt) Equal(o Felt) bool {
	return f.BigInt().Cmp(o.BigInt()) == 0
}

// IsZero reports whether f is the field's zero element.
func (f Felt) IsZero() bool {
	return f.n == nil || f.n.Sign() == 0
}

// word returns the 32-byte big-endian representation used in hash inputs.
func (f Felt) word() []byte {
	var w [32]byte
	f.BigInt().FillBytes(w[:])
	return w[:]
}

// Keccak returns the "Starknet Keccak" of data: Keccak-256 truncated to its
// low 250 bits so it fits in the field.
func Keccak(data []byte) Felt {
	d := new(big.Int).SetBytes(crypto.Keccak256(data))
	return Felt{n: d.And(d, keccakMask)}
}

// SelectorFromName returns the entry-point selector for name.
func SelectorFromName(name string) Felt {
	return Keccak([]byte(name))
}

// HashElements hashes a sequence of field elements into one. Each element
// contributes its 32-byte word, followed by a length word, and the digest is
// truncated into the field. Collision resistance is inherited from Keccak-256.
func HashElements(elems ...Felt) Felt {
	buf := make([]byte, 0, 32*(len(elems)+1))
	for _, e := range elems {
		buf = append(buf, e.word()...)
	}
	buf = append(buf, FeltFromUint64(uint64(len(elems))).word()...)
	return Keccak(buf)
}

// contractAddressPrefix is the short string "STARKNET_CONTRACT_ADDRESS".
var contractAddressPrefix = mustShortString("STARKNET_CONTRACT_ADDRESS")

func mustShortString(s string) Felt {
	f, err := FeltFromShortString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// ContractAddress computes the deterministic deployment address for a
// contract of class classHash deployed by deployer with the given salt and
// constructor calldata. The result is reduced below the address bound.
func ContractAddress(deployer, salt, classHash Felt, constructorCalldata []Felt) Felt {
	h := HashElements(
		contractAddressPrefix,
		deployer,
		salt,
		classHash,
		HashElements(constructorCalldata...),
	)
	n := h.BigInt()
	return Felt{n: n.Mod(n, addrBound)}
}
