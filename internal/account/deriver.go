// Package account derives deterministic on-chain account addresses from
// normalized phone numbers.
package account

import (
	"errors"
	"regexp"

	"phone-vault/backend/internal/starknet"
)

// Sentinel errors for phone validation; handlers map them to HTTP codes.
var (
	ErrInvalidPhoneNumber = errors.New("invalid E.164 phone number")
	ErrPhoneNumberTooLong = errors.New("phone number does not fit in a field element")
)

// e164Re matches normalized E.164 numbers: +, leading non-zero digit, at most
// 15 digits total.
var e164Re = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// ValidatePhone checks that phone is a normalized E.164 string.
func ValidatePhone(phone string) error {
	if !e164Re.MatchString(phone) {
		return ErrInvalidPhoneNumber
	}
	return nil
}

// PhoneFelt packs a validated E.164 phone string into a field element using
// the short-string encoding.
func PhoneFelt(phone string) (starknet.Felt, error) {
	if err := ValidatePhone(phone); err != nil {
		return starknet.Felt{}, err
	}
	f, err := starknet.FeltFromShortString(phone)
	if err != nil {
		return starknet.Felt{}, ErrPhoneNumberTooLong
	}
	return f, nil
}

// Deriver computes the deterministic account address for a phone number. It
// holds the fixed, globally-known factory address and account class hash, so
// the same phone string always yields the same address across restarts.
type Deriver struct {
	factory   starknet.Felt
	classHash starknet.Felt
}

// NewDeriver returns a Deriver for the given factory address and account
// class hash, both 0x-prefixed hex.
func NewDeriver(factoryHex, classHashHex string) (*Deriver, error) {
	factory, err := starknet.FeltFromHex(factoryHex)
	if err != nil {
		return nil, err
	}
	classHash, err := starknet.FeltFromHex(classHashHex)
	if err != nil {
		return nil, err
	}
	return &Deriver{factory: factory, classHash: classHash}, nil
}

// Derive returns the account address for phone. The salt is the Starknet
// Keccak of the packed phone bytes, and the address follows the deterministic
// deployment formula with empty constructor calldata. Distinct phones yield
// distinct addresses with overwhelming probability (a property of Keccak-256
// collision resistance, not an absolute guarantee).
func (d *Deriver) Derive(phone string) (starknet.Felt, error) {
	packed, err := PhoneFelt(phone)
	if err != nil {
		return starknet.Felt{}, err
	}
	salt := starknet.Keccak(packed.Bytes())
	return starknet.ContractAddress(d.factory, salt, d.classHash, nil), nil
}
