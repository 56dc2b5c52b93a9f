package starknet

import (
	"math/big"
)

// Call is a single (contract, entry point, calldata) tuple inside an invoke
// transaction.
type Call struct {
	To       Felt
	Selector Felt
	Calldata []Felt
}

// Invoke is a v1 invoke transaction ready for fee estimation or submission.
// Signature holds the canonical hex form of each signature element.
type Invoke struct {
	Sender    Felt
	Calldata  []Felt
	Nonce     *big.Int
	MaxFee    *big.Int
	Signature []string
}

// EncodeCalls flattens calls into the account __execute__ calldata layout:
// call count, per-call (to, selector, data offset, data length) headers, then
// the total data length followed by the concatenated data.
func EncodeCalls(calls []Call) []Felt {
	out := []Felt{FeltFromUint64(uint64(len(calls)))}
	var data []Felt
	for _, c := range calls {
		out = append(out,
			c.To,
			c.Selector,
			FeltFromUint64(uint64(len(data))),
			FeltFromUint64(uint64(len(c.Calldata))),
		)
		data = append(data, c.Calldata...)
	}
	out = append(out, FeltFromUint64(uint64(len(data))))
	return append(out, data...)
}

var invokePrefix = mustShortString("invoke")

// TransactionHash computes the hash of a v1 invoke transaction for chainID.
// It is the value the sender signs and the handle used to query status after
// a submission with an unknown outcome.
func TransactionHash(inv Invoke, chainID Felt) Felt {
	nonce := Felt{}
	if inv.Nonce != nil {
		nonce = NewFelt(inv.Nonce)
	}
	maxFee := Felt{}
	if inv.MaxFee != nil {
		maxFee = NewFelt(inv.MaxFee)
	}
	return HashElements(
		invokePrefix,
		FeltFromUint64(1), // version
		inv.Sender,
		HashElements(inv.Calldata...),
		maxFee,
		chainID,
		nonce,
	)
}
