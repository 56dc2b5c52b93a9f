package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultTimeout = 15 * time.Second

// TxStatus is the chain-side status of a submitted transaction.
type TxStatus string

const (
	TxStatusPending  TxStatus = "pending"
	TxStatusAccepted TxStatus = "accepted"
	TxStatusRejected TxStatus = "rejected"
	// TxStatusUnknown means the node has never seen the transaction hash.
	TxStatusUnknown TxStatus = "unknown"
)

// ChainError is a JSON-RPC error returned by the node. Chain-authoritative
// rejections (bad signature, bad account nonce) are carried verbatim in
// Message and must not be reinterpreted locally.
type ChainError struct {
	Code    int
	Message string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain error %d: %s", e.Code, e.Message)
}

const rpcInvalidNonce = 52

// IsNonceError reports whether err is the node rejecting a stale or reused
// transaction nonce.
func IsNonceError(err error) bool {
	var ce *ChainError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == rpcInvalidNonce || strings.Contains(strings.ToLower(ce.Message), "nonce")
}

// Client is a Starknet JSON-RPC client over HTTP. Transport-level failures
// are retried with exponential backoff; node-level errors are returned as
// *ChainError without retrying.
type Client struct {
	url        string
	httpClient *http.Client
	maxTries   uint
}

// NewClient returns a client for the node at url.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxTries:   3,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	raw, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			b, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("starknet: node returned status %d: %s", resp.StatusCode, string(b))
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return nil, backoff.Permanent(fmt.Errorf("starknet: node returned status %d: %s", resp.StatusCode, string(b)))
		}
		var rr rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return nil, err
		}
		if rr.Error != nil {
			return nil, backoff.Permanent(&ChainError{Code: rr.Error.Code, Message: rr.Error.Message})
		}
		return rr.Result, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

type invokeJSON struct {
	Type          string   `json:"type"`
	Version       string   `json:"version"`
	SenderAddress string   `json:"sender_address"`
	Calldata      []string `json:"calldata"`
	MaxFee        string   `json:"max_fee"`
	Signature     []string `json:"signature"`
	Nonce         string   `json:"nonce"`
}

func invokeToJSON(inv Invoke) invokeJSON {
	calldata := make([]string, len(inv.Calldata))
	for i, f := range inv.Calldata {
		calldata[i] = f.Hex()
	}
	sig := inv.Signature
	if sig == nil {
		sig = []string{}
	}
	return invokeJSON{
		Type:          "INVOKE",
		Version:       "0x1",
		SenderAddress: inv.Sender.Hex(),
		Calldata:      calldata,
		MaxFee:        "0x" + NewFelt(inv.MaxFee).BigInt().Text(16),
		Signature:     sig,
		Nonce:         "0x" + NewFelt(inv.Nonce).BigInt().Text(16),
	}
}

// Nonce returns the current transaction nonce of the account at address.
func (c *Client) Nonce(ctx context.Context, address Felt) (*big.Int, error) {
	var hexNonce string
	params := map[string]any{"block_id": "pending", "contract_address": address.Hex()}
	if err := c.call(ctx, "starknet_getNonce", params, &hexNonce); err != nil {
		return nil, err
	}
	return parseHexInt(hexNonce)
}

// EstimateFee asks the node to estimate the overall fee for inv.
func (c *Client) EstimateFee(ctx context.Context, inv Invoke) (*big.Int, error) {
	var results []struct {
		OverallFee string `json:"overall_fee"`
	}
	params := map[string]any{
		"request":          []invokeJSON{invokeToJSON(inv)},
		"simulation_flags": []string{"SKIP_VALIDATE"},
		"block_id":         "pending",
	}
	if err := c.call(ctx, "starknet_estimateFee", params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("starknet: empty fee estimate")
	}
	return parseHexInt(results[0].OverallFee)
}

// AddInvoke submits inv and returns the transaction hash assigned by the node.
func (c *Client) AddInvoke(ctx context.Context, inv Invoke) (string, error) {
	var result struct {
		TransactionHash string `json:"transaction_hash"`
	}
	params := map[string]any{"invoke_transaction": invokeToJSON(inv)}
	if err := c.call(ctx, "starknet_addInvokeTransaction", params, &result); err != nil {
		return "", err
	}
	return result.TransactionHash, nil
}

const rpcTxHashNotFound = 29

// TransactionStatus returns the status of the transaction with the given
// hash; TxStatusUnknown (with nil error) when the node has never seen it.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	var result struct {
		FinalityStatus  string `json:"finality_status"`
		ExecutionStatus string `json:"execution_status"`
	}
	params := map[string]any{"transaction_hash": hash}
	if err := c.call(ctx, "starknet_getTransactionStatus", params, &result); err != nil {
		var ce *ChainError
		if errors.As(err, &ce) && ce.Code == rpcTxHashNotFound {
			return TxStatusUnknown, nil
		}
		return TxStatusUnknown, err
	}
	switch {
	case result.ExecutionStatus == "REVERTED" || result.FinalityStatus == "REJECTED":
		return TxStatusRejected, nil
	case result.FinalityStatus == "ACCEPTED_ON_L2" || result.FinalityStatus == "ACCEPTED_ON_L1":
		return TxStatusAccepted, nil
	default:
		return TxStatusPending, nil
	}
}

func parseHexInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("starknet: invalid hex integer %q", s)
	}
	return n, nil
}
