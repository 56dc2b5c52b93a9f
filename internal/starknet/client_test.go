package starknet

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func rpcServer(t *testing.T, handler func(method string, params json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_Nonce(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		if method != "starknet_getNonce" {
			t.Errorf("method = %q, want starknet_getNonce", method)
		}
		var p struct {
			BlockID         string `json:"block_id"`
			ContractAddress string `json:"contract_address"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		if p.BlockID != "pending" {
			t.Errorf("block_id = %q, want pending", p.BlockID)
		}
		return "0x2a", nil
	})
	defer srv.Close()

	nonce, err := NewClient(srv.URL).Nonce(context.Background(), FeltFromUint64(0x1234))
	if err != nil {
		t.Fatalf("Nonce: %v", err)
	}
	if nonce.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("nonce = %v, want 42", nonce)
	}
}

func TestClient_AddInvoke(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		if method != "starknet_addInvokeTransaction" {
			t.Errorf("method = %q, want starknet_addInvokeTransaction", method)
		}
		var p struct {
			Invoke invokeJSON `json:"invoke_transaction"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		if p.Invoke.Type != "INVOKE" || p.Invoke.Version != "0x1" {
			t.Errorf("transaction envelope = %s %s, want INVOKE 0x1", p.Invoke.Type, p.Invoke.Version)
		}
		if p.Invoke.Nonce != "0x7" {
			t.Errorf("nonce = %q, want 0x7", p.Invoke.Nonce)
		}
		return map[string]string{"transaction_hash": "0xabc"}, nil
	})
	defer srv.Close()

	hash, err := NewClient(srv.URL).AddInvoke(context.Background(), Invoke{
		Sender:   FeltFromUint64(0x1234),
		Calldata: []Felt{FeltFromUint64(1)},
		Nonce:    big.NewInt(7),
		MaxFee:   big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("AddInvoke: %v", err)
	}
	if hash != "0xabc" {
		t.Errorf("hash = %q, want 0xabc", hash)
	}
}

func TestClient_ChainErrorForwardedVerbatim(t *testing.T) {
	calls := 0
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		calls++
		return nil, &rpcError{Code: 55, Message: "Account validation failed"}
	})
	defer srv.Close()

	_, err := NewClient(srv.URL).AddInvoke(context.Background(), Invoke{
		Sender: FeltFromUint64(1), Nonce: big.NewInt(0), MaxFee: big.NewInt(1),
	})
	var ce *ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ChainError", err)
	}
	if ce.Code != 55 || ce.Message != "Account validation failed" {
		t.Errorf("chain error = %d %q, want 55 \"Account validation failed\"", ce.Code, ce.Message)
	}
	if calls != 1 {
		t.Errorf("node called %d times, chain errors must not be retried", calls)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer srv.Close()

	nonce, err := NewClient(srv.URL).Nonce(context.Background(), FeltFromUint64(1))
	if err != nil {
		t.Fatalf("Nonce after retries: %v", err)
	}
	if nonce.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("nonce = %v, want 1", nonce)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("node called %d times, want 3", got)
	}
}

func TestClient_EstimateFee(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		if method != "starknet_estimateFee" {
			t.Errorf("method = %q, want starknet_estimateFee", method)
		}
		var p struct {
			SimulationFlags []string `json:"simulation_flags"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		if len(p.SimulationFlags) != 1 || p.SimulationFlags[0] != "SKIP_VALIDATE" {
			t.Errorf("simulation_flags = %v, want [SKIP_VALIDATE]", p.SimulationFlags)
		}
		return []map[string]string{{"overall_fee": "0x3e8"}}, nil
	})
	defer srv.Close()

	fee, err := NewClient(srv.URL).EstimateFee(context.Background(), Invoke{
		Sender: FeltFromUint64(1), Nonce: big.NewInt(0), MaxFee: big.NewInt(0),
	})
	if err != nil {
		t.Fatalf("EstimateFee: %v", err)
	}
	if fee.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("fee = %v, want 1000", fee)
	}
}

func TestClient_TransactionStatus(t *testing.T) {
	cases := []struct {
		name      string
		finality  string
		execution string
		want      TxStatus
	}{
		{"accepted on l2", "ACCEPTED_ON_L2", "SUCCEEDED", TxStatusAccepted},
		{"accepted on l1", "ACCEPTED_ON_L1", "SUCCEEDED", TxStatusAccepted},
		{"reverted", "ACCEPTED_ON_L2", "REVERTED", TxStatusRejected},
		{"rejected", "REJECTED", "", TxStatusRejected},
		{"received", "RECEIVED", "", TxStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
				return map[string]string{
					"finality_status":  tc.finality,
					"execution_status": tc.execution,
				}, nil
			})
			defer srv.Close()

			got, err := NewClient(srv.URL).TransactionStatus(context.Background(), "0xabc")
			if err != nil {
				t.Fatalf("TransactionStatus: %v", err)
			}
			if got != tc.want {
				t.Errorf("status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClient_TransactionStatus_UnknownHash(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: 29, Message: "Transaction hash not found"}
	})
	defer srv.Close()

	got, err := NewClient(srv.URL).TransactionStatus(context.Background(), "0xdead")
	if err != nil {
		t.Fatalf("TransactionStatus: %v", err)
	}
	if got != TxStatusUnknown {
		t.Errorf("status = %q, want %q", got, TxStatusUnknown)
	}
}

func TestIsNonceError(t *testing.T) {
	if !IsNonceError(&ChainError{Code: 52, Message: "Invalid transaction nonce"}) {
		t.Error("code 52 should be a nonce error")
	}
	if !IsNonceError(&ChainError{Code: 55, Message: "account nonce mismatch"}) {
		t.Error("nonce-mentioning message should be a nonce error")
	}
	if IsNonceError(&ChainError{Code: 55, Message: "Account validation failed"}) {
		t.Error("unrelated chain error should not be a nonce error")
	}
	if IsNonceError(errors.New("dial tcp: connection refused")) {
		t.Error("transport error should not be a nonce error")
	}
}
