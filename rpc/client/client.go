package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"cipherlend/core/types"
	"cipherlend/fhe"
	"cipherlend/native/bank"
	nativecommon "cipherlend/native/common"
	"cipherlend/native/ctoken"
	"cipherlend/native/vault"
	"cipherlend/rpc"
)

// Config controls how the Client connects to a vaultd RPC endpoint.
type Config struct {
	BaseURL         string
	BearerToken     string
	TLSClientCAFile string
	AllowInsecure   bool
	Timeout         time.Duration
}

// Client is a typed JSON-RPC client for the vault node.
type Client struct {
	baseURL string
	http    *http.Client
	bearer  string
	nextID  atomic.Uint64
}

// NewClient constructs a Client from the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(baseURL, "https://") {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.AllowInsecure {
			tlsConfig.InsecureSkipVerify = true
		} else {
			pool, err := x509.SystemCertPool()
			if err != nil || pool == nil {
				pool = x509.NewCertPool()
			}
			if path := strings.TrimSpace(cfg.TLSClientCAFile); path != "" {
				pemBytes, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("read client ca file: %w", err)
				}
				if !pool.AppendCertsFromPEM(pemBytes) {
					return nil, fmt.Errorf("append client ca certificates: invalid pem data")
				}
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		bearer:  strings.TrimSpace(cfg.BearerToken),
	}, nil
}

// Error is a JSON-RPC error returned by the node. It unwraps to the domain
// sentinel matching its code, so callers can classify it with errors.Is.
type Error struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var codeSentinels = map[int]error{
	rpc.CodeZeroAmount:             vault.ErrZeroAmount,
	rpc.CodeAmountTooLarge:         vault.ErrAmountTooLarge,
	rpc.CodeInvalidWithdrawRequest: vault.ErrInvalidWithdrawRequest,
	rpc.CodeInvalidProof:           vault.ErrInvalidDecryptionProof,
	rpc.CodePayoutFailed:           vault.ErrPayoutFailed,
	rpc.CodeInsufficientBalance:    bank.ErrInsufficientBalance,
	rpc.CodeForbidden:              vault.ErrHandleNotAllowed,
	rpc.CodeUnauthorizedCaller:     ctoken.ErrUnauthorizedCaller,
	rpc.CodeNotDisclosed:           fhe.ErrNotPublic,
	rpc.CodeModulePaused:           nativecommon.ErrModulePaused,
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return codeSentinels[e.Code]
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// UnmarshalJSON decodes the wire error object.
func (e *Error) UnmarshalJSON(data []byte) error {
	var wire struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.Code, e.Message, e.Data = wire.Code, wire.Message, wire.Data
	return nil
}

// Call performs a JSON-RPC request with params as the single positional
// parameter and decodes the result into result when it is non-nil.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	reqBody := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method}
	if params != nil {
		reqBody.Params = []any{params}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Client", "vault-cli")
	if c.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call rpc: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("rpc call failed with status %s", resp.Status)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (c *Client) handleCall(ctx context.Context, method string, params any) (types.Handle, error) {
	var out rpc.HandleResult
	if err := c.Call(ctx, method, params, &out); err != nil {
		return types.ZeroHandle, err
	}
	return out.Handle, nil
}

// Stake deposits amount of the base asset from account.
func (c *Client) Stake(ctx context.Context, account string, amount *uint256.Int) (types.Handle, error) {
	if amount == nil {
		return types.ZeroHandle, fmt.Errorf("amount required")
	}
	return c.handleCall(ctx, "vault_stake", rpc.StakeParams{Account: account, Amount: amount.Dec()})
}

// Borrow requests an encrypted loan and returns the minted handle.
func (c *Client) Borrow(ctx context.Context, account string, amount types.Handle) (types.Handle, error) {
	return c.handleCall(ctx, "vault_borrow", rpc.HandleAmountParams{Account: account, Amount: amount})
}

// Repay burns up to amount of the stable token and returns the burned handle.
func (c *Client) Repay(ctx context.Context, account string, amount types.Handle) (types.Handle, error) {
	return c.handleCall(ctx, "vault_repay", rpc.HandleAmountParams{Account: account, Amount: amount})
}

// RequestWithdraw opens a withdrawal request for up to amount.
func (c *Client) RequestWithdraw(ctx context.Context, account string, amount types.Handle) (*rpc.WithdrawRequestResult, error) {
	var out rpc.WithdrawRequestResult
	if err := c.Call(ctx, "vault_requestWithdraw", rpc.HandleAmountParams{Account: account, Amount: amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FinalizeWithdraw pays out a request using an oracle disclosure.
func (c *Client) FinalizeWithdraw(ctx context.Context, id, cleartext uint64, proof []byte) (*rpc.WithdrawRequestResult, error) {
	var out rpc.WithdrawRequestResult
	params := rpc.FinalizeParams{RequestID: id, ClearAmount: strconv.FormatUint(cleartext, 10), Proof: proof}
	if err := c.Call(ctx, "vault_finalizeWithdraw", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Withdrawable returns a handle holding account's current withdrawable stake.
func (c *Client) Withdrawable(ctx context.Context, account string) (types.Handle, error) {
	return c.handleCall(ctx, "vault_withdrawable", rpc.AccountParams{Account: account})
}

// Position returns account's encrypted stake and debt.
func (c *Client) Position(ctx context.Context, account string) (*rpc.PositionResult, error) {
	var out rpc.PositionResult
	if err := c.Call(ctx, "vault_getPosition", rpc.AccountParams{Account: account}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WithdrawRequest looks up a pending request.
func (c *Client) WithdrawRequest(ctx context.Context, id uint64) (*rpc.WithdrawRequestResult, error) {
	var out rpc.WithdrawRequestResult
	if err := c.Call(ctx, "vault_getWithdrawRequest", rpc.RequestIDParams{RequestID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events pages through the committed event log.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]rpc.EventResult, error) {
	var out []rpc.EventResult
	if err := c.Call(ctx, "vault_events", rpc.EventsParams{After: after, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encrypt registers value as an input usable by account.
func (c *Client) Encrypt(ctx context.Context, account string, value uint64) (types.Handle, error) {
	return c.handleCall(ctx, "fhe_encrypt", rpc.EncryptParams{Account: account, Value: strconv.FormatUint(value, 10)})
}

// UserDecrypt opens a handle account holds a grant on.
func (c *Client) UserDecrypt(ctx context.Context, account string, h types.Handle) (uint64, error) {
	var out rpc.DecryptResult
	if err := c.Call(ctx, "fhe_userDecrypt", rpc.UserDecryptParams{Account: account, Handle: h}, &out); err != nil {
		return 0, err
	}
	return strconv.ParseUint(out.Value, 10, 64)
}

// PublicDecrypt asks the node's oracle to disclose a publicly decryptable
// handle together with its proof.
func (c *Client) PublicDecrypt(ctx context.Context, h types.Handle) (uint64, []byte, error) {
	var out rpc.PublicDecryptResult
	if err := c.Call(ctx, "fhe_publicDecrypt", rpc.PublicDecryptParams{Handle: h}, &out); err != nil {
		return 0, nil, err
	}
	value, err := strconv.ParseUint(out.ClearAmount, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("decode clear amount: %w", err)
	}
	return value, out.Proof, nil
}

// BankBalance returns account's cleartext base-asset balance.
func (c *Client) BankBalance(ctx context.Context, account string) (string, error) {
	var out rpc.BalanceResult
	if err := c.Call(ctx, "bank_getBalance", rpc.AccountParams{Account: account}, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

// TokenBalance returns account's encrypted stable-token balance handle.
func (c *Client) TokenBalance(ctx context.Context, account string) (types.Handle, error) {
	var out rpc.TokenBalanceResult
	if err := c.Call(ctx, "token_getBalance", rpc.AccountParams{Account: account}, &out); err != nil {
		return types.ZeroHandle, err
	}
	return out.Balance, nil
}
