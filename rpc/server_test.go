package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"cipherlend/core"
	"cipherlend/core/genesis"
	"cipherlend/core/types"
	"cipherlend/crypto"
	"cipherlend/fhe"
	"cipherlend/storage"
)

const testSecret = "rpc-test-secret"

var (
	alice = crypto.AddressFromRaw([20]byte{0xa1})
	bob   = crypto.AddressFromRaw([20]byte{0xb0})
)

type rpcHarness struct {
	server *Server
	http   *httptest.Server
	oracle *fhe.Oracle
}

func newRPCHarness(t *testing.T, cfg ServerConfig) *rpcHarness {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.Config{OracleAddress: key.PubKey().Address()})
	require.NoError(t, err)
	_, err = node.ApplyGenesis(context.Background(), []genesis.Allocation{{Account: alice.Raw(), Amount: big.NewInt(100)}})
	require.NoError(t, err)
	oracle, err := fhe.NewOracle(key, node)
	require.NoError(t, err)
	server, err := NewServer(node, oracle, cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &rpcHarness{server: server, http: ts, oracle: oracle}
}

func authConfig() ServerConfig {
	return ServerConfig{Auth: AuthConfig{Secret: testSecret, Operators: []string{"relayer"}}}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "", subject, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *rpcHarness) call(t *testing.T, bearer, method string, params interface{}) (*http.Response, RPCResponse) {
	t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq, err := http.NewRequest(http.MethodPost, h.http.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (h *rpcHarness) mustCall(t *testing.T, bearer, method string, params, result interface{}) {
	t.Helper()
	_, resp := h.call(t, bearer, method, params)
	require.Nil(t, resp.Error, "%s failed: %+v", method, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, result))
}

func (h *rpcHarness) encrypt(t *testing.T, bearer string, value string) types.Handle {
	t.Helper()
	var res HandleResult
	h.mustCall(t, bearer, "fhe_encrypt", EncryptParams{Account: alice.String(), Value: value}, &res)
	return res.Handle
}

func TestVaultLifecycleOverRPC(t *testing.T) {
	h := newRPCHarness(t, authConfig())
	aliceTok := token(t, alice.String())

	var staked HandleResult
	h.mustCall(t, aliceTok, "vault_stake", StakeParams{Account: alice.String(), Amount: "60"}, &staked)

	var minted HandleResult
	h.mustCall(t, aliceTok, "vault_borrow", HandleAmountParams{Account: alice.String(), Amount: h.encrypt(t, aliceTok, "20")}, &minted)

	var opened DecryptResult
	h.mustCall(t, aliceTok, "fhe_userDecrypt", UserDecryptParams{Account: alice.String(), Handle: minted.Handle}, &opened)
	require.Equal(t, "20", opened.Value)

	var request WithdrawRequestResult
	h.mustCall(t, aliceTok, "vault_requestWithdraw", HandleAmountParams{Account: alice.String(), Amount: h.encrypt(t, aliceTok, "50")}, &request)
	require.Equal(t, uint64(1), request.RequestID)
	require.Equal(t, alice.String(), request.Recipient)

	var disclosed PublicDecryptResult
	h.mustCall(t, "", "fhe_publicDecrypt", PublicDecryptParams{Handle: request.Amount}, &disclosed)
	require.Equal(t, "20", disclosed.ClearAmount)

	var finalized WithdrawRequestResult
	h.mustCall(t, token(t, "relayer"), "vault_finalizeWithdraw", FinalizeParams{
		RequestID:   request.RequestID,
		ClearAmount: disclosed.ClearAmount,
		Proof:       disclosed.Proof,
	}, &finalized)
	require.Equal(t, request.RequestID, finalized.RequestID)

	var balance BalanceResult
	h.mustCall(t, "", "bank_getBalance", AccountParams{Account: alice.String()}, &balance)
	require.Equal(t, "60", balance.Balance)

	var evts []EventResult
	h.mustCall(t, "", "vault_events", EventsParams{}, &evts)
	require.NotEmpty(t, evts)
	require.Equal(t, "vault.withdraw_finalized", evts[len(evts)-1].Type)

	_, resp := h.call(t, "", "vault_getWithdrawRequest", RequestIDParams{RequestID: request.RequestID})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidWithdrawRequest, resp.Error.Code)
}

func TestAuthRejections(t *testing.T) {
	h := newRPCHarness(t, authConfig())

	httpResp, resp := h.call(t, "", "vault_stake", StakeParams{Account: alice.String(), Amount: "1"})
	require.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	_, resp = h.call(t, "not-a-jwt", "vault_stake", StakeParams{Account: alice.String(), Amount: "1"})
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	httpResp, resp = h.call(t, token(t, bob.String()), "vault_stake", StakeParams{Account: alice.String(), Amount: "1"})
	require.Equal(t, http.StatusForbidden, httpResp.StatusCode)
	require.Equal(t, CodeForbidden, resp.Error.Code)

	forged, err := IssueToken("other-secret", "", alice.String(), time.Hour)
	require.NoError(t, err)
	_, resp = h.call(t, forged, "vault_stake", StakeParams{Account: alice.String(), Amount: "1"})
	require.Equal(t, CodeUnauthorized, resp.Error.Code)
}

func TestDomainErrorCodes(t *testing.T) {
	h := newRPCHarness(t, ServerConfig{})

	_, resp := h.call(t, "", "vault_stake", StakeParams{Account: alice.String(), Amount: "0"})
	require.Equal(t, CodeZeroAmount, resp.Error.Code)
	require.Equal(t, "zero_amount", resp.Error.Data)

	_, resp = h.call(t, "", "vault_stake", StakeParams{Account: alice.String(), Amount: "18446744073709551616"})
	require.Equal(t, CodeAmountTooLarge, resp.Error.Code)

	_, resp = h.call(t, "", "vault_stake", StakeParams{Account: alice.String(), Amount: "101"})
	require.Equal(t, CodeInsufficientBalance, resp.Error.Code)

	_, resp = h.call(t, "", "vault_finalizeWithdraw", FinalizeParams{RequestID: 9, ClearAmount: "1"})
	require.Equal(t, CodeInvalidWithdrawRequest, resp.Error.Code)

	var stakeHandle HandleResult
	h.mustCall(t, "", "vault_stake", StakeParams{Account: alice.String(), Amount: "10"}, &stakeHandle)

	// bob holds no grant on alice's stake handle.
	_, resp = h.call(t, "", "vault_borrow", HandleAmountParams{Account: bob.String(), Amount: stakeHandle.Handle})
	require.Equal(t, CodeForbidden, resp.Error.Code)

	var request WithdrawRequestResult
	h.mustCall(t, "", "vault_requestWithdraw", HandleAmountParams{Account: alice.String(), Amount: h.encrypt(t, "", "5")}, &request)
	value, proof, err := h.oracle.PublicDecrypt(request.Amount)
	require.NoError(t, err)
	require.Equal(t, uint64(5), value)

	_, resp = h.call(t, "", "vault_finalizeWithdraw", FinalizeParams{RequestID: request.RequestID, ClearAmount: "6", Proof: proof})
	require.Equal(t, CodeInvalidProof, resp.Error.Code)

	var still WithdrawRequestResult
	h.mustCall(t, "", "vault_getWithdrawRequest", RequestIDParams{RequestID: request.RequestID}, &still)
	require.Equal(t, request.Amount, still.Amount)

	_, resp = h.call(t, "", "fhe_publicDecrypt", PublicDecryptParams{Handle: stakeHandle.Handle})
	require.Equal(t, CodeNotDisclosed, resp.Error.Code)
}

func TestEnvelopeErrors(t *testing.T) {
	h := newRPCHarness(t, ServerConfig{})

	httpResp, resp := h.call(t, "", "vault_unknown", nil)
	require.Equal(t, http.StatusNotFound, httpResp.StatusCode)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)

	_, resp = h.call(t, "", "vault_getPosition", map[string]string{"account": alice.String(), "extra": "x"})
	require.Equal(t, CodeInvalidParams, resp.Error.Code)

	_, resp = h.call(t, "", "vault_getPosition", AccountParams{Account: "not-bech32"})
	require.Equal(t, CodeInvalidParams, resp.Error.Code)

	raw, err := http.Post(h.http.URL+"/", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer raw.Body.Close()
	var parsed RPCResponse
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&parsed))
	require.Equal(t, CodeParseError, parsed.Error.Code)
	require.NotEmpty(t, raw.Header.Get(requestIDHeader))
}

func TestRateLimit(t *testing.T) {
	h := newRPCHarness(t, ServerConfig{RateLimit: RateLimitConfig{RequestsPerMinute: 1, Burst: 1}})

	_, resp := h.call(t, "", "vault_getPosition", AccountParams{Account: alice.String()})
	require.Nil(t, resp.Error)

	httpResp, resp := h.call(t, "", "vault_getPosition", AccountParams{Account: alice.String()})
	require.Equal(t, http.StatusTooManyRequests, httpResp.StatusCode)
	require.Equal(t, CodeRateLimited, resp.Error.Code)
}

func TestHealthz(t *testing.T) {
	h := newRPCHarness(t, ServerConfig{})
	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStreamFollowsLog(t *testing.T) {
	h := newRPCHarness(t, ServerConfig{})
	var staked HandleResult
	h.mustCall(t, "", "vault_stake", StakeParams{Account: alice.String(), Amount: "10"}, &staked)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEvent := func() EventResult {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var evt EventResult
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	}

	var last EventResult
	for last.Type != "vault.staked" {
		last = readEvent()
	}
	backlogHead := last.Sequence

	h.mustCall(t, "", "vault_stake", StakeParams{Account: alice.String(), Amount: "5"}, &staked)
	next := readEvent()
	require.Greater(t, next.Sequence, backlogHead)
	require.Equal(t, "bank.transfer", next.Type)
}

func TestFinalizeOpenToAnyAuthenticatedCaller(t *testing.T) {
	h := newRPCHarness(t, authConfig())
	aliceTok := token(t, alice.String())

	var staked HandleResult
	h.mustCall(t, aliceTok, "vault_stake", StakeParams{Account: alice.String(), Amount: "10"}, &staked)
	var request WithdrawRequestResult
	h.mustCall(t, aliceTok, "vault_requestWithdraw", HandleAmountParams{Account: alice.String(), Amount: h.encrypt(t, aliceTok, "4")}, &request)
	var disclosed PublicDecryptResult
	h.mustCall(t, "", "fhe_publicDecrypt", PublicDecryptParams{Handle: request.Amount}, &disclosed)

	params := FinalizeParams{RequestID: request.RequestID, ClearAmount: disclosed.ClearAmount, Proof: disclosed.Proof}
	_, resp := h.call(t, "", "vault_finalizeWithdraw", params)
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeUnauthorized, resp.Error.Code)

	// bob is neither the recipient nor an operator; the proof alone authorises the payout.
	var finalized WithdrawRequestResult
	h.mustCall(t, token(t, bob.String()), "vault_finalizeWithdraw", params, &finalized)
	require.Equal(t, request.RequestID, finalized.RequestID)
	require.Equal(t, alice.String(), finalized.Recipient)
}
