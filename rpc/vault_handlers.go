package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"cipherlend/crypto"
	"cipherlend/native/vault"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func decodeParams(params []json.RawMessage, out interface{}) error {
	if len(params) != 1 {
		return invalidParams("expected a single parameter object")
	}
	dec := json.NewDecoder(bytes.NewReader(params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("invalid parameter object: %v", err)
	}
	return nil
}

func parseAccount(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, invalidParams("account required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, invalidParams("invalid account: %v", err)
	}
	return addr, nil
}

// ownAccount decodes value and checks that p may act for it.
func ownAccount(p *principal, value string) ([20]byte, error) {
	addr, err := parseAccount(value)
	if err != nil {
		return [20]byte{}, err
	}
	if rpcErr := p.authorizeAccount(addr); rpcErr != nil {
		return [20]byte{}, rpcErr
	}
	return addr.Raw(), nil
}

func parseUint64(field, value string) (uint64, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, invalidParams("invalid %s: %v", field, err)
	}
	return parsed, nil
}

func (s *Server) handleStake(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error) {
	var req StakeParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	account, err := ownAccount(p, req.Account)
	if err != nil {
		return nil, err
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, invalidParams("invalid amount: %v", err)
	}
	h, err := s.node.Stake(ctx, account, amount)
	if err != nil {
		return nil, err
	}
	return HandleResult{Handle: h}, nil
}

func (s *Server) handleBorrow(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error) {
	var req HandleAmountParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	account, err := ownAccount(p, req.Account)
	if err != nil {
		return nil, err
	}
	minted, err := s.node.Borrow(ctx, account, req.Amount)
	if err != nil {
		return nil, err
	}
	return HandleResult{Handle: minted}, nil
}

func (s *Server) handleRepay(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error) {
	var req HandleAmountParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	account, err := ownAccount(p, req.Account)
	if err != nil {
		return nil, err
	}
	burned, err := s.node.Repay(ctx, account, req.Amount)
	if err != nil {
		return nil, err
	}
	return HandleResult{Handle: burned}, nil
}

func (s *Server) handleRequestWithdraw(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error) {
	var req HandleAmountParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	account, err := ownAccount(p, req.Account)
	if err != nil {
		return nil, err
	}
	request, err := s.node.RequestWithdraw(ctx, account, req.Amount)
	if err != nil {
		return nil, err
	}
	return requestResult(request), nil
}

// handleFinalizeWithdraw is open to any authenticated caller: the decryption
// proof, not the caller, authorises the payout.
func (s *Server) handleFinalizeWithdraw(ctx context.Context, _ *principal, params []json.RawMessage) (interface{}, error) {
	var req FinalizeParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	cleartext, err := parseUint64("clearAmount", req.ClearAmount)
	if err != nil {
		return nil, err
	}
	request, err := s.node.FinalizeWithdraw(ctx, req.RequestID, cleartext, req.Proof)
	if err != nil {
		return nil, err
	}
	return requestResult(request), nil
}

func (s *Server) handleWithdrawable(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error) {
	var req AccountParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	account, err := ownAccount(p, req.Account)
	if err != nil {
		return nil, err
	}
	h, err := s.node.Withdrawable(ctx, account)
	if err != nil {
		return nil, err
	}
	return HandleResult{Handle: h}, nil
}

func (s *Server) handleGetPosition(ctx context.Context, _ *principal, params []json.RawMessage) (interface{}, error) {
	var req AccountParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	addr, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	pos, err := s.node.Position(ctx, addr.Raw())
	if err != nil {
		return nil, err
	}
	return PositionResult{Account: addr.String(), Stake: pos.Stake, Debt: pos.Debt}, nil
}

func (s *Server) handleGetWithdrawRequest(ctx context.Context, _ *principal, params []json.RawMessage) (interface{}, error) {
	var req RequestIDParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	request, err := s.node.WithdrawRequest(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	return requestResult(request), nil
}

func (s *Server) handleEvents(ctx context.Context, _ *principal, params []json.RawMessage) (interface{}, error) {
	req := EventsParams{}
	if len(params) > 0 {
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	logged, err := s.node.Events(ctx, req.After, limit)
	if err != nil {
		return nil, err
	}
	out := make([]EventResult, 0, len(logged))
	for _, entry := range logged {
		if entry.Event == nil {
			continue
		}
		out = append(out, EventResult{
			Sequence:   entry.Sequence,
			Type:       entry.Event.Type,
			Attributes: entry.Event.Attributes,
		})
	}
	return out, nil
}

func requestResult(req *vault.WithdrawRequest) WithdrawRequestResult {
	return WithdrawRequestResult{
		RequestID: req.ID,
		Recipient: crypto.AddressFromRaw(req.Recipient).String(),
		Amount:    req.Amount,
	}
}
