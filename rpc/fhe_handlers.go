package rpc

import (
	"context"
	"encoding/json"
	"strconv"
)

// handleEncrypt registers a cleartext input for the caller. It stands in for
// client-side encryption against the development coprocessor.
func (s *Server) handleEncrypt(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error) {
	var req EncryptParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	account, err := ownAccount(p, req.Account)
	if err != nil {
		return nil, err
	}
	value, err := parseUint64("value", req.Value)
	if err != nil {
		return nil, err
	}
	h, err := s.node.EncryptInput(ctx, account, value)
	if err != nil {
		return nil, err
	}
	return HandleResult{Handle: h}, nil
}

func (s *Server) handleUserDecrypt(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error) {
	var req UserDecryptParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	account, err := ownAccount(p, req.Account)
	if err != nil {
		return nil, err
	}
	value, err := s.node.UserDecrypt(ctx, account, req.Handle)
	if err != nil {
		return nil, err
	}
	return DecryptResult{Handle: req.Handle, Value: strconv.FormatUint(value, 10)}, nil
}

func (s *Server) handlePublicDecrypt(_ context.Context, _ *principal, params []json.RawMessage) (interface{}, error) {
	if s.oracle == nil {
		return nil, &RPCError{Code: CodeServerError, Message: "decryption oracle not configured"}
	}
	var req PublicDecryptParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	value, proof, err := s.oracle.PublicDecrypt(req.Handle)
	if err != nil {
		return nil, err
	}
	return PublicDecryptResult{Handle: req.Handle, ClearAmount: strconv.FormatUint(value, 10), Proof: proof}, nil
}

func (s *Server) handleBankBalance(ctx context.Context, _ *principal, params []json.RawMessage) (interface{}, error) {
	var req AccountParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	addr, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	balance, err := s.node.BankBalance(ctx, addr.Raw())
	if err != nil {
		return nil, err
	}
	return BalanceResult{Account: addr.String(), Balance: balance.String()}, nil
}

func (s *Server) handleTokenBalance(ctx context.Context, _ *principal, params []json.RawMessage) (interface{}, error) {
	var req AccountParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	addr, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	h, err := s.node.TokenBalance(ctx, addr.Raw())
	if err != nil {
		return nil, err
	}
	return TokenBalanceResult{Account: addr.String(), Balance: h}, nil
}
