package vault

import (
	"fmt"
	"math/big"

	"cipherlend/core/types"
)

// RequestWithdraw approves the smaller of requested and the account's
// withdrawable stake, removes it from the stake and marks the approved amount
// for public decryption. The returned request id is redeemed later by
// FinalizeWithdraw once the amount has been disclosed.
func (e *Engine) RequestWithdraw(account [20]byte, requested types.Handle) (*WithdrawRequest, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := e.requireAllowed(requested, account); err != nil {
		return nil, err
	}
	pos, err := e.Position(account)
	if err != nil {
		return nil, err
	}
	withdrawable, err := e.withdrawable(pos)
	if err != nil {
		return nil, err
	}
	actual, err := e.min(requested, withdrawable)
	if err != nil {
		return nil, err
	}
	remaining, underflow, err := e.backend.SaturatingSub(pos.Stake, actual)
	if err != nil {
		return nil, err
	}
	// actual never exceeds the stake; the clamp keeps the stake intact if it did.
	if pos.Stake, err = e.backend.Select(underflow, pos.Stake, remaining); err != nil {
		return nil, err
	}
	if err := e.setPosition(account, pos); err != nil {
		return nil, err
	}
	if err := e.grant(account, actual); err != nil {
		return nil, err
	}
	if err := e.backend.MakePubliclyDecryptable(actual); err != nil {
		return nil, err
	}
	id, err := e.state.NextWithdrawRequestID()
	if err != nil {
		return nil, err
	}
	req := &WithdrawRequest{ID: id, Recipient: account, Amount: actual}
	if err := e.state.PutWithdrawRequest(req); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawRequestedEvent(req))
	return req.Clone(), nil
}

// FinalizeWithdraw redeems request id by paying out cleartext, which proof
// must attest as the opening of the request's approved amount. The request is
// consumed before the payout, so a second finalize fails with
// ErrInvalidWithdrawRequest.
func (e *Engine) FinalizeWithdraw(id uint64, cleartext uint64, proof []byte) (*WithdrawRequest, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrInvalidWithdrawRequest
	}
	req, ok, err := e.state.WithdrawRequest(id)
	if err != nil {
		return nil, err
	}
	if !ok || req == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWithdrawRequest, id)
	}
	if err := e.state.DeleteWithdrawRequest(id); err != nil {
		return nil, err
	}
	if err := e.backend.VerifyDecryptionProof(req.Amount, cleartext, proof); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecryptionProof, err)
	}
	payout := new(big.Int).SetUint64(cleartext)
	if err := e.bank.Transfer(e.moduleAddress, req.Recipient, payout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}
	e.emit(NewWithdrawFinalizedEvent(req, cleartext))
	return req, nil
}

// WithdrawRequest returns the pending request with the given id.
func (e *Engine) WithdrawRequest(id uint64) (*WithdrawRequest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if id == 0 {
		return nil, ErrInvalidWithdrawRequest
	}
	req, ok, err := e.state.WithdrawRequest(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWithdrawRequest, id)
	}
	return req, nil
}
