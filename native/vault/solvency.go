package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"cipherlend/core/types"
)

// Stake moves amount of the base asset from account into the module account
// and adds it to the account's encrypted stake. It returns the new stake
// handle.
func (e *Engine) Stake(account [20]byte, amount *uint256.Int) (types.Handle, error) {
	if err := e.guard(); err != nil {
		return types.ZeroHandle, err
	}
	if amount == nil || amount.IsZero() {
		return types.ZeroHandle, ErrZeroAmount
	}
	if !amount.IsUint64() {
		return types.ZeroHandle, ErrAmountTooLarge
	}
	value := amount.Uint64()
	if err := e.bank.Transfer(account, e.moduleAddress, amount.ToBig()); err != nil {
		return types.ZeroHandle, fmt.Errorf("vault: collect deposit: %w", err)
	}
	deposit, err := e.backend.Encrypt(value)
	if err != nil {
		return types.ZeroHandle, err
	}
	pos, err := e.Position(account)
	if err != nil {
		return types.ZeroHandle, err
	}
	if pos.Stake, err = e.backend.Add(pos.Stake, deposit); err != nil {
		return types.ZeroHandle, err
	}
	if err := e.setPosition(account, pos); err != nil {
		return types.ZeroHandle, err
	}
	e.emit(NewStakedEvent(account, value, pos.Stake))
	return pos.Stake, nil
}

// Borrow mints up to requested stable tokens to account, capped obliviously
// at the headroom left under the loan-to-value limit. It returns the handle
// of the minted amount, which may be smaller than requested.
func (e *Engine) Borrow(account [20]byte, requested types.Handle) (types.Handle, error) {
	if err := e.guard(); err != nil {
		return types.ZeroHandle, err
	}
	if err := e.requireAllowed(requested, account); err != nil {
		return types.ZeroHandle, err
	}
	pos, err := e.Position(account)
	if err != nil {
		return types.ZeroHandle, err
	}
	maxBorrow, err := e.backend.DivScalar(pos.Stake, BorrowDivisor)
	if err != nil {
		return types.ZeroHandle, err
	}
	available, _, err := e.backend.SaturatingSub(maxBorrow, pos.Debt)
	if err != nil {
		return types.ZeroHandle, err
	}
	actual, err := e.min(requested, available)
	if err != nil {
		return types.ZeroHandle, err
	}
	if pos.Debt, err = e.backend.Add(pos.Debt, actual); err != nil {
		return types.ZeroHandle, err
	}
	if err := e.setPosition(account, pos); err != nil {
		return types.ZeroHandle, err
	}
	if err := e.grant(account, actual); err != nil {
		return types.ZeroHandle, err
	}
	minted, err := e.token.Mint(e.moduleAddress, account, actual)
	if err != nil {
		return types.ZeroHandle, fmt.Errorf("vault: mint: %w", err)
	}
	e.emit(NewBorrowedEvent(account, requested, minted))
	return minted, nil
}

// Repay burns up to requested stable tokens from account, never more than the
// outstanding debt, and reduces the debt by what was actually burned.
func (e *Engine) Repay(account [20]byte, requested types.Handle) (types.Handle, error) {
	if err := e.guard(); err != nil {
		return types.ZeroHandle, err
	}
	if err := e.requireAllowed(requested, account); err != nil {
		return types.ZeroHandle, err
	}
	pos, err := e.Position(account)
	if err != nil {
		return types.ZeroHandle, err
	}
	repayAmount, err := e.min(requested, pos.Debt)
	if err != nil {
		return types.ZeroHandle, err
	}
	if err := e.grant(account, repayAmount); err != nil {
		return types.ZeroHandle, err
	}
	burned, err := e.token.BurnFrom(e.moduleAddress, account, repayAmount)
	if err != nil {
		return types.ZeroHandle, fmt.Errorf("vault: burn: %w", err)
	}
	if pos.Debt, _, err = e.backend.SaturatingSub(pos.Debt, burned); err != nil {
		return types.ZeroHandle, err
	}
	if err := e.setPosition(account, pos); err != nil {
		return types.ZeroHandle, err
	}
	e.emit(NewRepaidEvent(account, requested, burned))
	return burned, nil
}

// Withdrawable returns the encrypted amount of stake account could withdraw
// without breaching the loan-to-value limit. Module and account are granted
// access to the result.
func (e *Engine) Withdrawable(account [20]byte) (types.Handle, error) {
	if err := e.ready(); err != nil {
		return types.ZeroHandle, err
	}
	pos, err := e.Position(account)
	if err != nil {
		return types.ZeroHandle, err
	}
	withdrawable, err := e.withdrawable(pos)
	if err != nil {
		return types.ZeroHandle, err
	}
	if err := e.grant(account, withdrawable); err != nil {
		return types.ZeroHandle, err
	}
	return withdrawable, nil
}

func (e *Engine) withdrawable(pos Position) (types.Handle, error) {
	required, err := e.backend.MulScalar(pos.Debt, BorrowDivisor)
	if err != nil {
		return types.ZeroHandle, err
	}
	withdrawable, _, err := e.backend.SaturatingSub(pos.Stake, required)
	return withdrawable, err
}

// min returns a fresh handle holding the smaller of a and b.
func (e *Engine) min(a, b types.Handle) (types.Handle, error) {
	le, err := e.backend.Le(a, b)
	if err != nil {
		return types.ZeroHandle, err
	}
	return e.backend.Select(le, a, b)
}
