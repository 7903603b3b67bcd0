// Package bank keeps the cleartext base-asset balances that back vault
// collateral.
package bank

import (
	"errors"
	"fmt"
	"math/big"

	"cipherlend/core/events"
	"cipherlend/core/types"
	"cipherlend/crypto"
)

const EventTypeTransfer = "bank.transfer"

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrReceiveDisabled is returned when the recipient refuses transfers.
	ErrReceiveDisabled = errors.New("bank: recipient cannot receive funds")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("bank: amount must be non-negative")
)

type ledgerState interface {
	BankBalance(addr [20]byte) (*big.Int, error)
	SetBankBalance(addr [20]byte, amount *big.Int) error
	ReceiveDisabled(addr [20]byte) (bool, error)
	SetReceiveDisabled(addr [20]byte, disabled bool) error
}

// Ledger moves base-asset balances between accounts.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger constructs a ledger on top of state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Balance returns the balance held by addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	return l.state.BankBalance(addr)
}

// Credit adds amount to addr regardless of its receive flag. It is used to
// seed genesis allocations.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	balance, err := l.state.BankBalance(addr)
	if err != nil {
		return err
	}
	return l.state.SetBankBalance(addr, new(big.Int).Add(balance, amount))
}

// Debit removes amount from addr.
func (l *Ledger) Debit(addr [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	balance, err := l.state.BankBalance(addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	return l.state.SetBankBalance(addr, new(big.Int).Sub(balance, amount))
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	disabled, err := l.state.ReceiveDisabled(to)
	if err != nil {
		return err
	}
	if disabled {
		return fmt.Errorf("%w: %s", ErrReceiveDisabled, crypto.AddressFromRaw(to))
	}
	if err := l.Debit(from, amount); err != nil {
		return err
	}
	if err := l.Credit(to, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Static{Payload: &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"from":   crypto.AddressFromRaw(from).String(),
			"to":     crypto.AddressFromRaw(to).String(),
			"amount": amount.String(),
		},
	}})
	return nil
}

// SetReceiveDisabled toggles whether addr accepts incoming transfers.
func (l *Ledger) SetReceiveDisabled(addr [20]byte, disabled bool) error {
	return l.state.SetReceiveDisabled(addr, disabled)
}
