// Package ctoken implements the confidential stable token: balances are
// ciphertext handles and every movement is computed obliviously.
package ctoken

import (
	"errors"
	"fmt"

	"cipherlend/core/events"
	"cipherlend/core/types"
	"cipherlend/crypto"
	nativecommon "cipherlend/native/common"
)

const (
	// ModuleName identifies the token in pause configuration.
	ModuleName = "ctoken"
	// Symbol is the ticker reported to clients.
	Symbol = "CUSD"
)

const (
	EventTypeMinted   = "ctoken.minted"
	EventTypeBurned   = "ctoken.burned"
	EventTypeTransfer = "ctoken.transfer"
)

var (
	// ErrUnauthorizedCaller is returned when anyone but the minter mints or burns.
	ErrUnauthorizedCaller = errors.New("ctoken: caller is not the minter")
	// ErrHandleNotAllowed is returned when a sender supplies a ciphertext it
	// holds no grant for.
	ErrHandleNotAllowed = errors.New("ctoken: ciphertext not allowed for caller")

	errNilState   = errors.New("ctoken: state not configured")
	errNilBackend = errors.New("ctoken: arithmetic backend not configured")
)

// Backend is the subset of encrypted arithmetic the token needs.
type Backend interface {
	Encrypt(value uint64) (types.Handle, error)
	Add(a, b types.Handle) (types.Handle, error)
	Sub(a, b types.Handle) (types.Handle, error)
	Le(a, b types.Handle) (types.Handle, error)
	Select(flag, ifTrue, ifFalse types.Handle) (types.Handle, error)
	Allow(h types.Handle, principal [20]byte) error
	IsAllowed(h types.Handle, principal [20]byte) (bool, error)
}

type tokenState interface {
	TokenBalance(addr [20]byte) (types.Handle, error)
	SetTokenBalance(addr [20]byte, h types.Handle) error
	TokenSupply() (types.Handle, error)
	SetTokenSupply(h types.Handle) error
}

// Token is the confidential stable asset. Only the minter may create or
// destroy supply.
type Token struct {
	state         tokenState
	backend       Backend
	minter        [20]byte
	moduleAddress [20]byte
	emitter       events.Emitter
	pauses        nativecommon.PauseView
}

// NewToken constructs a token whose supply is controlled by minter.
func NewToken(state tokenState, backend Backend, minter [20]byte) *Token {
	return &Token{
		state:         state,
		backend:       backend,
		minter:        minter,
		moduleAddress: crypto.ModuleAddress(ModuleName).Raw(),
		emitter:       events.NoopEmitter{},
	}
}

func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	t.emitter = emitter
}

func (t *Token) SetPauses(p nativecommon.PauseView) { t.pauses = p }

func (t *Token) ready() error {
	if t == nil || t.state == nil {
		return errNilState
	}
	if t.backend == nil {
		return errNilBackend
	}
	return nativecommon.Guard(t.pauses, ModuleName)
}

// Balance returns the encrypted balance handle of account.
func (t *Token) Balance(account [20]byte) (types.Handle, error) {
	if t == nil || t.state == nil {
		return types.ZeroHandle, errNilState
	}
	return t.state.TokenBalance(account)
}

// TotalSupply returns the encrypted supply handle.
func (t *Token) TotalSupply() (types.Handle, error) {
	if t == nil || t.state == nil {
		return types.ZeroHandle, errNilState
	}
	return t.state.TokenSupply()
}

// Mint credits amount to account and returns the minted handle.
func (t *Token) Mint(caller, account [20]byte, amount types.Handle) (types.Handle, error) {
	if err := t.ready(); err != nil {
		return types.ZeroHandle, err
	}
	if caller != t.minter {
		return types.ZeroHandle, ErrUnauthorizedCaller
	}
	balance, err := t.state.TokenBalance(account)
	if err != nil {
		return types.ZeroHandle, err
	}
	if balance, err = t.backend.Add(balance, amount); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.setBalance(account, balance); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.adjustSupply(amount, true); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.allow(amount, account, caller); err != nil {
		return types.ZeroHandle, err
	}
	t.emit(EventTypeMinted, map[string]string{
		"account": crypto.AddressFromRaw(account).String(),
		"amount":  amount.Hex(),
	})
	return amount, nil
}

// BurnFrom destroys amount from account if the balance covers it and nothing
// otherwise. The returned handle holds what was actually burned.
func (t *Token) BurnFrom(caller, account [20]byte, amount types.Handle) (types.Handle, error) {
	if err := t.ready(); err != nil {
		return types.ZeroHandle, err
	}
	if caller != t.minter {
		return types.ZeroHandle, ErrUnauthorizedCaller
	}
	balance, err := t.state.TokenBalance(account)
	if err != nil {
		return types.ZeroHandle, err
	}
	burned, err := t.coveredAmount(amount, balance)
	if err != nil {
		return types.ZeroHandle, err
	}
	if balance, err = t.backend.Sub(balance, burned); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.setBalance(account, balance); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.adjustSupply(burned, false); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.allow(burned, account, caller); err != nil {
		return types.ZeroHandle, err
	}
	t.emit(EventTypeBurned, map[string]string{
		"account": crypto.AddressFromRaw(account).String(),
		"amount":  burned.Hex(),
	})
	return burned, nil
}

// Transfer moves amount from sender to recipient when the sender's balance
// covers it; otherwise it moves nothing. The returned handle holds what moved.
func (t *Token) Transfer(from, to [20]byte, amount types.Handle) (types.Handle, error) {
	if err := t.ready(); err != nil {
		return types.ZeroHandle, err
	}
	ok, err := t.backend.IsAllowed(amount, from)
	if err != nil {
		return types.ZeroHandle, err
	}
	if !ok {
		return types.ZeroHandle, fmt.Errorf("%w: %s", ErrHandleNotAllowed, amount)
	}
	fromBalance, err := t.state.TokenBalance(from)
	if err != nil {
		return types.ZeroHandle, err
	}
	moved, err := t.coveredAmount(amount, fromBalance)
	if err != nil {
		return types.ZeroHandle, err
	}
	if fromBalance, err = t.backend.Sub(fromBalance, moved); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.setBalance(from, fromBalance); err != nil {
		return types.ZeroHandle, err
	}
	toBalance, err := t.state.TokenBalance(to)
	if err != nil {
		return types.ZeroHandle, err
	}
	if toBalance, err = t.backend.Add(toBalance, moved); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.setBalance(to, toBalance); err != nil {
		return types.ZeroHandle, err
	}
	if err := t.allow(moved, from, to); err != nil {
		return types.ZeroHandle, err
	}
	t.emit(EventTypeTransfer, map[string]string{
		"from":   crypto.AddressFromRaw(from).String(),
		"to":     crypto.AddressFromRaw(to).String(),
		"amount": moved.Hex(),
	})
	return moved, nil
}

// coveredAmount returns amount when balance covers it and an encrypted zero
// otherwise.
func (t *Token) coveredAmount(amount, balance types.Handle) (types.Handle, error) {
	covered, err := t.backend.Le(amount, balance)
	if err != nil {
		return types.ZeroHandle, err
	}
	zero, err := t.backend.Encrypt(0)
	if err != nil {
		return types.ZeroHandle, err
	}
	return t.backend.Select(covered, amount, zero)
}

func (t *Token) setBalance(account [20]byte, balance types.Handle) error {
	if err := t.state.SetTokenBalance(account, balance); err != nil {
		return err
	}
	return t.allow(balance, account)
}

func (t *Token) adjustSupply(delta types.Handle, increase bool) error {
	supply, err := t.state.TokenSupply()
	if err != nil {
		return err
	}
	if increase {
		supply, err = t.backend.Add(supply, delta)
	} else {
		supply, err = t.backend.Sub(supply, delta)
	}
	if err != nil {
		return err
	}
	if err := t.state.SetTokenSupply(supply); err != nil {
		return err
	}
	return t.allow(supply)
}

// allow grants the token module and the given principals access to h.
func (t *Token) allow(h types.Handle, principals ...[20]byte) error {
	if err := t.backend.Allow(h, t.moduleAddress); err != nil {
		return err
	}
	for _, p := range principals {
		if err := t.backend.Allow(h, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *Token) emit(eventType string, attrs map[string]string) {
	if t.emitter == nil {
		return
	}
	t.emitter.Emit(events.Static{Payload: &types.Event{Type: eventType, Attributes: attrs}})
}
