package state

import (
	"fmt"
	"math/big"

	"cipherlend/core/types"
)

// BankBalance returns the cleartext base-asset balance of addr.
func (m *Manager) BankBalance(addr [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := m.KVGet(prefixed(bankBalancePrefix, addr[:]), balance); err != nil {
		return nil, fmt.Errorf("state: load bank balance: %w", err)
	}
	return balance, nil
}

// SetBankBalance overwrites the base-asset balance of addr.
func (m *Manager) SetBankBalance(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative bank balance")
	}
	return m.KVPut(prefixed(bankBalancePrefix, addr[:]), amount)
}

// ReceiveDisabled reports whether addr refuses incoming base-asset transfers.
func (m *Manager) ReceiveDisabled(addr [20]byte) (bool, error) {
	var disabled bool
	if _, err := m.KVGet(prefixed(bankReceiveOffKey, addr[:]), &disabled); err != nil {
		return false, fmt.Errorf("state: load receive flag: %w", err)
	}
	return disabled, nil
}

// SetReceiveDisabled toggles whether addr accepts incoming transfers.
func (m *Manager) SetReceiveDisabled(addr [20]byte, disabled bool) error {
	key := prefixed(bankReceiveOffKey, addr[:])
	if !disabled {
		return m.KVDelete(key)
	}
	return m.KVPut(key, true)
}

// TokenBalance returns the encrypted confidential-token balance of addr.
func (m *Manager) TokenBalance(addr [20]byte) (types.Handle, error) {
	var h types.Handle
	if _, err := m.KVGet(prefixed(tokenBalancePrefix, addr[:]), &h); err != nil {
		return types.ZeroHandle, fmt.Errorf("state: load token balance: %w", err)
	}
	return h, nil
}

// SetTokenBalance stores the encrypted balance handle of addr.
func (m *Manager) SetTokenBalance(addr [20]byte, h types.Handle) error {
	return m.KVPut(prefixed(tokenBalancePrefix, addr[:]), h)
}

// TokenSupply returns the encrypted total supply handle.
func (m *Manager) TokenSupply() (types.Handle, error) {
	var h types.Handle
	if _, err := m.KVGet(tokenSupplyKey, &h); err != nil {
		return types.ZeroHandle, fmt.Errorf("state: load token supply: %w", err)
	}
	return h, nil
}

// SetTokenSupply stores the encrypted total supply handle.
func (m *Manager) SetTokenSupply(h types.Handle) error {
	return m.KVPut(tokenSupplyKey, h)
}
