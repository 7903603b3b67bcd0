package vault

import (
	"fmt"

	"cipherlend/core/types"
)

// Position returns the encrypted stake and debt of account. Unseen accounts
// hold a zero position.
func (e *Engine) Position(account [20]byte) (Position, error) {
	if e == nil || e.state == nil {
		return Position{}, errNilState
	}
	pos, _, err := e.state.VaultPosition(account)
	if err != nil {
		return Position{}, err
	}
	return *pos, nil
}

// setPosition persists pos and grants the module and the account access to
// both handles.
func (e *Engine) setPosition(account [20]byte, pos Position) error {
	if err := e.state.PutVaultPosition(account, &pos); err != nil {
		return err
	}
	return e.grant(account, pos.Stake, pos.Debt)
}

func (e *Engine) grant(account [20]byte, handles ...types.Handle) error {
	for _, h := range handles {
		if h.IsZero() {
			continue
		}
		if err := e.backend.Allow(h, e.moduleAddress); err != nil {
			return fmt.Errorf("vault: grant module access: %w", err)
		}
		if err := e.backend.Allow(h, account); err != nil {
			return fmt.Errorf("vault: grant account access: %w", err)
		}
	}
	return nil
}

// requireAllowed rejects ciphertext inputs the caller holds no grant for.
func (e *Engine) requireAllowed(h types.Handle, caller [20]byte) error {
	ok, err := e.backend.IsAllowed(h, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandleNotAllowed, h)
	}
	return nil
}
