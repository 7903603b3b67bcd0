package state

import (
	"encoding/binary"
	"fmt"

	"cipherlend/native/vault"
)

func vaultPositionKey(addr [20]byte) []byte {
	return prefixed(vaultPositionPrefix, addr[:])
}

func vaultRequestKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefixed(vaultRequestPrefix, buf[:])
}

// VaultPosition loads the stored position for addr. The boolean reports
// whether the account has been seen before.
func (m *Manager) VaultPosition(addr [20]byte) (*vault.Position, bool, error) {
	var pos vault.Position
	ok, err := m.KVGet(vaultPositionKey(addr), &pos)
	if err != nil {
		return nil, false, fmt.Errorf("state: load vault position: %w", err)
	}
	if !ok {
		return &vault.Position{}, false, nil
	}
	return &pos, true, nil
}

// PutVaultPosition persists pos for addr.
func (m *Manager) PutVaultPosition(addr [20]byte, pos *vault.Position) error {
	if pos == nil {
		return fmt.Errorf("state: nil vault position")
	}
	return m.KVPut(vaultPositionKey(addr), pos)
}

// WithdrawRequest loads the pending withdrawal with the given id.
func (m *Manager) WithdrawRequest(id uint64) (*vault.WithdrawRequest, bool, error) {
	var req vault.WithdrawRequest
	ok, err := m.KVGet(vaultRequestKey(id), &req)
	if err != nil {
		return nil, false, fmt.Errorf("state: load withdraw request %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &req, true, nil
}

// PutWithdrawRequest stores req under its id. Storing a new id bumps the
// pending request count.
func (m *Manager) PutWithdrawRequest(req *vault.WithdrawRequest) error {
	if req == nil || req.ID == 0 {
		return fmt.Errorf("state: withdraw request id required")
	}
	key := vaultRequestKey(req.ID)
	exists, err := m.KVHas(key)
	if err != nil {
		return fmt.Errorf("state: load withdraw request %d: %w", req.ID, err)
	}
	if err := m.KVPut(key, req); err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.adjustPendingWithdrawRequests(true)
}

// DeleteWithdrawRequest removes the request with the given id. Removing a
// stored request lowers the pending request count.
func (m *Manager) DeleteWithdrawRequest(id uint64) error {
	key := vaultRequestKey(id)
	exists, err := m.KVHas(key)
	if err != nil {
		return fmt.Errorf("state: load withdraw request %d: %w", id, err)
	}
	if !exists {
		return nil
	}
	if err := m.KVDelete(key); err != nil {
		return err
	}
	return m.adjustPendingWithdrawRequests(false)
}

// PendingWithdrawRequests returns the number of stored requests that have not
// been finalized.
func (m *Manager) PendingWithdrawRequests() (uint64, error) {
	var pending uint64
	if _, err := m.KVGet(vaultPendingKey, &pending); err != nil {
		return 0, fmt.Errorf("state: load pending request count: %w", err)
	}
	return pending, nil
}

func (m *Manager) adjustPendingWithdrawRequests(increase bool) error {
	pending, err := m.PendingWithdrawRequests()
	if err != nil {
		return err
	}
	switch {
	case increase:
		pending++
	case pending > 0:
		pending--
	}
	return m.KVPut(vaultPendingKey, pending)
}

// NextWithdrawRequestID allocates the next request id. Ids start at 1 and are
// never reused.
func (m *Manager) NextWithdrawRequestID() (uint64, error) {
	last, err := m.LastWithdrawRequestID()
	if err != nil {
		return 0, err
	}
	next := last + 1
	if next == 0 {
		return 0, fmt.Errorf("state: withdraw request ids exhausted")
	}
	if err := m.KVPut(vaultRequestSeqKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// LastWithdrawRequestID returns the most recently allocated request id, or
// zero when none has been issued.
func (m *Manager) LastWithdrawRequestID() (uint64, error) {
	var last uint64
	if _, err := m.KVGet(vaultRequestSeqKey, &last); err != nil {
		return 0, fmt.Errorf("state: load withdraw request counter: %w", err)
	}
	return last, nil
}
