package bank

import (
	"errors"
	"math/big"
	"testing"

	"cipherlend/core/events"
)

type mockLedgerState struct {
	balances map[[20]byte]*big.Int
	disabled map[[20]byte]bool
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{balances: make(map[[20]byte]*big.Int), disabled: make(map[[20]byte]bool)}
}

func (m *mockLedgerState) BankBalance(addr [20]byte) (*big.Int, error) {
	if bal, ok := m.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockLedgerState) SetBankBalance(addr [20]byte, amount *big.Int) error {
	m.balances[addr] = new(big.Int).Set(amount)
	return nil
}

func (m *mockLedgerState) ReceiveDisabled(addr [20]byte) (bool, error) {
	return m.disabled[addr], nil
}

func (m *mockLedgerState) SetReceiveDisabled(addr [20]byte, disabled bool) error {
	m.disabled[addr] = disabled
	return nil
}

func TestTransferMovesFunds(t *testing.T) {
	state := newMockLedgerState()
	ledger := NewLedger(state)
	buf := &events.Buffer{}
	ledger.SetEmitter(buf)
	alice, bob := [20]byte{1}, [20]byte{2}

	if err := ledger.Credit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := ledger.Balance(alice); bal.Int64() != 60 {
		t.Fatalf("expected alice 60, got %s", bal)
	}
	if bal, _ := ledger.Balance(bob); bal.Int64() != 40 {
		t.Fatalf("expected bob 40, got %s", bal)
	}
	drained := buf.Drain()
	if len(drained) != 1 || drained[0].Type != EventTypeTransfer || drained[0].Attributes["amount"] != "40" {
		t.Fatalf("unexpected events %+v", drained)
	}
}

func TestTransferFailures(t *testing.T) {
	state := newMockLedgerState()
	ledger := NewLedger(state)
	alice, bob := [20]byte{1}, [20]byte{2}
	if err := ledger.Credit(alice, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := ledger.Transfer(alice, bob, big.NewInt(6)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.SetReceiveDisabled(bob, true); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(1)); !errors.Is(err, ErrReceiveDisabled) {
		t.Fatalf("expected ErrReceiveDisabled, got %v", err)
	}
	if bal, _ := ledger.Balance(alice); bal.Int64() != 5 {
		t.Fatalf("failed transfers must not move funds, alice has %s", bal)
	}
}
