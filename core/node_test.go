package core

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/holiman/uint256"

	"cipherlend/core/genesis"
	"cipherlend/core/types"
	"cipherlend/crypto"
	"cipherlend/fhe"
	"cipherlend/native/bank"
	nativecommon "cipherlend/native/common"
	"cipherlend/native/vault"
	"cipherlend/storage"
)

var alice = [20]byte{0xa1}

type nodeHarness struct {
	node   *Node
	oracle *fhe.Oracle
	key    *crypto.PrivateKey
	pauses *nativecommon.Pauses
}

func newNodeHarness(t *testing.T, db storage.Database, key *crypto.PrivateKey) *nodeHarness {
	t.Helper()
	if key == nil {
		var err error
		if key, err = crypto.GeneratePrivateKey(); err != nil {
			t.Fatalf("generate key: %v", err)
		}
	}
	pauses := nativecommon.NewPauses(nil)
	node, err := NewNode(db, Config{OracleAddress: key.PubKey().Address(), Pauses: pauses})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	oracle, err := fhe.NewOracle(key, node)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	return &nodeHarness{node: node, oracle: oracle, key: key, pauses: pauses}
}

func newFundedHarness(t *testing.T) *nodeHarness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	h := newNodeHarness(t, db, nil)
	if _, err := h.node.ApplyGenesis(context.Background(), []genesis.Allocation{{Account: alice, Amount: big.NewInt(100)}}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return h
}

func (h *nodeHarness) input(t *testing.T, v uint64) types.Handle {
	t.Helper()
	handle, err := h.node.EncryptInput(context.Background(), alice, v)
	if err != nil {
		t.Fatalf("encrypt input: %v", err)
	}
	return handle
}

func (h *nodeHarness) decrypt(t *testing.T, handle types.Handle) uint64 {
	t.Helper()
	v, err := h.node.UserDecrypt(context.Background(), alice, handle)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	return v
}

func (h *nodeHarness) balance(t *testing.T) int64 {
	t.Helper()
	bal, err := h.node.BankBalance(context.Background(), alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (h *nodeHarness) requestWithdraw(t *testing.T, amount uint64) (*vault.WithdrawRequest, uint64, []byte) {
	t.Helper()
	ctx := context.Background()
	req, err := h.node.RequestWithdraw(ctx, alice, h.input(t, amount))
	if err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	value, proof, err := h.oracle.PublicDecrypt(req.Amount)
	if err != nil {
		t.Fatalf("public decrypt: %v", err)
	}
	return req, value, proof
}

func TestNodeLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newFundedHarness(t)

	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	minted, err := h.node.Borrow(ctx, alice, h.input(t, 3))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := h.decrypt(t, minted); got != 3 {
		t.Fatalf("expected 3 minted, got %d", got)
	}
	if _, err := h.node.Borrow(ctx, alice, h.input(t, 10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.node.Repay(ctx, alice, h.input(t, 2)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	pos, err := h.node.Position(ctx, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stake, debt := h.decrypt(t, pos.Stake), h.decrypt(t, pos.Debt); stake != 10 || debt != 3 {
		t.Fatalf("unexpected position stake=%d debt=%d", stake, debt)
	}
	tokens, err := h.node.TokenBalance(ctx, alice)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if got := h.decrypt(t, tokens); got != 3 {
		t.Fatalf("expected 3 stable tokens, got %d", got)
	}

	req, value, proof := h.requestWithdraw(t, 10)
	if req.ID != 1 || value != 4 {
		t.Fatalf("unexpected request id=%d amount=%d", req.ID, value)
	}
	if _, err := h.node.FinalizeWithdraw(ctx, req.ID, value, proof); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := h.balance(t); got != 94 {
		t.Fatalf("expected balance 94, got %d", got)
	}
	if _, err := h.node.FinalizeWithdraw(ctx, req.ID, value, proof); !errors.Is(err, vault.ErrInvalidWithdrawRequest) {
		t.Fatalf("expected ErrInvalidWithdrawRequest, got %v", err)
	}
}

func TestFinalizeWithBadProofRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newFundedHarness(t)
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	req, value, proof := h.requestWithdraw(t, 6)

	if _, err := h.node.FinalizeWithdraw(ctx, req.ID, value+1, proof); !errors.Is(err, vault.ErrInvalidDecryptionProof) {
		t.Fatalf("expected ErrInvalidDecryptionProof, got %v", err)
	}
	if _, err := h.node.WithdrawRequest(ctx, req.ID); err != nil {
		t.Fatalf("request must survive a rejected finalize: %v", err)
	}
	if got := h.balance(t); got != 90 {
		t.Fatalf("rejected finalize must not pay out, balance %d", got)
	}
	if _, err := h.node.FinalizeWithdraw(ctx, req.ID, value, proof); err != nil {
		t.Fatalf("finalize with valid proof: %v", err)
	}
	if got := h.balance(t); got != 96 {
		t.Fatalf("expected balance 96, got %d", got)
	}
}

func TestFailedPayoutKeepsRequest(t *testing.T) {
	ctx := context.Background()
	h := newFundedHarness(t)
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	req, value, proof := h.requestWithdraw(t, 5)
	if err := h.node.SetReceiveDisabled(ctx, alice, true); err != nil {
		t.Fatalf("disable receive: %v", err)
	}
	if _, err := h.node.FinalizeWithdraw(ctx, req.ID, value, proof); !errors.Is(err, vault.ErrPayoutFailed) {
		t.Fatalf("expected ErrPayoutFailed, got %v", err)
	}
	if _, err := h.node.WithdrawRequest(ctx, req.ID); err != nil {
		t.Fatalf("request must survive a failed payout: %v", err)
	}
	if err := h.node.SetReceiveDisabled(ctx, alice, false); err != nil {
		t.Fatalf("enable receive: %v", err)
	}
	if _, err := h.node.FinalizeWithdraw(ctx, req.ID, value, proof); err != nil {
		t.Fatalf("finalize after re-enabling: %v", err)
	}
}

func TestRejectedOperationsLeaveNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newFundedHarness(t)
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	before, err := h.node.Events(ctx, 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	h.pauses.Set(vault.ModuleName, true)
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(5)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	h.pauses.Set(vault.ModuleName, false)
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(500)); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	after, err := h.node.Events(ctx, 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("rejected operations logged events: before=%d after=%d", len(before), len(after))
	}
	if got := h.balance(t); got != 90 {
		t.Fatalf("expected balance 90, got %d", got)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := h.node.Stake(canceled, alice, uint256.NewInt(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if Outcome(context.Canceled) != "canceled" {
		t.Fatalf("unexpected outcome for cancellation")
	}
}

func TestEventLogOrder(t *testing.T) {
	ctx := context.Background()
	h := newFundedHarness(t)
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := h.node.Borrow(ctx, alice, h.input(t, 1)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	logged, err := h.node.Events(ctx, 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var kinds []string
	for _, entry := range logged {
		kinds = append(kinds, entry.Event.Type)
	}
	want := []string{bank.EventTypeTransfer, vault.EventTypeStaked, "ctoken.minted", vault.EventTypeBorrowed}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected events %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
		if logged[i].Sequence != uint64(i+1) {
			t.Fatalf("event %d: unexpected sequence %d", i, logged[i].Sequence)
		}
	}
}

func TestGenesisAppliesOnce(t *testing.T) {
	ctx := context.Background()
	h := newFundedHarness(t)
	applied, err := h.node.ApplyGenesis(ctx, []genesis.Allocation{{Account: alice, Amount: big.NewInt(100)}})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if applied {
		t.Fatalf("genesis applied twice")
	}
	if got := h.balance(t); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}
}

func TestNodeStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	h := newNodeHarness(t, db, nil)
	if _, err := h.node.ApplyGenesis(ctx, []genesis.Allocation{{Account: alice, Amount: big.NewInt(50)}}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(20)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	req, value, proof := h.requestWithdraw(t, 3)
	db.Close()

	db, err = storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	t.Cleanup(db.Close)
	restarted := newNodeHarness(t, db, h.key)
	pos, err := restarted.node.Position(ctx, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if got := restarted.decrypt(t, pos.Stake); got != 17 {
		t.Fatalf("expected stake 17 after restart, got %d", got)
	}
	if pending, err := restarted.node.PendingWithdrawals(ctx); err != nil || pending != 1 {
		t.Fatalf("expected 1 pending request after restart, got %d err=%v", pending, err)
	}
	if _, err := restarted.node.FinalizeWithdraw(ctx, req.ID, value, proof); err != nil {
		t.Fatalf("finalize after restart: %v", err)
	}
	if pending, err := restarted.node.PendingWithdrawals(ctx); err != nil || pending != 0 {
		t.Fatalf("expected no pending requests after finalize, got %d err=%v", pending, err)
	}
	if next, _, _ := restarted.requestWithdraw(t, 1); next.ID != req.ID+1 {
		t.Fatalf("expected id %d after restart, got %d", req.ID+1, next.ID)
	}
}

func TestNewNodeValidation(t *testing.T) {
	if _, err := NewNode(nil, Config{}); err == nil {
		t.Fatalf("expected database required")
	}
	if _, err := NewNode(storage.NewMemDB(), Config{}); err == nil {
		t.Fatalf("expected oracle address required")
	}
}

func TestConcurrentOperationsSerialize(t *testing.T) {
	ctx := context.Background()
	h := newFundedHarness(t)
	if _, err := h.node.Stake(ctx, alice, uint256.NewInt(60)); err != nil {
		t.Fatalf("stake: %v", err)
	}

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ids      []uint64
		withdrew uint64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			borrowIn, err := h.node.EncryptInput(ctx, alice, uint64(i%3+1))
			if err != nil {
				t.Errorf("encrypt borrow: %v", err)
				return
			}
			if _, err := h.node.Borrow(ctx, alice, borrowIn); err != nil {
				t.Errorf("borrow: %v", err)
				return
			}
			withdrawIn, err := h.node.EncryptInput(ctx, alice, 2)
			if err != nil {
				t.Errorf("encrypt withdraw: %v", err)
				return
			}
			req, err := h.node.RequestWithdraw(ctx, alice, withdrawIn)
			if err != nil {
				t.Errorf("request withdraw: %v", err)
				return
			}
			amount, err := h.node.UserDecrypt(ctx, alice, req.Amount)
			if err != nil {
				t.Errorf("decrypt request: %v", err)
				return
			}
			pos, err := h.node.Position(ctx, alice)
			if err != nil {
				t.Errorf("position: %v", err)
				return
			}
			stake, err := h.node.UserDecrypt(ctx, alice, pos.Stake)
			if err != nil {
				t.Errorf("decrypt stake: %v", err)
				return
			}
			debt, err := h.node.UserDecrypt(ctx, alice, pos.Debt)
			if err != nil {
				t.Errorf("decrypt debt: %v", err)
				return
			}
			if debt*vault.BorrowDivisor > stake {
				t.Errorf("position breaches loan-to-value: stake=%d debt=%d", stake, debt)
			}
			mu.Lock()
			ids = append(ids, req.ID)
			withdrew += amount
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if t.Failed() {
		return
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != uint64(i+1) {
			t.Fatalf("request ids not contiguous: %v", ids)
		}
	}
	pos, err := h.node.Position(ctx, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	stake, debt := h.decrypt(t, pos.Stake), h.decrypt(t, pos.Debt)
	if debt*vault.BorrowDivisor > stake {
		t.Fatalf("final position breaches loan-to-value: stake=%d debt=%d", stake, debt)
	}
	if stake+withdrew != 60 {
		t.Fatalf("stake %d plus withdrawn %d does not account for the deposit", stake, withdrew)
	}
	if pending, err := h.node.PendingWithdrawals(ctx); err != nil || pending != workers {
		t.Fatalf("expected %d pending requests, got %d err=%v", workers, pending, err)
	}
}
