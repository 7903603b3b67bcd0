package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cipherlend/core/events"
	"cipherlend/core/genesis"
	"cipherlend/core/state"
	"cipherlend/core/types"
	"cipherlend/crypto"
	"cipherlend/fhe"
	"cipherlend/native/bank"
	nativecommon "cipherlend/native/common"
	"cipherlend/native/ctoken"
	"cipherlend/native/vault"
	"cipherlend/observability"
	"cipherlend/storage"
)

var genesisKey = []byte("meta/genesis")

var tracer = otel.Tracer("cipherlend/core")

// Config wires the node's trust anchors and collaborators.
type Config struct {
	// OracleAddress is the signer whose decryption proofs are accepted.
	OracleAddress crypto.Address
	Pauses        nativecommon.PauseView
	// Emitter receives events after the transition that produced them commits.
	Emitter events.Emitter
	Logger  *slog.Logger
}

// Node applies vault operations as atomic transitions over a single database.
// Operations are serialised; each one either commits all of its state writes,
// ciphertext records and events or leaves no trace.
type Node struct {
	db      storage.Database
	state   *state.Manager
	cop     *fhe.Coprocessor
	bank    *bank.Ledger
	token   *ctoken.Token
	vault   *vault.Engine
	buffer  *events.Buffer
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.VaultMetrics

	mu sync.Mutex

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}
}

// NewNode assembles a node on top of db.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if cfg.OracleAddress.IsZero() {
		return nil, fmt.Errorf("core: oracle address required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	manager := state.NewManager(db)
	buffer := &events.Buffer{}
	cop := fhe.NewCoprocessor(manager, cfg.OracleAddress.Raw())
	moduleAddr := crypto.ModuleAddress(vault.ModuleName).Raw()

	ledger := bank.NewLedger(manager)
	ledger.SetEmitter(buffer)

	token := ctoken.NewToken(manager, cop, moduleAddr)
	token.SetEmitter(buffer)
	token.SetPauses(cfg.Pauses)

	engine := vault.NewEngine(moduleAddr)
	engine.SetState(manager)
	engine.SetBackend(cop)
	engine.SetToken(token)
	engine.SetBank(ledger)
	engine.SetEmitter(buffer)
	engine.SetPauses(cfg.Pauses)

	pending, err := manager.PendingWithdrawRequests()
	if err != nil {
		return nil, err
	}
	metrics := observability.Vault()
	metrics.SetPendingWithdrawals(pending)

	return &Node{
		db:       db,
		state:    manager,
		cop:      cop,
		bank:     ledger,
		token:    token,
		vault:    engine,
		buffer:   buffer,
		emitter:  emitter,
		logger:   logger.With(slog.String("component", "node")),
		metrics:  metrics,
		watchers: make(map[chan struct{}]struct{}),
	}, nil
}

// ModuleAddress returns the vault's custody account.
func (n *Node) ModuleAddress() crypto.Address {
	return crypto.AddressFromRaw(n.vault.ModuleAddress())
}

// OracleAddress returns the trusted decryption signer.
func (n *Node) OracleAddress() crypto.Address {
	return crypto.AddressFromRaw(n.cop.OracleAddress())
}

// apply runs fn inside a state transaction. Events buffered by fn are
// appended to the event log in the same batch and published after commit.
func (n *Node) apply(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, span := tracer.Start(ctx, "node."+op, trace.WithAttributes(attribute.String("op", op)))
	defer span.End()
	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.state.Begin(); err != nil {
		return err
	}
	n.buffer.Reset()

	var committed []*types.Event
	err := fn()
	if err == nil {
		committed = n.buffer.Drain()
		err = n.state.AppendEvents(committed)
	}
	if err == nil {
		err = n.state.Commit()
	}
	if err != nil {
		n.state.Discard()
		n.buffer.Reset()
		outcome := Outcome(err)
		n.metrics.RecordOperation(op, outcome, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcome))
		span.SetStatus(codes.Error, outcome)
		n.logger.Debug("operation rejected", slog.String("op", op), slog.String("reason", outcome), slog.Any("error", err))
		return err
	}
	n.metrics.RecordOperation(op, "", time.Since(start))
	span.SetAttributes(attribute.Int("events", len(committed)))
	for _, evt := range committed {
		observability.Events().RecordEvent(evt.Type)
		n.emitter.Emit(events.Static{Payload: evt})
	}
	if len(committed) > 0 {
		n.notifyWatchers()
	}
	return nil
}

// WatchEvents returns a channel that receives a signal whenever new events
// are committed. Signals coalesce; readers page through Events from their own
// cursor. The returned function stops the watch.
func (n *Node) WatchEvents() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.watchMu.Lock()
	n.watchers[ch] = struct{}{}
	n.watchMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.watchMu.Lock()
			delete(n.watchers, ch)
			n.watchMu.Unlock()
		})
	}
}

func (n *Node) notifyWatchers() {
	n.watchMu.Lock()
	defer n.watchMu.Unlock()
	for ch := range n.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// read runs fn under the node lock without opening a transaction.
func (n *Node) read(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn()
}

// Stake deposits amount of the base asset as collateral for account.
func (n *Node) Stake(ctx context.Context, account [20]byte, amount *uint256.Int) (types.Handle, error) {
	var stake types.Handle
	err := n.apply(ctx, "stake", func() error {
		var err error
		stake, err = n.vault.Stake(account, amount)
		return err
	})
	return stake, err
}

// Borrow mints up to requested stable tokens against account's collateral.
func (n *Node) Borrow(ctx context.Context, account [20]byte, requested types.Handle) (types.Handle, error) {
	var minted types.Handle
	err := n.apply(ctx, "borrow", func() error {
		var err error
		minted, err = n.vault.Borrow(account, requested)
		return err
	})
	return minted, err
}

// Repay burns up to requested stable tokens against account's debt.
func (n *Node) Repay(ctx context.Context, account [20]byte, requested types.Handle) (types.Handle, error) {
	var burned types.Handle
	err := n.apply(ctx, "repay", func() error {
		var err error
		burned, err = n.vault.Repay(account, requested)
		return err
	})
	return burned, err
}

// RequestWithdraw approves a withdrawal and returns the pending request.
func (n *Node) RequestWithdraw(ctx context.Context, account [20]byte, requested types.Handle) (*vault.WithdrawRequest, error) {
	var (
		req     *vault.WithdrawRequest
		pending uint64
	)
	err := n.apply(ctx, "request_withdraw", func() error {
		var err error
		if req, err = n.vault.RequestWithdraw(account, requested); err != nil {
			return err
		}
		pending, err = n.state.PendingWithdrawRequests()
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.SetPendingWithdrawals(pending)
	return req, nil
}

// FinalizeWithdraw redeems a request with its disclosed amount and proof.
func (n *Node) FinalizeWithdraw(ctx context.Context, id, cleartext uint64, proof []byte) (*vault.WithdrawRequest, error) {
	var (
		req     *vault.WithdrawRequest
		pending uint64
	)
	err := n.apply(ctx, "finalize_withdraw", func() error {
		var err error
		if req, err = n.vault.FinalizeWithdraw(id, cleartext, proof); err != nil {
			return err
		}
		pending, err = n.state.PendingWithdrawRequests()
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.SetPendingWithdrawals(pending)
	return req, nil
}

// Withdrawable computes account's withdrawable stake as a fresh ciphertext.
func (n *Node) Withdrawable(ctx context.Context, account [20]byte) (types.Handle, error) {
	var out types.Handle
	err := n.apply(ctx, "withdrawable", func() error {
		var err error
		out, err = n.vault.Withdrawable(account)
		return err
	})
	return out, err
}

// EncryptInput encrypts value on behalf of account and grants it access, so
// the handle can be passed to Borrow, Repay or RequestWithdraw.
func (n *Node) EncryptInput(ctx context.Context, account [20]byte, value uint64) (types.Handle, error) {
	var h types.Handle
	err := n.apply(ctx, "encrypt", func() error {
		var err error
		if h, err = n.cop.Encrypt(value); err != nil {
			return err
		}
		return n.cop.Allow(h, account)
	})
	return h, err
}

// SetReceiveDisabled toggles whether account accepts base-asset transfers.
func (n *Node) SetReceiveDisabled(ctx context.Context, account [20]byte, disabled bool) error {
	return n.apply(ctx, "set_receive", func() error {
		return n.bank.SetReceiveDisabled(account, disabled)
	})
}

// ApplyGenesis credits allocs once. It reports false when the ledger was
// already initialised.
func (n *Node) ApplyGenesis(ctx context.Context, allocs []genesis.Allocation) (bool, error) {
	applied := false
	err := n.apply(ctx, "genesis", func() error {
		done, err := n.state.KVHas(genesisKey)
		if err != nil || done {
			return err
		}
		for _, alloc := range allocs {
			if err := n.bank.Credit(alloc.Account, alloc.Amount); err != nil {
				return fmt.Errorf("genesis credit %s: %w", crypto.AddressFromRaw(alloc.Account), err)
			}
		}
		applied = true
		return n.state.KVPut(genesisKey, uint64(len(allocs)))
	})
	return applied, err
}

// Position returns account's encrypted stake and debt.
func (n *Node) Position(ctx context.Context, account [20]byte) (vault.Position, error) {
	var pos vault.Position
	err := n.read(ctx, func() error {
		var err error
		pos, err = n.vault.Position(account)
		return err
	})
	return pos, err
}

// WithdrawRequest returns the pending request with the given id.
func (n *Node) WithdrawRequest(ctx context.Context, id uint64) (*vault.WithdrawRequest, error) {
	var req *vault.WithdrawRequest
	err := n.read(ctx, func() error {
		var err error
		req, err = n.vault.WithdrawRequest(id)
		return err
	})
	return req, err
}

// PendingWithdrawals returns the number of requests awaiting finalization.
func (n *Node) PendingWithdrawals(ctx context.Context) (uint64, error) {
	var pending uint64
	err := n.read(ctx, func() error {
		var err error
		pending, err = n.state.PendingWithdrawRequests()
		return err
	})
	return pending, err
}

// Events returns up to limit committed events after sequence after.
func (n *Node) Events(ctx context.Context, after uint64, limit int) ([]state.LoggedEvent, error) {
	var out []state.LoggedEvent
	err := n.read(ctx, func() error {
		var err error
		out, err = n.state.EventsSince(after, limit)
		return err
	})
	return out, err
}

// UserDecrypt opens h for account, which must hold a grant on it.
func (n *Node) UserDecrypt(ctx context.Context, account [20]byte, h types.Handle) (uint64, error) {
	var value uint64
	err := n.read(ctx, func() error {
		var err error
		value, err = n.cop.Decrypt(h, account)
		return err
	})
	return value, err
}

// PublicValue exposes publicly decryptable handles to the oracle.
func (n *Node) PublicValue(h types.Handle) (uint64, error) {
	var value uint64
	err := n.read(context.Background(), func() error {
		var err error
		value, err = n.cop.PublicValue(h)
		return err
	})
	return value, err
}

// BankBalance returns account's cleartext base-asset balance.
func (n *Node) BankBalance(ctx context.Context, account [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := n.read(ctx, func() error {
		var err error
		balance, err = n.bank.Balance(account)
		return err
	})
	return balance, err
}

// TokenBalance returns account's encrypted stable-token balance.
func (n *Node) TokenBalance(ctx context.Context, account [20]byte) (types.Handle, error) {
	var h types.Handle
	err := n.read(ctx, func() error {
		var err error
		h, err = n.token.Balance(account)
		return err
	})
	return h, err
}

// Outcome names the class of err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, vault.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, vault.ErrAmountTooLarge):
		return "amount_too_large"
	case errors.Is(err, vault.ErrInvalidWithdrawRequest):
		return "invalid_request"
	case errors.Is(err, vault.ErrInvalidDecryptionProof):
		return "invalid_proof"
	case errors.Is(err, vault.ErrPayoutFailed):
		return "payout_failed"
	case errors.Is(err, vault.ErrHandleNotAllowed), errors.Is(err, ctoken.ErrHandleNotAllowed):
		return "not_allowed"
	case errors.Is(err, ctoken.ErrUnauthorizedCaller):
		return "unauthorized"
	case errors.Is(err, bank.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
