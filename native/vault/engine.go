package vault

import (
	"cipherlend/core/events"
	"cipherlend/core/types"
	nativecommon "cipherlend/native/common"
)

type engineState interface {
	VaultPosition(addr [20]byte) (*Position, bool, error)
	PutVaultPosition(addr [20]byte, pos *Position) error
	WithdrawRequest(id uint64) (*WithdrawRequest, bool, error)
	PutWithdrawRequest(req *WithdrawRequest) error
	DeleteWithdrawRequest(id uint64) error
	NextWithdrawRequestID() (uint64, error)
}

// Engine applies the vault's state transitions. It never branches on an
// encrypted value: every clamp is computed with Select so the same sequence
// of operations runs regardless of the amounts involved.
type Engine struct {
	state         engineState
	backend       Backend
	token         Token
	bank          Bank
	moduleAddress [20]byte
	emitter       events.Emitter
	pauses        nativecommon.PauseView
}

// NewEngine constructs an engine operating on behalf of the module account.
func NewEngine(moduleAddr [20]byte) *Engine {
	return &Engine{moduleAddress: moduleAddr, emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBackend configures the encrypted arithmetic engine.
func (e *Engine) SetBackend(b Backend) { e.backend = b }

// SetToken configures the confidential token minted against collateral.
func (e *Engine) SetToken(t Token) { e.token = t }

// SetBank configures the base-asset ledger used for deposits and payouts.
func (e *Engine) SetBank(b Bank) { e.bank = b }

// SetEmitter configures the sink for vault events. A nil emitter discards them.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// ModuleAddress returns the account that custodies deposited collateral.
func (e *Engine) ModuleAddress() [20]byte { return e.moduleAddress }

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.backend == nil:
		return errNilBackend
	case e.token == nil:
		return errNilToken
	case e.bank == nil:
		return errNilBank
	}
	return nil
}

func (e *Engine) guard() error {
	if err := e.ready(); err != nil {
		return err
	}
	return nativecommon.Guard(e.pauses, ModuleName)
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(vaultEvent{payload: evt})
}
