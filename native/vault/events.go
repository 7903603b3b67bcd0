package vault

import (
	"strconv"

	"cipherlend/core/types"
	"cipherlend/crypto"
)

const (
	EventTypeStaked            = "vault.staked"
	EventTypeBorrowed          = "vault.borrowed"
	EventTypeRepaid            = "vault.repaid"
	EventTypeWithdrawRequested = "vault.withdraw_requested"
	EventTypeWithdrawFinalized = "vault.withdraw_finalized"
)

// vaultEvent adapts a payload to the events.Event interface.
type vaultEvent struct {
	payload *types.Event
}

func (e vaultEvent) EventType() string { return e.payload.Type }
func (e vaultEvent) Event() *types.Event { return e.payload }

func accountString(addr [20]byte) string {
	return crypto.AddressFromRaw(addr).String()
}

// NewStakedEvent describes a cleartext deposit credited to an encrypted stake.
func NewStakedEvent(account [20]byte, amount uint64, stake types.Handle) *types.Event {
	return &types.Event{
		Type: EventTypeStaked,
		Attributes: map[string]string{
			"account": accountString(account),
			"amount":  strconv.FormatUint(amount, 10),
			"stake":   stake.Hex(),
		},
	}
}

// NewBorrowedEvent carries the requested and minted handles of a borrow.
func NewBorrowedEvent(account [20]byte, requested, minted types.Handle) *types.Event {
	return &types.Event{
		Type: EventTypeBorrowed,
		Attributes: map[string]string{
			"account":   accountString(account),
			"requested": requested.Hex(),
			"minted":    minted.Hex(),
		},
	}
}

// NewRepaidEvent carries the requested and burned handles of a repayment.
func NewRepaidEvent(account [20]byte, requested, burned types.Handle) *types.Event {
	return &types.Event{
		Type: EventTypeRepaid,
		Attributes: map[string]string{
			"account":   accountString(account),
			"requested": requested.Hex(),
			"burned":    burned.Hex(),
		},
	}
}

// NewWithdrawRequestedEvent announces a request awaiting disclosure.
func NewWithdrawRequestedEvent(req *WithdrawRequest) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawRequested,
		Attributes: map[string]string{
			"account":   accountString(req.Recipient),
			"requestId": strconv.FormatUint(req.ID, 10),
			"amount":    req.Amount.Hex(),
		},
	}
}

// NewWithdrawFinalizedEvent records the disclosed payout of a request.
func NewWithdrawFinalizedEvent(req *WithdrawRequest, cleartext uint64) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawFinalized,
		Attributes: map[string]string{
			"account":     accountString(req.Recipient),
			"requestId":   strconv.FormatUint(req.ID, 10),
			"amount":      req.Amount.Hex(),
			"clearAmount": strconv.FormatUint(cleartext, 10),
		},
	}
}
