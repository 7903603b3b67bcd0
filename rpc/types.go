package rpc

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"cipherlend/core/types"
)

// Every method takes a single JSON object as its only positional parameter.

type AccountParams struct {
	Account string `json:"account"`
}

type StakeParams struct {
	Account string `json:"account"`
	// Amount is a base-10 base-asset amount.
	Amount string `json:"amount"`
}

type HandleAmountParams struct {
	Account string       `json:"account"`
	Amount  types.Handle `json:"amount"`
}

type FinalizeParams struct {
	RequestID   uint64        `json:"requestId"`
	ClearAmount string        `json:"clearAmount"`
	Proof       hexutil.Bytes `json:"proof"`
}

type RequestIDParams struct {
	RequestID uint64 `json:"requestId"`
}

type EventsParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit,omitempty"`
}

type EncryptParams struct {
	Account string `json:"account"`
	Value   string `json:"value"`
}

type UserDecryptParams struct {
	Account string       `json:"account"`
	Handle  types.Handle `json:"handle"`
}

type PublicDecryptParams struct {
	Handle types.Handle `json:"handle"`
}

type HandleResult struct {
	Handle types.Handle `json:"handle"`
}

type PositionResult struct {
	Account string       `json:"account"`
	Stake   types.Handle `json:"stake"`
	Debt    types.Handle `json:"debt"`
}

type WithdrawRequestResult struct {
	RequestID uint64       `json:"requestId"`
	Recipient string       `json:"recipient"`
	Amount    types.Handle `json:"amount"`
}

type EventResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type DecryptResult struct {
	Handle types.Handle `json:"handle"`
	Value  string       `json:"value"`
}

type PublicDecryptResult struct {
	Handle      types.Handle  `json:"handle"`
	ClearAmount string        `json:"clearAmount"`
	Proof       hexutil.Bytes `json:"proof"`
}

type BalanceResult struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type TokenBalanceResult struct {
	Account string       `json:"account"`
	Balance types.Handle `json:"balance"`
}
