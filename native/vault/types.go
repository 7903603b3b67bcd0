package vault

import (
	"math"

	"cipherlend/core/types"
)

// ModuleName identifies the vault in pause configuration and module address
// derivation.
const ModuleName = "vault"

// BorrowDivisor fixes the loan-to-value ratio at 1/BorrowDivisor of the stake.
const BorrowDivisor uint64 = 2

// MaxClearAmount is the largest magnitude a ciphertext can carry.
const MaxClearAmount uint64 = math.MaxUint64

// Position is the encrypted collateral and debt tracked for one account. Zero
// handles stand for an encrypted zero.
type Position struct {
	Stake types.Handle
	Debt  types.Handle
}

// WithdrawRequest is an approved withdrawal waiting for its cleartext amount
// to be disclosed and paid out.
type WithdrawRequest struct {
	ID        uint64
	Recipient [20]byte
	Amount    types.Handle
}

// Clone returns a copy of the request.
func (r *WithdrawRequest) Clone() *WithdrawRequest {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
