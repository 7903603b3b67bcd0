package vault

import (
	"math/big"

	"cipherlend/core/types"
)

// Backend is the encrypted arithmetic the engine computes with. Comparison
// results are themselves ciphertexts and are only ever consumed by Select.
type Backend interface {
	Encrypt(value uint64) (types.Handle, error)
	Add(a, b types.Handle) (types.Handle, error)
	Sub(a, b types.Handle) (types.Handle, error)
	Mul(a, b types.Handle) (types.Handle, error)
	MulScalar(a types.Handle, s uint64) (types.Handle, error)
	DivScalar(a types.Handle, s uint64) (types.Handle, error)
	SaturatingSub(a, b types.Handle) (result types.Handle, saturated types.Handle, err error)
	Le(a, b types.Handle) (types.Handle, error)
	Select(flag, ifTrue, ifFalse types.Handle) (types.Handle, error)
	Allow(h types.Handle, principal [20]byte) error
	IsAllowed(h types.Handle, principal [20]byte) (bool, error)
	MakePubliclyDecryptable(h types.Handle) error
	VerifyDecryptionProof(h types.Handle, cleartext uint64, proof []byte) error
}

// Token is the confidential stable asset minted against collateral.
type Token interface {
	Mint(caller, account [20]byte, amount types.Handle) (types.Handle, error)
	BurnFrom(caller, account [20]byte, amount types.Handle) (types.Handle, error)
}

// Bank moves the cleartext base asset.
type Bank interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}
