package vault

import "errors"

var (
	// ErrZeroAmount is returned when a cleartext stake amount is zero.
	ErrZeroAmount = errors.New("vault: amount must be greater than zero")
	// ErrAmountTooLarge is returned when a cleartext amount exceeds the
	// ciphertext magnitude limit.
	ErrAmountTooLarge = errors.New("vault: amount exceeds ciphertext range")
	// ErrInvalidWithdrawRequest covers unknown and already finalized requests.
	ErrInvalidWithdrawRequest = errors.New("vault: invalid withdraw request")
	// ErrInvalidDecryptionProof is returned when a disclosure proof does not
	// open the stored request amount.
	ErrInvalidDecryptionProof = errors.New("vault: invalid decryption proof")
	// ErrPayoutFailed is returned when the base-asset transfer to the
	// recipient fails.
	ErrPayoutFailed = errors.New("vault: payout failed")
	// ErrHandleNotAllowed is returned when a caller supplies a ciphertext it
	// holds no grant for.
	ErrHandleNotAllowed = errors.New("vault: ciphertext not allowed for caller")
)

var (
	errNilState   = errors.New("vault engine: state not configured")
	errNilBackend = errors.New("vault engine: arithmetic backend not configured")
	errNilToken   = errors.New("vault engine: token not configured")
	errNilBank    = errors.New("vault engine: bank not configured")
)
