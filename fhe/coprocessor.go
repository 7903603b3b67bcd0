// Package fhe provides a development coprocessor that executes encrypted
// arithmetic over cleartext-backed ciphertext records, together with the
// decryption oracle that discloses publicly decryptable handles.
package fhe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"cipherlend/core/types"
	"cipherlend/crypto"
)

var (
	// ErrUnknownHandle is returned when a handle does not name a ciphertext.
	ErrUnknownHandle = errors.New("fhe: unknown ciphertext handle")
	// ErrKindMismatch is returned when an operand has the wrong ciphertext kind.
	ErrKindMismatch = errors.New("fhe: ciphertext kind mismatch")
	// ErrDivisionByZero is returned by DivScalar for a zero divisor.
	ErrDivisionByZero = errors.New("fhe: division by zero")
	// ErrNotAllowed is returned by Decrypt when the principal lacks ACL access.
	ErrNotAllowed = errors.New("fhe: principal not allowed to decrypt")
	// ErrNotPublic is returned when a handle was never marked publicly decryptable.
	ErrNotPublic = errors.New("fhe: handle is not publicly decryptable")
	// ErrInvalidProof is returned when a decryption proof does not verify.
	ErrInvalidProof = errors.New("fhe: invalid decryption proof")
)

// Kind distinguishes encrypted integers from encrypted booleans.
type Kind uint8

const (
	KindUint64 Kind = iota
	KindBool
)

// Store is the persistence surface the coprocessor writes ciphertext records
// through. The state manager satisfies it, so records share the caller's
// transaction.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type record struct {
	Value  uint64
	Kind   uint8
	Public bool
	ACL    [][20]byte
}

func (r *record) allowed(principal [20]byte) bool {
	for _, addr := range r.ACL {
		if addr == principal {
			return true
		}
	}
	return false
}

var (
	recordPrefix = []byte("fhe/ct/")
	nonceKey     = []byte("fhe/nonce")
)

func recordKey(h types.Handle) []byte {
	out := make([]byte, 0, len(recordPrefix)+types.HandleLength)
	out = append(out, recordPrefix...)
	return append(out, h[:]...)
}

// Coprocessor is a cleartext-backed stand-in for a homomorphic arithmetic
// engine. Handles are derived from the operation, its operands and a
// persisted nonce, so they reveal nothing about the values behind them.
type Coprocessor struct {
	store  Store
	oracle [20]byte

	mu sync.Mutex
}

// NewCoprocessor constructs a coprocessor persisting through store and
// trusting decryption proofs signed by oracle.
func NewCoprocessor(store Store, oracle [20]byte) *Coprocessor {
	return &Coprocessor{store: store, oracle: oracle}
}

// OracleAddress returns the signer trusted for decryption proofs.
func (c *Coprocessor) OracleAddress() [20]byte {
	return c.oracle
}

func (c *Coprocessor) load(h types.Handle) (*record, error) {
	if h.IsZero() {
		return &record{Kind: uint8(KindUint64)}, nil
	}
	var rec record
	ok, err := c.store.KVGet(recordKey(h), &rec)
	if err != nil {
		return nil, fmt.Errorf("fhe: load %s: %w", h, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return &rec, nil
}

func (c *Coprocessor) loadKind(h types.Handle, kind Kind) (uint64, error) {
	rec, err := c.load(h)
	if err != nil {
		return 0, err
	}
	if Kind(rec.Kind) != kind {
		return 0, fmt.Errorf("%w: %s", ErrKindMismatch, h)
	}
	return rec.Value, nil
}

func (c *Coprocessor) nextNonce() (uint64, error) {
	var nonce uint64
	if _, err := c.store.KVGet(nonceKey, &nonce); err != nil {
		return 0, fmt.Errorf("fhe: load nonce: %w", err)
	}
	nonce++
	if err := c.store.KVPut(nonceKey, nonce); err != nil {
		return 0, fmt.Errorf("fhe: store nonce: %w", err)
	}
	return nonce, nil
}

// create stores a fresh ciphertext and returns its handle.
func (c *Coprocessor) create(op string, kind Kind, value uint64, operands ...types.Handle) (types.Handle, error) {
	nonce, err := c.nextNonce()
	if err != nil {
		return types.ZeroHandle, err
	}
	parts := make([][]byte, 0, len(operands)+2)
	parts = append(parts, []byte(op))
	for i := range operands {
		parts = append(parts, operands[i][:])
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	parts = append(parts, buf[:])
	h, err := types.HandleFromBytes(crypto.Keccak256(parts...))
	if err != nil {
		return types.ZeroHandle, err
	}
	rec := record{Value: value, Kind: uint8(kind)}
	if err := c.store.KVPut(recordKey(h), &rec); err != nil {
		return types.ZeroHandle, fmt.Errorf("fhe: store ciphertext: %w", err)
	}
	return h, nil
}

func (c *Coprocessor) binaryOp(op string, a, b types.Handle, fn func(x, y uint64) (uint64, error)) (types.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, err := c.loadKind(a, KindUint64)
	if err != nil {
		return types.ZeroHandle, err
	}
	y, err := c.loadKind(b, KindUint64)
	if err != nil {
		return types.ZeroHandle, err
	}
	out, err := fn(x, y)
	if err != nil {
		return types.ZeroHandle, err
	}
	return c.create(op, KindUint64, out, a, b)
}

func (c *Coprocessor) scalar(op string, a types.Handle, s uint64, fn func(x uint64) (uint64, error)) (types.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, err := c.loadKind(a, KindUint64)
	if err != nil {
		return types.ZeroHandle, err
	}
	out, err := fn(x)
	if err != nil {
		return types.ZeroHandle, err
	}
	var operand types.Handle
	binary.BigEndian.PutUint64(operand[types.HandleLength-8:], s)
	return c.create(op, KindUint64, out, a, operand)
}

// Encrypt produces a trivially encrypted ciphertext of value.
func (c *Coprocessor) Encrypt(value uint64) (types.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create("encrypt", KindUint64, value)
}

// Add returns a + b modulo 2^64.
func (c *Coprocessor) Add(a, b types.Handle) (types.Handle, error) {
	return c.binaryOp("add", a, b, func(x, y uint64) (uint64, error) { return x + y, nil })
}

// Sub returns a - b modulo 2^64.
func (c *Coprocessor) Sub(a, b types.Handle) (types.Handle, error) {
	return c.binaryOp("sub", a, b, func(x, y uint64) (uint64, error) { return x - y, nil })
}

// Mul returns a * b modulo 2^64.
func (c *Coprocessor) Mul(a, b types.Handle) (types.Handle, error) {
	return c.binaryOp("mul", a, b, func(x, y uint64) (uint64, error) { return x * y, nil })
}

// AddScalar returns a + s modulo 2^64.
func (c *Coprocessor) AddScalar(a types.Handle, s uint64) (types.Handle, error) {
	return c.scalar("add-scalar", a, s, func(x uint64) (uint64, error) { return x + s, nil })
}

// MulScalar returns a * s modulo 2^64.
func (c *Coprocessor) MulScalar(a types.Handle, s uint64) (types.Handle, error) {
	return c.scalar("mul-scalar", a, s, func(x uint64) (uint64, error) { return x * s, nil })
}

// DivScalar returns a / s rounded down.
func (c *Coprocessor) DivScalar(a types.Handle, s uint64) (types.Handle, error) {
	if s == 0 {
		return types.ZeroHandle, ErrDivisionByZero
	}
	return c.scalar("div-scalar", a, s, func(x uint64) (uint64, error) { return x / s, nil })
}

// SaturatingSub returns max(a-b, 0) together with an encrypted flag that is
// true when the subtraction saturated.
func (c *Coprocessor) SaturatingSub(a, b types.Handle) (types.Handle, types.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, err := c.loadKind(a, KindUint64)
	if err != nil {
		return types.ZeroHandle, types.ZeroHandle, err
	}
	y, err := c.loadKind(b, KindUint64)
	if err != nil {
		return types.ZeroHandle, types.ZeroHandle, err
	}
	var (
		result    uint64
		saturated uint64
	)
	if y > x {
		saturated = 1
	} else {
		result = x - y
	}
	res, err := c.create("satsub", KindUint64, result, a, b)
	if err != nil {
		return types.ZeroHandle, types.ZeroHandle, err
	}
	flag, err := c.create("satsub-flag", KindBool, saturated, a, b)
	if err != nil {
		return types.ZeroHandle, types.ZeroHandle, err
	}
	return res, flag, nil
}

// Le returns an encrypted boolean holding a <= b.
func (c *Coprocessor) Le(a, b types.Handle) (types.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, err := c.loadKind(a, KindUint64)
	if err != nil {
		return types.ZeroHandle, err
	}
	y, err := c.loadKind(b, KindUint64)
	if err != nil {
		return types.ZeroHandle, err
	}
	var flag uint64
	if x <= y {
		flag = 1
	}
	return c.create("le", KindBool, flag, a, b)
}

// Select returns a fresh ciphertext equal to ifTrue when flag holds and to
// ifFalse otherwise. A new handle is always produced so the result does not
// reveal which branch was taken.
func (c *Coprocessor) Select(flag, ifTrue, ifFalse types.Handle) (types.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cond, err := c.loadKind(flag, KindBool)
	if err != nil {
		return types.ZeroHandle, err
	}
	x, err := c.loadKind(ifTrue, KindUint64)
	if err != nil {
		return types.ZeroHandle, err
	}
	y, err := c.loadKind(ifFalse, KindUint64)
	if err != nil {
		return types.ZeroHandle, err
	}
	out := y
	if cond == 1 {
		out = x
	}
	return c.create("select", KindUint64, out, flag, ifTrue, ifFalse)
}

func (c *Coprocessor) update(h types.Handle, fn func(rec *record)) error {
	if h.IsZero() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.load(h)
	if err != nil {
		return err
	}
	fn(rec)
	if err := c.store.KVPut(recordKey(h), rec); err != nil {
		return fmt.Errorf("fhe: store ciphertext: %w", err)
	}
	return nil
}

// Allow grants principal access to h. Granting twice is a no-op.
func (c *Coprocessor) Allow(h types.Handle, principal [20]byte) error {
	return c.update(h, func(rec *record) {
		if !rec.allowed(principal) {
			rec.ACL = append(rec.ACL, principal)
		}
	})
}

// IsAllowed reports whether principal may use h. The zero handle is an
// encrypted zero and usable by anyone.
func (c *Coprocessor) IsAllowed(h types.Handle, principal [20]byte) (bool, error) {
	if h.IsZero() {
		return true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.load(h)
	if err != nil {
		if errors.Is(err, ErrUnknownHandle) {
			return false, nil
		}
		return false, err
	}
	return rec.allowed(principal), nil
}

// MakePubliclyDecryptable marks h so the oracle will disclose it.
func (c *Coprocessor) MakePubliclyDecryptable(h types.Handle) error {
	if h.IsZero() {
		return fmt.Errorf("%w: zero handle", ErrUnknownHandle)
	}
	return c.update(h, func(rec *record) { rec.Public = true })
}

// IsPubliclyDecryptable reports whether h has been marked for disclosure.
func (c *Coprocessor) IsPubliclyDecryptable(h types.Handle) (bool, error) {
	if h.IsZero() {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.load(h)
	if err != nil {
		return false, err
	}
	return rec.Public, nil
}

// Decrypt opens h for principal, which must hold an ACL grant.
func (c *Coprocessor) Decrypt(h types.Handle, principal [20]byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.load(h)
	if err != nil {
		return 0, err
	}
	if !h.IsZero() && !rec.allowed(principal) {
		return 0, ErrNotAllowed
	}
	return rec.Value, nil
}

// PublicValue opens h if and only if it is publicly decryptable.
func (c *Coprocessor) PublicValue(h types.Handle) (uint64, error) {
	if h.IsZero() {
		return 0, ErrNotPublic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.load(h)
	if err != nil {
		return 0, err
	}
	if !rec.Public {
		return 0, ErrNotPublic
	}
	return rec.Value, nil
}

// VerifyDecryptionProof checks that proof is the oracle's signature binding
// cleartext to h. The handle must be publicly decryptable. Any failure rejects.
func (c *Coprocessor) VerifyDecryptionProof(h types.Handle, cleartext uint64, proof []byte) error {
	public, err := c.IsPubliclyDecryptable(h)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !public {
		return fmt.Errorf("%w: %v", ErrInvalidProof, ErrNotPublic)
	}
	signer, err := crypto.RecoverAddress(DecryptionDigest(h, cleartext), proof)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if signer.Raw() != c.oracle {
		return fmt.Errorf("%w: unexpected signer %s", ErrInvalidProof, signer)
	}
	return nil
}
