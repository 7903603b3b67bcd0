package fhe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"cipherlend/core/types"
	"cipherlend/crypto"
)

const decryptionDomain = "cipherlend.decryption"

// DecryptionDigest is the message the oracle signs to attest that cleartext
// opens h.
func DecryptionDigest(h types.Handle, cleartext uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cleartext)
	return crypto.Keccak256([]byte(decryptionDomain), h[:], buf[:])
}

// PublicSource exposes the cleartext behind publicly decryptable handles.
type PublicSource interface {
	PublicValue(h types.Handle) (uint64, error)
}

// Oracle discloses publicly decryptable handles together with a signature
// proving the disclosed value.
type Oracle struct {
	key    *crypto.PrivateKey
	source PublicSource
}

// NewOracle binds the signing key to the ciphertext source.
func NewOracle(key *crypto.PrivateKey, source PublicSource) (*Oracle, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("fhe: oracle key required")
	}
	if source == nil {
		return nil, errors.New("fhe: oracle source required")
	}
	return &Oracle{key: key, source: source}, nil
}

// Address returns the address proofs are verified against.
func (o *Oracle) Address() crypto.Address {
	return o.key.PubKey().Address()
}

// PublicDecrypt returns the cleartext behind h and the proof binding it.
func (o *Oracle) PublicDecrypt(h types.Handle) (uint64, []byte, error) {
	value, err := o.source.PublicValue(h)
	if err != nil {
		return 0, nil, err
	}
	proof, err := o.key.Sign(DecryptionDigest(h, value))
	if err != nil {
		return 0, nil, fmt.Errorf("fhe: sign disclosure: %w", err)
	}
	return value, proof, nil
}
