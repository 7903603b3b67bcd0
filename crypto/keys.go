package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of a bech32 address.
type AddressPrefix string

const (
	// AccountPrefix is used for every account known to the ledger.
	AccountPrefix AddressPrefix = "clend"
)

// AddressLength is the raw byte length of an account address.
const AddressLength = 20

// Address represents a 20-byte account address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	cloned := make([]byte, AddressLength)
	copy(cloned, b)
	return Address{prefix: prefix, bytes: cloned}, nil
}

// MustNewAddress is NewAddress for inputs that are known to be well formed.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromRaw wraps a raw 20-byte array with the account prefix.
func AddressFromRaw(raw [AddressLength]byte) Address {
	return MustNewAddress(AccountPrefix, raw[:])
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Raw returns the address as a fixed-size array suitable for map keys.
func (a Address) Raw() [AddressLength]byte {
	var out [AddressLength]byte
	copy(out[:], a.bytes)
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares the raw bytes of two addresses, ignoring the prefix.
func (a Address) Equal(other Address) bool {
	return a.Raw() == other.Raw() && len(a.bytes) == len(other.bytes)
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if AddressPrefix(prefix) != AccountPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ModuleAddress derives the deterministic address of a named module account.
func ModuleAddress(name string) Address {
	digest := crypto.Keccak256([]byte("module:" + name))
	return MustNewAddress(AccountPrefix, digest[len(digest)-AddressLength:])
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable secp256k1 signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewAddress(AccountPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// RecoverAddress returns the address of the key that produced sig over digest.
func RecoverAddress(digest, sig []byte) (Address, error) {
	if len(sig) != crypto.SignatureLength {
		return Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return Address{}, err
	}
	return (&PublicKey{pub}).Address(), nil
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}
