package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HandleLength is the byte length of a ciphertext handle.
const HandleLength = 32

// Handle is an opaque reference to an encrypted unsigned 64-bit integer held by
// the arithmetic coprocessor. Handles carry no arithmetic or ordering of their
// own; equality means identity of the ciphertext, never equality of the
// plaintexts.
type Handle [HandleLength]byte

// ZeroHandle is the unset handle. Reading an unset position yields it.
var ZeroHandle Handle

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool { return h == ZeroHandle }

// Hex renders the handle as 0x-prefixed lowercase hex.
func (h Handle) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Handle) String() string { return h.Hex() }

// Bytes returns a copy of the handle bytes.
func (h Handle) Bytes() []byte {
	out := make([]byte, HandleLength)
	copy(out, h[:])
	return out
}

// MarshalText implements encoding.TextMarshaler so handles serialise as hex.
func (h Handle) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHandle decodes a 0x-prefixed (or bare) hex handle.
func ParseHandle(value string) (Handle, error) {
	var h Handle
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != HandleLength*2 {
		return h, fmt.Errorf("handle must be %d bytes (got %d hex chars)", HandleLength, len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return h, fmt.Errorf("decode handle: %w", err)
	}
	copy(h[:], decoded)
	return h, nil
}

// HandleFromBytes copies b into a handle.
func HandleFromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != HandleLength {
		return h, fmt.Errorf("handle must be %d bytes, got %d", HandleLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}
