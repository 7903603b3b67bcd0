// Package genesis loads the initial base-asset allocation of a fresh ledger.
package genesis

import (
	"fmt"
	"math"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"cipherlend/crypto"
)

// Spec is the on-disk genesis document.
type Spec struct {
	Alloc []AllocSpec `toml:"alloc"`
}

// AllocSpec credits Balance base-asset units to Address.
type AllocSpec struct {
	Address string `toml:"address"`
	Balance string `toml:"balance"`
}

// Allocation is a validated AllocSpec.
type Allocation struct {
	Account [20]byte
	Amount  *big.Int
}

// LoadSpec decodes the TOML genesis file at path.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseSpec(string(data))
}

// ParseSpec decodes a TOML genesis document.
func ParseSpec(raw string) (*Spec, error) {
	var spec Spec
	meta, err := toml.Decode(raw, &spec)
	if err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode genesis: unknown key %q", undecoded[0].String())
	}
	return &spec, nil
}

// Allocations validates every entry. Addresses must be unique and the total
// supply must fit the ciphertext range so encrypted stakes cannot wrap.
func (s *Spec) Allocations() ([]Allocation, error) {
	if s == nil {
		return nil, nil
	}
	seen := make(map[[20]byte]struct{}, len(s.Alloc))
	total := new(big.Int)
	limit := new(big.Int).SetUint64(math.MaxUint64)
	out := make([]Allocation, 0, len(s.Alloc))
	for i, entry := range s.Alloc {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(entry.Address))
		if err != nil {
			return nil, fmt.Errorf("alloc[%d]: %w", i, err)
		}
		account := addr.Raw()
		if _, dup := seen[account]; dup {
			return nil, fmt.Errorf("alloc[%d]: duplicate address %s", i, addr)
		}
		seen[account] = struct{}{}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Balance), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("alloc[%d]: invalid balance %q", i, entry.Balance)
		}
		total.Add(total, amount)
		if total.Cmp(limit) > 0 {
			return nil, fmt.Errorf("alloc[%d]: total supply exceeds %s", i, limit)
		}
		out = append(out, Allocation{Account: account, Amount: amount})
	}
	return out, nil
}
