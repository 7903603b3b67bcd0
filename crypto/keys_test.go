package crypto

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x11}, AddressLength)
	addr := MustNewAddress(AccountPrefix, raw)
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s vs %s", decoded, addr)
	}
	if decoded.Prefix() != AccountPrefix {
		t.Fatalf("unexpected prefix %q", decoded.Prefix())
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	raw := bytes.Repeat([]byte{0x22}, AddressLength)
	foreign := MustNewAddress(AddressPrefix("nhb"), raw)
	if _, err := DecodeAddress(foreign.String()); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
}

func TestNewAddressLength(t *testing.T) {
	if _, err := NewAddress(AccountPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short address to fail")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	if !ModuleAddress("vault").Equal(ModuleAddress("vault")) {
		t.Fatalf("module address must be deterministic")
	}
	if ModuleAddress("vault").Equal(ModuleAddress("ctoken")) {
		t.Fatalf("distinct modules must not collide")
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := Keccak256([]byte("payload"))
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !recovered.Equal(key.PubKey().Address()) {
		t.Fatalf("recovered %s, want %s", recovered, key.PubKey().Address())
	}
	if _, err := RecoverAddress(digest, sig[:10]); err == nil {
		t.Fatalf("expected short signature to fail")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "oracle.keystore")
	if err := SaveToKeystore(path, key, "secret", false); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveToKeystore(path, key, "secret", false); err == nil {
		t.Fatalf("expected existing keystore to be protected")
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
