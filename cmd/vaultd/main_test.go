package main

import (
	"errors"
	"path/filepath"
	"testing"
)

func fixedPass(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func TestLoadOracleKeyCreatesInDev(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.keystore")
	created, err := loadOracleKey(path, true, fixedPass("pass"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	loaded, err := loadOracleKey(path, false, fixedPass("pass"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !created.PubKey().Address().Equal(loaded.PubKey().Address()) {
		t.Fatalf("reloaded key differs")
	}
	if _, err := loadOracleKey(path, false, fixedPass("wrong")); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestLoadOracleKeyRequiresKeystoreOutsideDev(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.keystore")
	if _, err := loadOracleKey(path, false, fixedPass("pass")); err == nil {
		t.Fatalf("expected missing keystore to fail")
	}
}

func TestLoadOracleKeyPropagatesPassphraseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.keystore")
	boom := errors.New("no tty")
	if _, err := loadOracleKey(path, true, func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected passphrase error, got %v", err)
	}
}
