package passphrase

import "testing"

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("CLEND_TEST_PASSPHRASE", "correct horse")
	src := NewSource("CLEND_TEST_PASSPHRASE", "oracle keystore")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("passphrase = %q", got)
	}
	t.Setenv("CLEND_TEST_PASSPHRASE", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached value, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("CLEND_TEST_PASSPHRASE", "   ")
	if _, err := NewSource("CLEND_TEST_PASSPHRASE", "").Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}
