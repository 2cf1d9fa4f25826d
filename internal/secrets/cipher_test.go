package secrets

import (
	"errors"
	"testing"

	"github.com/beaconmesh/beacon/internal/core"
)

func testCipher(t *testing.T, passphrase string) *Cipher {
	t.Helper()
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	c, err := NewCipher(passphrase, salt)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestSealOpen_RoundTrip(t *testing.T) {
	c := testCipher(t, "correct horse battery staple")

	sealed, err := c.Seal([]byte("bearer-token-xyz"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "bearer-token-xyz" {
		t.Fatal("sealed value must not equal plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "bearer-token-xyz" {
		t.Errorf("round trip = %q, want original plaintext", opened)
	}
}

func TestSeal_NoncesDiffer(t *testing.T) {
	c := testCipher(t, "pass")

	a, err := c.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := c.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if a == b {
		t.Error("sealing the same plaintext twice must produce different ciphertexts")
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	right, err := NewCipher("right", salt)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	wrong, err := NewCipher("wrong", salt)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	sealed, err := right.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := wrong.Open(sealed); !errors.Is(err, core.ErrDecryptionFailed) {
		t.Errorf("Open with wrong passphrase: err = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpen_GarbageInput(t *testing.T) {
	c := testCipher(t, "pass")

	if _, err := c.Open("not base64 at all!!!"); err == nil {
		t.Error("expected error for non-base64 input")
	}
	if _, err := c.Open("c2hvcnQ="); !errors.Is(err, core.ErrDecryptionFailed) {
		t.Errorf("short sealed input: err = %v, want ErrDecryptionFailed", err)
	}
}

func TestNewCipher_EmptyPassphrase(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if _, err := NewCipher("", salt); !errors.Is(err, core.ErrLocked) {
		t.Errorf("empty passphrase: err = %v, want ErrLocked", err)
	}
}

func TestWipe_LocksCipher(t *testing.T) {
	c := testCipher(t, "pass")
	c.Wipe()

	if _, err := c.Seal([]byte("x")); !errors.Is(err, core.ErrLocked) {
		t.Errorf("Seal after Wipe: err = %v, want ErrLocked", err)
	}
	if _, err := c.Open("anything"); !errors.Is(err, core.ErrLocked) {
		t.Errorf("Open after Wipe: err = %v, want ErrLocked", err)
	}
}
