package identity

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// 24-word vector for 256 bits of zero entropy.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

func TestDeriveKeyBundleDeterministic(t *testing.T) {
	b1, err := DeriveKeyBundle(testMnemonic)
	if err != nil {
		t.Fatalf("derive 1 failed: %v", err)
	}
	b2, err := DeriveKeyBundle(testMnemonic)
	if err != nil {
		t.Fatalf("derive 2 failed: %v", err)
	}
	if !bytes.Equal(b1.Identity.PrivateKey, b2.Identity.PrivateKey) {
		t.Fatal("identity keys should be deterministic")
	}
	if !bytes.Equal(b1.Encryption.PrivateKey, b2.Encryption.PrivateKey) {
		t.Fatal("encryption keys should be deterministic")
	}
	if !bytes.Equal(b1.LocalKey, b2.LocalKey) {
		t.Fatal("local keys should be deterministic")
	}
}

func TestDeriveKeyBundleNormalizesInput(t *testing.T) {
	messy := "  " + strings.ToUpper(testMnemonic) + "\n"
	messy = strings.ReplaceAll(messy, " ART", "   ART ")
	b1, err := DeriveKeyBundle(testMnemonic)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	b2, err := DeriveKeyBundle(messy)
	if err != nil {
		t.Fatalf("derive messy failed: %v", err)
	}
	if !bytes.Equal(b1.LocalKey, b2.LocalKey) {
		t.Fatal("whitespace and case should not change derivation")
	}
}

func TestDeriveKeyBundleDistinctContexts(t *testing.T) {
	b, err := DeriveKeyBundle(testMnemonic)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if bytes.Equal(b.Encryption.PrivateKey, b.LocalKey) {
		t.Fatal("encryption key and local key must differ")
	}
	if bytes.Equal(b.Identity.PrivateKey[:32], b.Encryption.PrivateKey) {
		t.Fatal("identity seed and encryption key must differ")
	}
}

func TestDeriveKeyBundleRejectsInvalidMnemonic(t *testing.T) {
	if _, err := DeriveKeyBundle("definitely not a mnemonic"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
	if _, err := DeriveKeyBundle("   "); !errors.Is(err, ErrMnemonicRequired) {
		t.Fatalf("expected ErrMnemonicRequired, got %v", err)
	}
}

func TestAccountIDStableAndVerifiable(t *testing.T) {
	b, err := DeriveKeyBundle(testMnemonic)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	id, err := AccountID(b.Identity.PublicKey)
	if err != nil {
		t.Fatalf("account id failed: %v", err)
	}
	if !strings.HasPrefix(id, "mlp1") {
		t.Fatalf("unexpected prefix: %q", id)
	}
	ok, err := VerifyAccountID(id, b.Identity.PublicKey)
	if err != nil || !ok {
		t.Fatalf("expected id to verify, ok=%v err=%v", ok, err)
	}
	ok, err = VerifyAccountID("mlp1bogus", b.Identity.PublicKey)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestKeyBundleZero(t *testing.T) {
	b, err := DeriveKeyBundle(testMnemonic)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	b.Zero()
	for _, key := range [][]byte{b.Identity.PrivateKey, b.Encryption.PrivateKey, b.LocalKey} {
		for _, v := range key {
			if v != 0 {
				t.Fatal("private material should be wiped")
			}
		}
	}
}
