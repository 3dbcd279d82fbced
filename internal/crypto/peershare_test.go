package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func testX25519Pair(t *testing.T) (priv, pub []byte) {
	t.Helper()
	priv = make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("public key derivation failed: %v", err)
	}
	return priv, pub
}

func TestSealForOpenFromRoundTrip(t *testing.T) {
	senderPriv, _ := testX25519Pair(t)
	recipientPriv, recipientPub := testX25519Pair(t)

	env, err := SealFor([]byte("shared note"), recipientPub, senderPriv)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if len(env.EphemeralPublicKey) != 32 {
		t.Fatalf("unexpected ephemeral key size: %d", len(env.EphemeralPublicKey))
	}
	plain, err := OpenFrom(env.EphemeralPublicKey, env.Blob, recipientPriv)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(plain, []byte("shared note")) {
		t.Fatalf("unexpected plaintext: %q", plain)
	}
}

func TestOpenFromWrongRecipient(t *testing.T) {
	senderPriv, _ := testX25519Pair(t)
	_, recipientPub := testX25519Pair(t)
	otherPriv, _ := testX25519Pair(t)

	env, err := SealFor([]byte("shared note"), recipientPub, senderPriv)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := OpenFrom(env.EphemeralPublicKey, env.Blob, otherPriv); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestSealForRejectsBadRecipientKey(t *testing.T) {
	senderPriv, _ := testX25519Pair(t)
	if _, err := SealFor([]byte("x"), []byte("short"), senderPriv); !errors.Is(err, ErrInvalidPeerKey) {
		t.Fatalf("expected ErrInvalidPeerKey, got %v", err)
	}
}

func TestSealForFreshEphemeralKeys(t *testing.T) {
	senderPriv, _ := testX25519Pair(t)
	_, recipientPub := testX25519Pair(t)

	e1, err := SealFor([]byte("x"), recipientPub, senderPriv)
	if err != nil {
		t.Fatalf("seal 1 failed: %v", err)
	}
	e2, err := SealFor([]byte("x"), recipientPub, senderPriv)
	if err != nil {
		t.Fatalf("seal 2 failed: %v", err)
	}
	if bytes.Equal(e1.EphemeralPublicKey, e2.EphemeralPublicKey) {
		t.Fatal("ephemeral keys must be fresh per envelope")
	}
}
