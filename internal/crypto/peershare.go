package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var ErrInvalidPeerKey = errors.New("invalid peer key")

const hkdfInfoPeerShare = "peer-share"

// SharedEnvelope carries a payload encrypted for exactly one
// recipient. The ephemeral public key is all the recipient needs to
// recompute the shared secret.
type SharedEnvelope struct {
	EphemeralPublicKey []byte        `json:"ephemeral_public_key"`
	Blob               EncryptedBlob `json:"blob"`
}

// SealFor encrypts payload for the holder of recipientPub using an
// ephemeral X25519 key agreement. The envelope does not bind
// senderPriv, so recipients cannot verify who sealed it; treat sender
// identity as untrusted metadata.
func SealFor(payload, recipientPub, senderPriv []byte) (SharedEnvelope, error) {
	if len(recipientPub) != 32 {
		return SharedEnvelope{}, ErrInvalidPeerKey
	}
	_ = senderPriv

	ephPriv := make([]byte, 32)
	if _, err := rand.Read(ephPriv); err != nil {
		return SharedEnvelope{}, err
	}
	defer zeroBytes(ephPriv)

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return SharedEnvelope{}, err
	}
	key, err := sharedKey(ephPriv, recipientPub)
	if err != nil {
		return SharedEnvelope{}, err
	}
	defer zeroBytes(key)

	blob, err := Seal(payload, key)
	if err != nil {
		return SharedEnvelope{}, err
	}
	return SharedEnvelope{EphemeralPublicKey: ephPub, Blob: blob}, nil
}

// OpenFrom decrypts a SharedEnvelope addressed to recipientPriv.
func OpenFrom(ephemeralPub []byte, blob EncryptedBlob, recipientPriv []byte) ([]byte, error) {
	if len(ephemeralPub) != 32 {
		return nil, ErrInvalidPeerKey
	}
	key, err := sharedKey(recipientPriv, ephemeralPub)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)
	return Open(blob, key)
}

func sharedKey(priv, pub []byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, ErrInvalidPeerKey
	}
	defer zeroBytes(shared)
	return kdf32(shared, []byte(hkdfInfoPeerShare)), nil
}

func kdf32(input, info []byte) []byte {
	reader := hkdf.New(sha256.New, input, nil, info)
	out := make([]byte, 32)
	_, _ = io.ReadFull(reader, out)
	return out
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
