package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey           = errors.New("invalid key")
	ErrUnsupportedVersion   = errors.New("unsupported blob version")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

const (
	// BlobVersion tags every freshly sealed blob. Readers reject
	// anything else instead of guessing.
	BlobVersion = 1

	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
)

// EncryptedBlob is the wire form of an AEAD-sealed payload. Byte
// fields marshal to base64 strings under encoding/json.
type EncryptedBlob struct {
	Version    uint8  `json:"version"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts plaintext with ChaCha20-Poly1305 under a fresh random
// 96-bit nonce.
func Seal(plaintext, key []byte) (EncryptedBlob, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return EncryptedBlob{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedBlob{}, err
	}
	return EncryptedBlob{
		Version:    BlobVersion,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open decrypts a sealed blob. A wrong key, a flipped bit, or a
// truncated ciphertext all surface as ErrAuthenticationFailed; callers
// get no hint which one it was.
func Open(blob EncryptedBlob, key []byte) ([]byte, error) {
	if blob.Version != BlobVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, blob.Version)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(blob.Nonce) != NonceSize {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidKey, len(key))
	}
	return chacha20poly1305.New(key)
}
