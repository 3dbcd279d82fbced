package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// HKDF info labels. Compatibility-critical: changing any of these
// changes every key derived from existing mnemonics.
const (
	hkdfInfoIdentity   = "identity"
	hkdfInfoEncryption = "encryption"
	hkdfInfoLocalVault = "local-vault"
)

const accountIDPrefix = "mlp1"

// DeriveKeyBundle deterministically derives the full key bundle from a
// mnemonic. Same mnemonic, same bundle, on any device.
func DeriveKeyBundle(mnemonic string) (*KeyBundle, error) {
	normalized := NormalizeMnemonic(mnemonic)
	if normalized == "" {
		return nil, ErrMnemonicRequired
	}
	if !ValidateMnemonic(normalized) {
		return nil, ErrInvalidMnemonic
	}

	// Empty passphrase is part of the derivation contract.
	seed := bip39.NewSeed(normalized, "")
	defer zeroBytes(seed)

	signingSeed, err := hkdfExpand(seed, hkdfInfoIdentity, 32)
	if err != nil {
		return nil, err
	}
	encryptionPriv, err := hkdfExpand(seed, hkdfInfoEncryption, 32)
	if err != nil {
		return nil, err
	}
	localKey, err := hkdfExpand(seed, hkdfInfoLocalVault, 32)
	if err != nil {
		return nil, err
	}

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	zeroBytes(signingSeed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)

	encryptionPub, err := curve25519.X25519(encryptionPriv, curve25519.Basepoint)
	if err != nil {
		zeroBytes(encryptionPriv)
		return nil, fmt.Errorf("derive encryption public key: %w", err)
	}

	return &KeyBundle{
		Identity: KeyPair{
			PublicKey:  append([]byte(nil), signingPub...),
			PrivateKey: append([]byte(nil), signingPriv...),
		},
		Encryption: KeyPair{
			PublicKey:  encryptionPub,
			PrivateKey: encryptionPriv,
		},
		LocalKey: localKey,
	}, nil
}

// AccountID builds the public account identifier for a signing key.
func AccountID(signingPublicKey []byte) (string, error) {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid signing public key size: %d", len(signingPublicKey))
	}
	h := blake2b.Sum256(signingPublicKey)
	return accountIDPrefix + base58.Encode(h[:]), nil
}

// VerifyAccountID reports whether id matches the given signing key.
func VerifyAccountID(id string, signingPublicKey []byte) (bool, error) {
	expected, err := AccountID(signingPublicKey)
	if err != nil {
		return false, err
	}
	return id == expected, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
